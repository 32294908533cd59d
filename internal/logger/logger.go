// Package logger provides leveled logging shared by the rtwatch daemon and
// its command-line tools. It wraps the standard log package with level
// filtering so verbose estimator output can be silenced in production.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	// DebugLevel logs per-region estimator internals and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs recoverable oddities such as skipped regions or malformed source rows.
	WarnLevel
	// ErrorLevel logs are high-priority. A healthy run shouldn't generate any.
	ErrorLevel
)

func (l Level) prefix() string {
	switch l {
	case DebugLevel:
		return "[DEBUG]"
	case WarnLevel:
		return "[WARN]"
	case ErrorLevel:
		return "[ERROR]"
	default:
		return "[INFO]"
	}
}

// ParseLevel maps a config string to a Level, defaulting to InfoLevel.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger filters messages below its level before handing them to the
// underlying standard logger.
type Logger struct {
	level  Level
	logger *log.Logger
}

var defaultLogger *Logger

// Init initializes the package-level logger. format "text" adds the caller
// file and line to each entry; anything else keeps timestamps only.
func Init(level string, format string) {
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}

	defaultLogger = &Logger{
		level:  ParseLevel(level),
		logger: log.New(os.Stderr, "", flags),
	}
}

func emit(l Level, format string, args ...interface{}) {
	if defaultLogger == nil || defaultLogger.level > l {
		return
	}
	msg := fmt.Sprintf(l.prefix()+" "+format, args...)
	// Call depth 3 skips emit and the exported wrapper so Lshortfile
	// points at the caller.
	_ = defaultLogger.logger.Output(3, msg)
}

// Debug logs a message at DebugLevel.
func Debug(format string, args ...interface{}) {
	emit(DebugLevel, format, args...)
}

// Info logs a message at InfoLevel.
func Info(format string, args ...interface{}) {
	emit(InfoLevel, format, args...)
}

// Warn logs a message at WarnLevel.
func Warn(format string, args ...interface{}) {
	emit(WarnLevel, format, args...)
}

// Error logs a message at ErrorLevel.
func Error(format string, args ...interface{}) {
	emit(ErrorLevel, format, args...)
}

// Fatal logs a message and exits with status 1.
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf("[FATAL] "+format, args...)
	if defaultLogger != nil {
		_ = defaultLogger.logger.Output(2, msg)
	} else {
		log.Print(msg)
	}
	os.Exit(1)
}
