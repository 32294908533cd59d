// Package export writes the estimate table and raw source backups as CSV
// artifacts. All writes are atomic: temp file in the target directory, then
// rename.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/epimetrics/rtwatch/internal/models"
)

// backupStamp is the filename timestamp for backup artifacts.
const backupStamp = "20060102150405"

// WriteEstimates writes estimates to path with header region,date,mode,low,high.
func WriteEstimates(path string, estimates []models.Estimate) error {
	rows := make([][]string, 0, len(estimates)+1)
	rows = append(rows, []string{"region", "date", "mode", "low", "high"})
	for _, e := range estimates {
		rows = append(rows, []string{
			e.Region,
			e.Date.Format(models.DateLayout),
			strconv.FormatFloat(e.Mode, 'f', 2, 64),
			strconv.FormatFloat(e.Low, 'f', 2, 64),
			strconv.FormatFloat(e.High, 'f', 2, 64),
		})
	}
	return writeCSV(path, rows)
}

// WriteLatest writes the current table to latest_estimates.csv in dataDir
// plus a timestamped backup, and returns both paths.
func WriteLatest(dataDir string, estimates []models.Estimate, now time.Time) (latest, backup string, err error) {
	latest = filepath.Join(dataDir, "latest_estimates.csv")
	if err = WriteEstimates(latest, estimates); err != nil {
		return "", "", err
	}

	backup = filepath.Join(dataDir, "backups", fmt.Sprintf("estimates_%s.csv", now.UTC().Format(backupStamp)))
	if err = WriteEstimates(backup, estimates); err != nil {
		return "", "", err
	}
	return latest, backup, nil
}

// WriteRawBackup stores the raw source bytes under raw_backups with a
// timestamped name and returns the path.
func WriteRawBackup(dataDir string, raw []byte, now time.Time) (string, error) {
	path := filepath.Join(dataDir, "raw_backups", fmt.Sprintf("raw_%s.csv", now.UTC().Format(backupStamp)))
	if err := writeFileAtomic(path, raw); err != nil {
		return "", err
	}
	return path, nil
}

func writeCSV(path string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp export file: %w", err)
	}
	tmpName := tmp.Name()

	writer := csv.NewWriter(tmp)
	if err := writer.WriteAll(rows); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp export file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace export file: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp backup file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp backup file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace backup file: %w", err)
	}
	return nil
}
