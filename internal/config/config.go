package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Estimator EstimatorConfig `mapstructure:"estimator"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SourceConfig holds case-count acquisition configuration
type SourceConfig struct {
	URL            string        `mapstructure:"url"`
	DateColumn     string        `mapstructure:"date_column"`
	RegionColumn   string        `mapstructure:"region_column"`
	CasesColumn    string        `mapstructure:"cases_column"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	ExcludeRegions []string      `mapstructure:"exclude_regions"`
}

// EstimatorConfig holds the R(t) estimation parameters
type EstimatorConfig struct {
	RMax             float64 `mapstructure:"r_max"`
	GridStep         float64 `mapstructure:"grid_step"`
	Gamma            float64 `mapstructure:"gamma"`
	SmoothWindow     int     `mapstructure:"smooth_window"`
	SmoothSigma      float64 `mapstructure:"smooth_sigma"`
	LikelihoodWindow int     `mapstructure:"likelihood_window"`
	CredMass         float64 `mapstructure:"cred_mass"`
	MaxParallel      int     `mapstructure:"max_parallel"`
}

// StorageConfig holds database, state file and export configuration
type StorageConfig struct {
	DBPath    string `mapstructure:"db_path"`
	StatePath string `mapstructure:"state_path"`
	DataDir   string `mapstructure:"data_dir"`
	ExportCSV bool   `mapstructure:"export_csv"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	TopN           int           `mapstructure:"top_n"`
	ChartRegion    string        `mapstructure:"chart_region"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ServerConfig holds the HTTP status API configuration
type ServerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("RTWATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.url", "https://raw.githubusercontent.com/nytimes/covid-19-data/master/us-states.csv")
	v.SetDefault("source.date_column", "date")
	v.SetDefault("source.region_column", "state")
	v.SetDefault("source.cases_column", "cases")
	v.SetDefault("source.poll_interval", "6h")
	v.SetDefault("source.timeout", "60s")
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.exclude_regions", []string{
		"Virgin Islands",
		"American Samoa",
		"Northern Mariana Islands",
		"Guam",
		"Puerto Rico",
	})

	// Estimator defaults
	v.SetDefault("estimator.r_max", 12.0)
	v.SetDefault("estimator.grid_step", 0.01)
	v.SetDefault("estimator.gamma", 0.25)
	v.SetDefault("estimator.smooth_window", 7)
	v.SetDefault("estimator.smooth_sigma", 2.0)
	v.SetDefault("estimator.likelihood_window", 7)
	v.SetDefault("estimator.cred_mass", 0.95)
	v.SetDefault("estimator.max_parallel", 4)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/rtwatch.db")
	v.SetDefault("storage.state_path", "./data/state.json")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.export_csv", true)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.top_n", 10)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen_addr", ":8080")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Source config
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if c.Source.DateColumn == "" || c.Source.RegionColumn == "" || c.Source.CasesColumn == "" {
		return fmt.Errorf("source.date_column, source.region_column and source.cases_column are required")
	}
	if c.Source.PollInterval < 1*time.Minute {
		return fmt.Errorf("source.poll_interval must be at least 1 minute")
	}
	if c.Source.Timeout < 1*time.Second {
		return fmt.Errorf("source.timeout must be at least 1 second")
	}
	if c.Source.MaxRetries < 1 {
		return fmt.Errorf("source.max_retries must be at least 1")
	}

	// Validate Estimator config
	if c.Estimator.RMax <= 0 {
		return fmt.Errorf("estimator.r_max must be positive")
	}
	if c.Estimator.GridStep <= 0 || c.Estimator.GridStep > c.Estimator.RMax {
		return fmt.Errorf("estimator.grid_step must be positive and at most r_max")
	}
	if c.Estimator.Gamma <= 0 {
		return fmt.Errorf("estimator.gamma must be positive")
	}
	if c.Estimator.SmoothWindow < 1 {
		return fmt.Errorf("estimator.smooth_window must be at least 1")
	}
	if c.Estimator.SmoothSigma <= 0 {
		return fmt.Errorf("estimator.smooth_sigma must be positive")
	}
	if c.Estimator.LikelihoodWindow < 1 {
		return fmt.Errorf("estimator.likelihood_window must be at least 1")
	}
	if c.Estimator.CredMass <= 0 || c.Estimator.CredMass >= 1 {
		return fmt.Errorf("estimator.cred_mass must be between 0 and 1 exclusive")
	}
	if c.Estimator.MaxParallel < 1 {
		return fmt.Errorf("estimator.max_parallel must be at least 1")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.StatePath == "" {
		return fmt.Errorf("storage.state_path is required")
	}
	if c.Storage.ExportCSV && c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required when csv export is enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.TopN < 1 {
			return fmt.Errorf("telegram.top_n must be at least 1")
		}
	}

	// Validate Server config
	if c.Server.Enabled && c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required when the server is enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
