// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// Config captures every knob loaded from the config file and the
// EDGAR_-prefixed environment.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Fetcher FetcherConfig `mapstructure:"fetcher"`
	Storage StorageConfig `mapstructure:"storage"`
	Service ServiceConfig `mapstructure:"service"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the HTTP status/metrics server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// FetcherConfig governs the rate-limited archive client.
type FetcherConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxConcurrent    int    `mapstructure:"max_concurrent"`
	MinIntervalMs    int    `mapstructure:"min_interval_ms"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// Timeout returns the per-request budget.
func (c FetcherConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MinInterval returns the global spacing between request starts.
func (c FetcherConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}

// BackoffInitial returns the first retry delay.
func (c FetcherConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps the retry delay.
func (c FetcherConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// StorageConfig sets every on-disk location the pipeline writes to.
type StorageConfig struct {
	// BaseDir holds downloaded complete-submission payloads.
	BaseDir string `mapstructure:"base_dir"`
	// DataDir holds the embedded SQLite database.
	DataDir string `mapstructure:"data_dir"`
	// IndexPath is the columnar quarterly-index database file.
	IndexPath string `mapstructure:"index_path"`
	// TickerMapPath is the ticker-to-CIK reference file.
	TickerMapPath string `mapstructure:"ticker_map_path"`
}

// ServiceConfig tunes the filing facade.
type ServiceConfig struct {
	Workers         int `mapstructure:"workers"`
	ExtractTTLHours int `mapstructure:"extract_ttl_hours"`
}

// ExtractTTL bounds the decomposed-result cache.
func (c ServiceConfig) ExtractTTL() time.Duration {
	return time.Duration(c.ExtractTTLHours) * time.Hour
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment. path may be empty, in
// which case defaults and environment variables apply alone.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EDGAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetcher.user_agent", "")
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.max_concurrent", 5)
	v.SetDefault("fetcher.min_interval_ms", 150)
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.backoff_initial_ms", 500)
	v.SetDefault("fetcher.backoff_max_ms", 8000)
	v.SetDefault("storage.base_dir", "data/payloads")
	v.SetDefault("storage.data_dir", "data/db")
	v.SetDefault("storage.index_path", "data/index/filings.duckdb")
	v.SetDefault("storage.ticker_map_path", "data/company_tickers.json")
	v.SetDefault("service.workers", 5)
	v.SetDefault("service.extract_ttl_hours", 24)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. The user
// agent is checked here as well as in the fetcher so a bad config fails
// before any collaborator is built.
func (c Config) Validate() error {
	if c.Fetcher.UserAgent == "" {
		return &edgar.ConfigurationError{
			Field:       "fetcher.user_agent",
			Remediation: "set fetcher.user_agent to \"app-name contact@example.com\" in the config file or EDGAR_FETCHER_USER_AGENT",
		}
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Fetcher.MaxConcurrent <= 0 {
		return fmt.Errorf("fetcher.max_concurrent must be > 0")
	}
	if c.Fetcher.MinIntervalMs < 0 {
		return fmt.Errorf("fetcher.min_interval_ms must be >= 0")
	}
	if c.Service.Workers <= 0 {
		return fmt.Errorf("service.workers must be > 0")
	}
	if c.Storage.BaseDir == "" || c.Storage.DataDir == "" {
		return fmt.Errorf("storage.base_dir and storage.data_dir must be set")
	}
	return nil
}

// Ensure provisions every configured directory. It is idempotent and is
// the only place the pipeline creates directories outside the payload
// store; nothing is provisioned as a load side effect.
func (c Config) Ensure() error {
	dirs := []string{
		c.Storage.BaseDir,
		c.Storage.DataDir,
		filepath.Dir(c.Storage.IndexPath),
		filepath.Dir(c.Storage.TickerMapPath),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure directory %s: %w", dir, err)
		}
	}
	return nil
}
