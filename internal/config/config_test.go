package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
fetcher:
  user_agent: "edgarfetch test@example.com"
  timeout_seconds: 45
  max_concurrent: 3
  min_interval_ms: 200
  max_retries: 4
  backoff_initial_ms: 100
  backoff_max_ms: 500
storage:
  base_dir: /tmp/payloads
  data_dir: /tmp/db
  index_path: /tmp/index/filings.duckdb
  ticker_map_path: /tmp/company_tickers.json
service:
  workers: 8
  extract_ttl_hours: 6
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Fetcher.UserAgent != "edgarfetch test@example.com" {
		t.Fatalf("expected user agent override, got %q", cfg.Fetcher.UserAgent)
	}
	if got := cfg.Fetcher.Timeout(); got != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %v", got)
	}
	if got := cfg.Fetcher.MinInterval(); got != 200*time.Millisecond {
		t.Fatalf("expected min interval 200ms, got %v", got)
	}
	if cfg.Service.Workers != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.Service.Workers)
	}
	if got := cfg.Service.ExtractTTL(); got != 6*time.Hour {
		t.Fatalf("expected extract TTL 6h, got %v", got)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
fetcher:
  user_agent: "edgarfetch test@example.com"
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Fetcher.MaxConcurrent != 5 || cfg.Service.Workers != 5 {
		t.Fatalf("expected default concurrency bounds, got %+v", cfg)
	}
	if cfg.Storage.BaseDir != "data/payloads" {
		t.Fatalf("expected default payload dir, got %q", cfg.Storage.BaseDir)
	}
}

func TestLoadRejectsMissingUserAgent(t *testing.T) {
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "fetcher.user_agent") {
		t.Fatalf("expected user agent configuration error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Fetcher: FetcherConfig{UserAgent: "edgarfetch test@example.com", TimeoutSeconds: 30, MaxConcurrent: 5},
		Storage: StorageConfig{BaseDir: "data/payloads", DataDir: "data/db"},
		Service: ServiceConfig{Workers: 5},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing user agent",
			cfg: func() Config {
				c := base
				c.Fetcher.UserAgent = ""
				return c
			}(),
			want: "fetcher.user_agent",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.Fetcher.TimeoutSeconds = 0
				return c
			}(),
			want: "fetcher.timeout_seconds",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Service.Workers = 0
				return c
			}(),
			want: "service.workers",
		},
		{
			name: "missing storage dirs",
			cfg: func() Config {
				c := base
				c.Storage.DataDir = ""
				return c
			}(),
			want: "storage",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := Config{
		Storage: StorageConfig{
			BaseDir:       filepath.Join(dir, "payloads"),
			DataDir:       filepath.Join(dir, "db"),
			IndexPath:     filepath.Join(dir, "index", "filings.duckdb"),
			TickerMapPath: filepath.Join(dir, "company_tickers.json"),
		},
	}
	if err := cfg.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if err := cfg.Ensure(); err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	for _, p := range []string{cfg.Storage.BaseDir, cfg.Storage.DataDir, filepath.Join(dir, "index")} {
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", p, err)
		}
	}
}
