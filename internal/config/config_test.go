package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	doc := `
remote:
  base_url: https://api.example.com
  health_timeout: 1s
auth:
  refresh_threshold: 10m
sync:
  retry_backoff: 500ms
store:
  backend: redis
  redis_addr: localhost:6379
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.BaseURL != "https://api.example.com" {
		t.Fatalf("unexpected base URL %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.HealthTimeout.Std() != time.Second {
		t.Fatalf("unexpected health timeout %v", cfg.Remote.HealthTimeout.Std())
	}
	if cfg.Auth.RefreshThreshold.Std() != 10*time.Minute {
		t.Fatalf("unexpected refresh threshold %v", cfg.Auth.RefreshThreshold.Std())
	}
	if cfg.Sync.RetryBackoff.Std() != 500*time.Millisecond {
		t.Fatalf("unexpected retry backoff %v", cfg.Sync.RetryBackoff.Std())
	}
	// Fields absent from the document keep their defaults.
	if cfg.Sync.PendingCeiling.Std() != 30*time.Second {
		t.Fatalf("default pending ceiling lost: %v", cfg.Sync.PendingCeiling.Std())
	}
	if cfg.Store.Backend != "redis" || cfg.Store.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected store config %+v", cfg.Store)
	}
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing remote url", func(c *Config) { c.Remote.BaseURL = "" }, true},
		{"zero refresh threshold", func(c *Config) { c.Auth.RefreshThreshold = 0 }, true},
		{"zero pending ceiling", func(c *Config) { c.Sync.PendingCeiling = 0 }, true},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }, true},
		{"redis without addr", func(c *Config) { c.Store.Backend = "redis" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg := LoadOrDefault()
	if cfg == nil || cfg.Remote.BaseURL == "" {
		t.Fatalf("expected usable defaults, got %+v", cfg)
	}
}
