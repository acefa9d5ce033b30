// Package config loads the client core configuration from config/client.yaml
// with sane defaults for every knob.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "5m" parse naturally.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RemoteConfig configures the remote authority client.
type RemoteConfig struct {
	BaseURL        string   `yaml:"base_url"`
	HealthTimeout  Duration `yaml:"health_timeout"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// AuthConfig configures the credential provider client.
type AuthConfig struct {
	BaseURL          string   `yaml:"base_url"`
	RequestTimeout   Duration `yaml:"request_timeout"`
	RefreshThreshold Duration `yaml:"refresh_threshold"`
	MonitorSchedule  string   `yaml:"monitor_schedule"`
}

// SyncConfig configures the optimistic sync engine.
type SyncConfig struct {
	RetryBackoff   Duration `yaml:"retry_backoff"`
	PendingCeiling Duration `yaml:"pending_ceiling"`
	ReaperSchedule string   `yaml:"reaper_schedule"`
}

// StoreConfig selects and configures the durable store backend.
type StoreConfig struct {
	Backend       string `yaml:"backend"` // "memory" or "redis"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// BridgeConfig configures the inter-context message bridge.
type BridgeConfig struct {
	ResponseTimeout Duration `yaml:"response_timeout"`
	RatePerSecond   float64  `yaml:"rate_per_second"`
	Burst           int      `yaml:"burst"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration document.
type Config struct {
	Remote RemoteConfig `yaml:"remote"`
	Auth   AuthConfig   `yaml:"auth"`
	Sync   SyncConfig   `yaml:"sync"`
	Store  StoreConfig  `yaml:"store"`
	Bridge BridgeConfig `yaml:"bridge"`
	Log    LogConfig    `yaml:"log"`
}

// Load reads the configuration from config/client.yaml.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "client.yaml"))
}

// LoadFromPath reads the configuration from a specific path. Fields absent
// from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse client config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration or falls back to defaults when the
// file is missing or unreadable.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:        "https://api.promptlift.io",
			HealthTimeout:  Duration(2 * time.Second),
			RequestTimeout: Duration(10 * time.Second),
		},
		Auth: AuthConfig{
			BaseURL:          "https://auth.promptlift.io",
			RequestTimeout:   Duration(10 * time.Second),
			RefreshThreshold: Duration(5 * time.Minute),
			MonitorSchedule:  "@every 1m",
		},
		Sync: SyncConfig{
			RetryBackoff:   Duration(2 * time.Second),
			PendingCeiling: Duration(30 * time.Second),
			ReaperSchedule: "@every 30s",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Bridge: BridgeConfig{
			ResponseTimeout: Duration(3 * time.Second),
			RatePerSecond:   20,
			Burst:           40,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks for configuration values that cannot work.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Auth.RefreshThreshold <= 0 {
		return fmt.Errorf("auth.refresh_threshold must be positive")
	}
	if c.Sync.PendingCeiling <= 0 {
		return fmt.Errorf("sync.pending_ceiling must be positive")
	}
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("store.backend must be memory or redis, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.RedisAddr == "" {
		return fmt.Errorf("store.redis_addr is required for the redis backend")
	}
	return nil
}
