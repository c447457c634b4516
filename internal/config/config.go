// Package config loads the recontrole YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Remote    RemoteConfig    `yaml:"remote"`
	Auth      AuthConfig      `yaml:"auth"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Redis     RedisConfig     `yaml:"redis"`
	Notify    NotifyConfig    `yaml:"notify"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DatabaseConfig selects the local store.
type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// RemoteConfig points at the shared reports database.
type RemoteConfig struct {
	BaseURL     string        `yaml:"base_url"`
	ReportsPath string        `yaml:"reports_path"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AuthConfig locates the stored session.
type AuthConfig struct {
	// CredentialsPath defaults to ~/.config/recontrole/credentials.json.
	CredentialsPath string `yaml:"credentials_path"`
}

// MonitorConfig tunes a monitor cycle.
type MonitorConfig struct {
	Retention    time.Duration `yaml:"retention"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// ScheduleConfig describes the periodic monitor work.
type ScheduleConfig struct {
	Name            string        `yaml:"name"`
	Period          time.Duration `yaml:"period"`
	MinPeriod       time.Duration `yaml:"min_period"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	RequiresNetwork bool          `yaml:"requires_network"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BackoffInitial  time.Duration `yaml:"backoff_initial"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	// Lock is local, sql, or redis. local puts an in-process lock in front
	// of the database lock row, so it covers every process on the same
	// database; use redis or a shared postgres to cover several hosts.
	Lock    string        `yaml:"lock"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// RedisConfig is used by the redis lock backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NotifyConfig configures notification delivery.
type NotifyConfig struct {
	// Enabled is the global notification permission.
	Enabled       bool         `yaml:"enabled"`
	RatePerMinute int          `yaml:"rate_per_minute"`
	Burst         int          `yaml:"burst"`
	Sinks         []SinkConfig `yaml:"sinks"`
}

// SinkConfig describes one delivery destination.
type SinkConfig struct {
	// Type is log, webhook, or telegram.
	Type   string `yaml:"type"`
	URL    string `yaml:"url,omitempty"`
	Format string `yaml:"format,omitempty"`
	Token  string `yaml:"token,omitempty"`
	ChatID string `yaml:"chat_id,omitempty"`
}

// APIConfig configures the local status API.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// TelemetryConfig configures metric export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    defaultDBPath(),
		},
		Remote: RemoteConfig{
			ReportsPath: "reports",
			Timeout:     30 * time.Second,
		},
		Monitor: MonitorConfig{
			Retention:    30 * 24 * time.Hour,
			FetchTimeout: 2 * time.Minute,
		},
		Schedule: ScheduleConfig{
			Name:            "occurrence_monitor_work",
			Period:          15 * time.Minute,
			MinPeriod:       15 * time.Minute,
			InitialDelay:    2 * time.Minute,
			RequiresNetwork: true,
			MaxAttempts:     5,
			BackoffInitial:  30 * time.Second,
			BackoffMax:      10 * time.Minute,
			Lock:            "sql",
			LockTTL:         10 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Notify: NotifyConfig{
			Enabled:       true,
			RatePerMinute: 30,
			Burst:         5,
			Sinks:         []SinkConfig{{Type: "log"}},
		},
		API: APIConfig{
			Listen: "127.0.0.1:7467",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "recontrole",
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recontrole.db"
	}
	return filepath.Join(home, ".recontrole", "recontrole.db")
}

// DefaultPath returns ~/.recontrole/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".recontrole", "config.yaml")
}

// LoadConfig loads configuration from a YAML file. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromHome loads configuration from ~/.recontrole/config.yaml.
func LoadConfigFromHome() (*Config, error) {
	return LoadConfig(DefaultPath())
}

// SaveConfig saves configuration to a YAML file, creating parent directories if needed.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid database driver %q, must be: sqlite or postgres", c.Database.Driver)
	}

	if c.Monitor.Retention <= 0 {
		return fmt.Errorf("monitor.retention must be positive")
	}
	if c.Monitor.FetchTimeout <= 0 {
		return fmt.Errorf("monitor.fetch_timeout must be positive")
	}

	if c.Schedule.Name == "" {
		return fmt.Errorf("schedule.name is required")
	}
	if c.Schedule.Period <= 0 {
		return fmt.Errorf("schedule.period must be positive")
	}
	if c.Schedule.MaxAttempts < 1 {
		return fmt.Errorf("schedule.max_attempts must be at least 1")
	}
	validLocks := map[string]bool{
		"local": true,
		"sql":   true,
		"redis": true,
	}
	if !validLocks[c.Schedule.Lock] {
		return fmt.Errorf("invalid schedule.lock %q, must be: local, sql, or redis", c.Schedule.Lock)
	}
	if c.Schedule.Lock == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the redis lock")
	}

	if c.Notify.RatePerMinute < 0 {
		return fmt.Errorf("notify.rate_per_minute cannot be negative")
	}
	for i, s := range c.Notify.Sinks {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("notify.sinks[%d]: %w", i, err)
		}
	}

	return nil
}

// Validate checks the sink has the fields its type needs.
func (s SinkConfig) Validate() error {
	switch s.Type {
	case "log":
		return nil
	case "webhook":
		if s.URL == "" {
			return fmt.Errorf("webhook sink needs a url")
		}
		switch s.Format {
		case "", "json", "discord", "slack":
			return nil
		}
		return fmt.Errorf("invalid webhook format %q, must be: json, discord, or slack", s.Format)
	case "telegram":
		if s.Token == "" || s.ChatID == "" {
			return fmt.Errorf("telegram sink needs token and chat_id")
		}
		return nil
	default:
		return fmt.Errorf("invalid sink type %q, must be: log, webhook, or telegram", s.Type)
	}
}
