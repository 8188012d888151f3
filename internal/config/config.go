package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Timer     TimerConfig     `yaml:"timer"`
	Spool     SpoolConfig     `yaml:"spool"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	// ConnectTimeout bounds how long startup retries the first connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

// TimerConfig holds countdown defaults shared by every timer.
type TimerConfig struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
	UpperBound     int `yaml:"upper_bound"`
	DefaultRestSec int `yaml:"default_rest_sec"`
	// CompletedTTL is how long a finished timer stays queryable before it
	// is swept.
	CompletedTTL time.Duration `yaml:"completed_ttl"`
}

// TickInterval returns the tick period as a duration.
func (t TimerConfig) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMs) * time.Millisecond
}

type SpoolConfig struct {
	Dir           string        `yaml:"dir"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Load reads config from a YAML file, then applies environment variable overrides.
// Env vars use the prefix RESTKEEPER_ and underscore-separated paths:
//
//	RESTKEEPER_SERVER_HOST, RESTKEEPER_SERVER_PORT,
//	RESTKEEPER_DB_HOST, RESTKEEPER_DB_PORT, RESTKEEPER_DB_NAME,
//	RESTKEEPER_DB_USER, RESTKEEPER_DB_PASSWORD, RESTKEEPER_DB_SSLMODE,
//	RESTKEEPER_AUTH_API_KEY, RESTKEEPER_TAILSCALE_ENABLED,
//	RESTKEEPER_TIMER_UPPER_BOUND, RESTKEEPER_SPOOL_DIR
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RESTKEEPER_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("RESTKEEPER_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RESTKEEPER_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("RESTKEEPER_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("RESTKEEPER_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("RESTKEEPER_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("RESTKEEPER_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("RESTKEEPER_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("RESTKEEPER_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("RESTKEEPER_TAILSCALE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = enabled
		}
	}
	if v := os.Getenv("RESTKEEPER_TIMER_UPPER_BOUND"); v != "" {
		if bound, err := strconv.Atoi(v); err == nil {
			cfg.Timer.UpperBound = bound
		}
	}
	if v := os.Getenv("RESTKEEPER_SPOOL_DIR"); v != "" {
		cfg.Spool.Dir = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 30 * time.Second
	}
	if cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = "restkeeper"
	}
	if cfg.Tailscale.StateDir == "" {
		cfg.Tailscale.StateDir = "tsnet-state"
	}
	if cfg.Timer.TickIntervalMs == 0 {
		cfg.Timer.TickIntervalMs = 1000
	}
	if cfg.Timer.UpperBound == 0 {
		cfg.Timer.UpperBound = 600
	}
	if cfg.Timer.DefaultRestSec == 0 {
		cfg.Timer.DefaultRestSec = 90
	}
	if cfg.Timer.CompletedTTL == 0 {
		cfg.Timer.CompletedTTL = 10 * time.Minute
	}
	if cfg.Spool.Dir == "" {
		cfg.Spool.Dir = "spool"
	}
	if cfg.Spool.FlushInterval == 0 {
		cfg.Spool.FlushInterval = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Server.Port == 0 && !c.Tailscale.Enabled {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Auth.APIKey == "" && !c.Tailscale.Enabled {
		return fmt.Errorf("auth.api_key is required unless tailscale is enabled")
	}
	if c.Timer.TickIntervalMs < 0 {
		return fmt.Errorf("timer.tick_interval_ms must be positive")
	}
	if c.Timer.UpperBound < 0 {
		return fmt.Errorf("timer.upper_bound must be positive")
	}
	if c.Timer.DefaultRestSec < 0 || c.Timer.DefaultRestSec > c.Timer.UpperBound {
		return fmt.Errorf("timer.default_rest_sec must be between 1 and timer.upper_bound")
	}
	return nil
}
