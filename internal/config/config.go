package config

import (
	"fmt"
	"time"
)

// Config represents the main application configuration
type Config struct {
	Store   Store   `json:"store" mapstructure:"store"`
	Queue   Queue   `json:"queue" mapstructure:"queue"`
	Metrics Metrics `json:"metrics" mapstructure:"metrics"`
	Server  Server  `json:"server" mapstructure:"server"`
}

// Store represents storage backend configuration
type Store struct {
	// Backend selects the storage implementation: memory, postgres, or redis
	Backend string `json:"backend" mapstructure:"backend"`

	Postgres Postgres `json:"postgres" mapstructure:"postgres"`
	Redis    Redis    `json:"redis" mapstructure:"redis"`
}

// Postgres represents PostgreSQL backend configuration
type Postgres struct {
	URL                   string `json:"url" mapstructure:"url"`
	JobsTable             string `json:"jobs_table" mapstructure:"jobs_table"`
	TenantMigrationsTable string `json:"tenant_migrations_table" mapstructure:"tenant_migrations_table"`
}

// Redis represents Redis backend configuration
type Redis struct {
	Addr      string `json:"addr" mapstructure:"addr"`
	Password  string `json:"password" mapstructure:"password"`
	DB        int    `json:"db" mapstructure:"db"`
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix"`
}

// Queue represents job queue configuration
type Queue struct {
	Name                 string        `json:"name" mapstructure:"name"`
	Concurrency          int           `json:"concurrency" mapstructure:"concurrency"`
	MaxAttempts          int           `json:"max_attempts" mapstructure:"max_attempts"`
	RetryBackoff         time.Duration `json:"retry_backoff" mapstructure:"retry_backoff"`
	StalledCheckInterval time.Duration `json:"stalled_check_interval" mapstructure:"stalled_check_interval"`
	StalledTimeout       time.Duration `json:"stalled_timeout" mapstructure:"stalled_timeout"`
	MaxStalledCount      int           `json:"max_stalled_count" mapstructure:"max_stalled_count"`
	HeartbeatInterval    time.Duration `json:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	PollInterval         time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	RemoveOnComplete     bool          `json:"remove_on_complete" mapstructure:"remove_on_complete"`
	RemoveOnFail         bool          `json:"remove_on_fail" mapstructure:"remove_on_fail"`
}

// Metrics represents metrics endpoint configuration
type Metrics struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// Server represents process-level configuration
type Server struct {
	LogLevel string `json:"log_level" mapstructure:"log_level"`
	Pretty   bool   `json:"pretty" mapstructure:"pretty"`
}

// NewDefault returns a Config instance with default values
func NewDefault() *Config {
	return &Config{
		Store: Store{
			Backend: "memory",
			Postgres: Postgres{
				URL:                   "",
				JobsTable:             "migration_jobs",
				TenantMigrationsTable: "tenant_migrations",
			},
			Redis: Redis{
				Addr:      "localhost:6379",
				DB:        0,
				KeyPrefix: "migrate",
			},
		},
		Queue: Queue{
			Name:                 "migrations",
			Concurrency:          4,
			MaxAttempts:          3,
			RetryBackoff:         5 * time.Second,
			StalledCheckInterval: 30 * time.Second,
			StalledTimeout:       30 * time.Second,
			MaxStalledCount:      1,
			HeartbeatInterval:    5 * time.Second,
			PollInterval:         time.Second,
			RemoveOnComplete:     true,
			RemoveOnFail:         true,
		},
		Metrics: Metrics{
			Enabled: true,
			Addr:    ":9090",
		},
		Server: Server{
			LogLevel: "info",
			Pretty:   false,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.Postgres.URL == "" {
			return fmt.Errorf("postgres URL is required for the postgres backend")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}

	if c.Queue.Name == "" {
		return fmt.Errorf("queue name is required")
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be greater than 0")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be greater than 0")
	}
	if c.Queue.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.Queue.StalledCheckInterval <= 0 {
		return fmt.Errorf("stalled check interval must be positive")
	}
	if c.Queue.StalledTimeout <= 0 {
		return fmt.Errorf("stalled timeout must be positive")
	}
	if c.Queue.MaxStalledCount < 0 {
		return fmt.Errorf("max stalled count cannot be negative")
	}
	if c.Queue.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Queue.HeartbeatInterval >= c.Queue.StalledTimeout {
		return fmt.Errorf("heartbeat interval must be shorter than the stalled timeout")
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.Server.LogLevel)
	}

	return nil
}
