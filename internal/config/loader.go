package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set config type
	v.SetConfigType("yaml")

	// Set config name
	v.SetConfigName("config")

	// Add config search paths
	if configPath != "" {
		// Use explicit path if provided
		v.SetConfigFile(configPath)
	} else {
		// Search in multiple locations
		v.AddConfigPath(".")                          // Current directory
		v.AddConfigPath("./config")                   // Config subdirectory
		v.AddConfigPath("/etc/migration-orchestrator") // System config directory

		// Also check home directory
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".migration-orchestrator"))
		}
	}

	// Set defaults (these will be overridden by config file and env vars)
	setDefaults(v)

	// Configure environment variable handling
	v.SetEnvPrefix("MIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific environment variables
	bindEnvVars(v)

	// Read configuration file (if exists)
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file doesn't exist, we have defaults and env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal configuration
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	defaults := NewDefault()

	// Store defaults
	v.SetDefault("store.backend", defaults.Store.Backend)
	v.SetDefault("store.postgres.url", defaults.Store.Postgres.URL)
	v.SetDefault("store.postgres.jobs_table", defaults.Store.Postgres.JobsTable)
	v.SetDefault("store.postgres.tenant_migrations_table", defaults.Store.Postgres.TenantMigrationsTable)
	v.SetDefault("store.redis.addr", defaults.Store.Redis.Addr)
	v.SetDefault("store.redis.password", defaults.Store.Redis.Password)
	v.SetDefault("store.redis.db", defaults.Store.Redis.DB)
	v.SetDefault("store.redis.key_prefix", defaults.Store.Redis.KeyPrefix)

	// Queue defaults
	v.SetDefault("queue.name", defaults.Queue.Name)
	v.SetDefault("queue.concurrency", defaults.Queue.Concurrency)
	v.SetDefault("queue.max_attempts", defaults.Queue.MaxAttempts)
	v.SetDefault("queue.retry_backoff", defaults.Queue.RetryBackoff)
	v.SetDefault("queue.stalled_check_interval", defaults.Queue.StalledCheckInterval)
	v.SetDefault("queue.stalled_timeout", defaults.Queue.StalledTimeout)
	v.SetDefault("queue.max_stalled_count", defaults.Queue.MaxStalledCount)
	v.SetDefault("queue.heartbeat_interval", defaults.Queue.HeartbeatInterval)
	v.SetDefault("queue.poll_interval", defaults.Queue.PollInterval)
	v.SetDefault("queue.remove_on_complete", defaults.Queue.RemoveOnComplete)
	v.SetDefault("queue.remove_on_fail", defaults.Queue.RemoveOnFail)

	// Metrics defaults
	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.addr", defaults.Metrics.Addr)

	// Server defaults
	v.SetDefault("server.log_level", defaults.Server.LogLevel)
	v.SetDefault("server.pretty", defaults.Server.Pretty)
}

// bindEnvVars binds specific environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Database URL can be set via DATABASE_URL or MIGRATE_STORE_POSTGRES_URL
	v.BindEnv("store.postgres.url", "DATABASE_URL", "MIGRATE_STORE_POSTGRES_URL")

	// Redis address can be set via REDIS_ADDR or MIGRATE_STORE_REDIS_ADDR
	v.BindEnv("store.redis.addr", "REDIS_ADDR", "MIGRATE_STORE_REDIS_ADDR")

	// Log level can be set via LOG_LEVEL or MIGRATE_SERVER_LOG_LEVEL
	v.BindEnv("server.log_level", "LOG_LEVEL", "MIGRATE_SERVER_LOG_LEVEL")

	// Worker concurrency
	v.BindEnv("queue.concurrency", "MIGRATE_CONCURRENCY", "MIGRATE_QUEUE_CONCURRENCY")
}

// LoadConfigOrDefault loads configuration or returns default if loading fails
func LoadConfigOrDefault(configPath string) *Config {
	config, err := LoadConfig(configPath)
	if err != nil {
		// Log the error but return default config
		fmt.Fprintf(os.Stderr, "Warning: Failed to load config: %v. Using defaults.\n", err)
		return NewDefault()
	}
	return config
}
