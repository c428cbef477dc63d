package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if err := validateIdentifier(config.SchemaName, "SchemaName"); err != nil {
		return err
	}
	if err := validateIdentifier(config.JobsTable, "JobsTable"); err != nil {
		return err
	}
	if err := validateIdentifier(config.TenantMigrationsTable, "TenantMigrationsTable"); err != nil {
		return err
	}
	return nil
}

// Config configures migration generation for orchestrator tables.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// SchemaName is the database schema name (PostgreSQL) or database name (MySQL)
	// For SQLite, table name prefixes are used instead of schemas (e.g., orchestrator_table_name)
	SchemaName string

	// JobsTable is the name of the migration jobs table
	JobsTable string

	// TenantMigrationsTable is the name of the per-tenant applied migrations table
	TenantMigrationsTable string
}

// DefaultConfig returns the default configuration for orchestrator migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:          "migrations",
		OutputFilename:        fmt.Sprintf("%s_init_migration_orchestrator.sql", timestamp),
		SchemaName:            "orchestrator",
		JobsTable:             "migration_jobs",
		TenantMigrationsTable: "tenant_migrations",
	}
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	// Validate configuration to prevent SQL injection
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	sql := generatePostgresSQL(config)

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

func generatePostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- Migration Orchestrator Infrastructure Migration
-- Generated: %s
-- Database: PostgreSQL

-- Create schema for orchestrator tables
CREATE SCHEMA IF NOT EXISTS %s;

-- Jobs table holds the durable work queue
-- One row per scheduled tenant migration run
-- Workers claim waiting rows and heartbeat while active
CREATE TABLE IF NOT EXISTS %s.%s (
    id UUID PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'waiting' CHECK (status IN ('waiting', 'active', 'completed', 'failed', 'stalled')),
    attempts INT NOT NULL DEFAULT 0,
    stalled_count INT NOT NULL DEFAULT 0,
    enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    not_before TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
    claimed_at TIMESTAMPTZ,
    last_heartbeat TIMESTAMPTZ,
    last_error TEXT
);

-- Index for claiming the oldest waiting job
CREATE INDEX IF NOT EXISTS idx_%s_claim
    ON %s.%s (status, not_before, enqueued_at);

-- Index for finding stalled jobs by heartbeat
CREATE INDEX IF NOT EXISTS idx_%s_stalled
    ON %s.%s (status, last_heartbeat);

-- Index for querying jobs by tenant
CREATE INDEX IF NOT EXISTS idx_%s_tenant
    ON %s.%s (tenant_id);

-- Tenant migrations table records applied migration ids per tenant
-- The position column is the ordinal of each applied migration
-- Its unique constraint provides compare-and-set on concurrent appends
CREATE TABLE IF NOT EXISTS %s.%s (
    tenant_id TEXT NOT NULL,
    migration_id TEXT NOT NULL,
    position INT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, migration_id),
    UNIQUE (tenant_id, position)
);
`,
		time.Now().Format(time.RFC3339),
		config.SchemaName,
		config.SchemaName, config.JobsTable,
		config.JobsTable, config.SchemaName, config.JobsTable,
		config.JobsTable, config.SchemaName, config.JobsTable,
		config.JobsTable, config.SchemaName, config.JobsTable,
		config.SchemaName, config.TenantMigrationsTable,
	)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	// Validate configuration to prevent SQL injection
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	sql := generateMySQLSQL(config)

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

func generateMySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Migration Orchestrator Infrastructure Migration
-- Generated: %s
-- Database: MySQL/MariaDB

-- Create database for orchestrator tables if it doesn't exist
-- In MySQL, we use a separate database instead of schema
CREATE DATABASE IF NOT EXISTS %s
    DEFAULT CHARACTER SET utf8mb4
    DEFAULT COLLATE utf8mb4_unicode_ci;

-- Switch to orchestrator database
USE %s;

-- Jobs table holds the durable work queue
-- One row per scheduled tenant migration run
-- Workers claim waiting rows and heartbeat while active
CREATE TABLE IF NOT EXISTS %s (
    id CHAR(36) PRIMARY KEY,
    tenant_id VARCHAR(255) NOT NULL,
    status ENUM('waiting', 'active', 'completed', 'failed', 'stalled') NOT NULL DEFAULT 'waiting',
    attempts INT NOT NULL DEFAULT 0,
    stalled_count INT NOT NULL DEFAULT 0,
    enqueued_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    not_before TIMESTAMP(6) NOT NULL DEFAULT '1970-01-01 00:00:01.000000',
    claimed_at TIMESTAMP(6) NULL,
    last_heartbeat TIMESTAMP(6) NULL,
    last_error TEXT
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Index for claiming the oldest waiting job
CREATE INDEX idx_%s_claim
    ON %s (status, not_before, enqueued_at);

-- Index for finding stalled jobs by heartbeat
CREATE INDEX idx_%s_stalled
    ON %s (status, last_heartbeat);

-- Index for querying jobs by tenant
CREATE INDEX idx_%s_tenant
    ON %s (tenant_id);

-- Tenant migrations table records applied migration ids per tenant
-- The position column is the ordinal of each applied migration
-- Its unique constraint provides compare-and-set on concurrent appends
CREATE TABLE IF NOT EXISTS %s (
    tenant_id VARCHAR(255) NOT NULL,
    migration_id VARCHAR(255) NOT NULL,
    position INT NOT NULL,
    applied_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    PRIMARY KEY (tenant_id, migration_id),
    UNIQUE KEY uq_%s_position (tenant_id, position)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`,
		time.Now().Format(time.RFC3339),
		config.SchemaName,
		config.SchemaName,
		config.JobsTable,
		config.JobsTable, config.JobsTable,
		config.JobsTable, config.JobsTable,
		config.JobsTable, config.JobsTable,
		config.TenantMigrationsTable,
		config.TenantMigrationsTable,
	)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	// Validate configuration to prevent SQL injection
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	sql := generateSQLiteSQL(config)

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

func generateSQLiteSQL(config *Config) string {
	// SQLite doesn't support schemas, so we use table name prefixes instead
	jobsTable := config.SchemaName + "_" + config.JobsTable
	tenantMigrationsTable := config.SchemaName + "_" + config.TenantMigrationsTable

	return fmt.Sprintf(`-- Migration Orchestrator Infrastructure Migration
-- Generated: %s
-- Database: SQLite

-- Jobs table holds the durable work queue
-- One row per scheduled tenant migration run
-- Workers claim waiting rows and heartbeat while active
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'waiting' CHECK (status IN ('waiting', 'active', 'completed', 'failed', 'stalled')),
    attempts INTEGER NOT NULL DEFAULT 0,
    stalled_count INTEGER NOT NULL DEFAULT 0,
    enqueued_at TEXT NOT NULL DEFAULT (datetime('now')),
    not_before TEXT NOT NULL DEFAULT '1970-01-01 00:00:00',
    claimed_at TEXT,
    last_heartbeat TEXT,
    last_error TEXT
);

-- Index for claiming the oldest waiting job
CREATE INDEX IF NOT EXISTS idx_%s_claim
    ON %s (status, not_before, enqueued_at);

-- Index for finding stalled jobs by heartbeat
CREATE INDEX IF NOT EXISTS idx_%s_stalled
    ON %s (status, last_heartbeat);

-- Index for querying jobs by tenant
CREATE INDEX IF NOT EXISTS idx_%s_tenant
    ON %s (tenant_id);

-- Tenant migrations table records applied migration ids per tenant
-- The position column is the ordinal of each applied migration
-- Its unique constraint provides compare-and-set on concurrent appends
CREATE TABLE IF NOT EXISTS %s (
    tenant_id TEXT NOT NULL,
    migration_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    applied_at TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (tenant_id, migration_id),
    UNIQUE (tenant_id, position)
);
`,
		time.Now().Format(time.RFC3339),
		jobsTable,
		jobsTable, jobsTable,
		jobsTable, jobsTable,
		jobsTable, jobsTable,
		tenantMigrationsTable,
	)
}
