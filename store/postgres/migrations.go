package postgres

import "fmt"

// TableConfig configures the table names used by the orchestrator.
type TableConfig struct {
	// JobsTable is the name of the table storing migration jobs.
	JobsTable string

	// TenantMigrationsTable is the name of the table storing per-tenant
	// applied migration ids.
	TenantMigrationsTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		JobsTable:             "migration_jobs",
		TenantMigrationsTable: "tenant_migrations",
	}
}

// MigrationUp returns the SQL to create orchestrator tables.
// It creates the jobs table with indexes supporting the claim and stall
// scans, and the tenant migrations table whose unique constraints provide
// the compare-and-set on applied migration ids.
func MigrationUp(config TableConfig) string {
	return fmt.Sprintf(`-- Create migration jobs table
CREATE TABLE %s (
    id UUID PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'waiting',
    attempts INTEGER NOT NULL DEFAULT 0,
    stalled_count INTEGER NOT NULL DEFAULT 0,
    enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    not_before TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
    claimed_at TIMESTAMPTZ,
    last_heartbeat TIMESTAMPTZ,
    last_error TEXT
);

-- Index for claiming the oldest waiting job
CREATE INDEX idx_%s_claim ON %s(status, not_before, enqueued_at);

-- Index for the stalled-job scan
CREATE INDEX idx_%s_stalled ON %s(status, last_heartbeat);

-- Index for finding jobs by tenant
CREATE INDEX idx_%s_tenant ON %s(tenant_id);

-- Create tenant migrations table
CREATE TABLE %s (
    tenant_id TEXT NOT NULL,
    migration_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, migration_id),
    UNIQUE (tenant_id, position)
);
`, config.JobsTable,
		config.JobsTable, config.JobsTable,
		config.JobsTable, config.JobsTable,
		config.JobsTable, config.JobsTable,
		config.TenantMigrationsTable)
}

// MigrationDown returns the SQL to drop orchestrator tables.
func MigrationDown(config TableConfig) string {
	return fmt.Sprintf(`-- Drop tenant migrations table
DROP TABLE IF EXISTS %s;

-- Drop migration jobs table
DROP TABLE IF EXISTS %s;
`, config.TenantMigrationsTable, config.JobsTable)
}
