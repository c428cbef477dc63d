// Package migrations generates SQL migration files for the orchestrator's
// job queue and tenant state tables, targeting PostgreSQL, MySQL/MariaDB,
// and SQLite.
package migrations
