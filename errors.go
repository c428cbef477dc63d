package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleState indicates concurrent writers raced on a tenant's
	// migration state. Surfaced as a retryable step failure, never
	// swallowed, since silently proceeding risks skipping a migration id.
	ErrStaleState = errors.New("tenant migration state is stale")

	// ErrTenantBusy indicates another worker currently holds the
	// per-tenant migration lock. The job is re-queued without counting
	// an attempt.
	ErrTenantBusy = errors.New("tenant is already being migrated")

	// ErrNoJobAvailable indicates no claimable job exists right now.
	ErrNoJobAvailable = errors.New("no job available")
)

// StepError reports the failure of a single migration step. It carries the
// id of the failing step and the underlying cause; subsequent steps are
// never attempted after a StepError.
type StepError struct {
	// MigrationID is the id of the step that failed.
	MigrationID string

	// TenantID is the tenant being migrated.
	TenantID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("migration %s failed for tenant %s: %v", e.MigrationID, e.TenantID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StepError) Unwrap() error { return e.Err }
