package store

import (
	"context"
	"time"

	orchestrator "github.com/getpup/migration-orchestrator"
)

// JobStore provides durable persistence for migration jobs.
// Implementations must be safe for concurrent access from multiple workers:
// Claim is the only waiting-to-active transition and must be atomic with
// respect to concurrent consumers. All transitions out of the active state
// are guarded on the job still being active, so a stall re-queue racing a
// slow worker's completion resolves to exactly one winner.
type JobStore interface {
	// Enqueue admits a new job in the waiting state and returns it.
	// Multiple enqueues for the same tenant create independent jobs.
	Enqueue(ctx context.Context, tenantID string) (orchestrator.Job, error)

	// Claim atomically moves the oldest claimable waiting job to active,
	// stamps ClaimedAt and LastHeartbeat, and returns it. A job is
	// claimable once its NotBefore time has passed.
	// Returns orchestrator.ErrNoJobAvailable if no such job exists.
	Claim(ctx context.Context) (orchestrator.Job, error)

	// Heartbeat refreshes the liveness timestamp of an active job.
	// Returns ErrJobNotActive if the job is no longer active.
	Heartbeat(ctx context.Context, jobID string) error

	// Complete marks an active job as completed, purging it if remove is
	// set. Returns ErrJobNotActive if the job is no longer active.
	Complete(ctx context.Context, jobID string, remove bool) error

	// Fail marks an active job as failed (terminal), recording lastError
	// and purging the job if remove is set.
	// Returns ErrJobNotActive if the job is no longer active.
	Fail(ctx context.Context, jobID string, lastError string, remove bool) error

	// Retry returns an active job to the waiting state for another
	// attempt: increments Attempts, records lastError, and defers the next
	// claim until notBefore. Returns ErrJobNotActive if the job is no
	// longer active.
	Retry(ctx context.Context, jobID string, lastError string, notBefore time.Time) error

	// Release returns an active job to the waiting state without counting
	// an attempt, deferring the next claim until notBefore. Used when the
	// tenant was busy and the job never ran.
	// Returns ErrJobNotActive if the job is no longer active.
	Release(ctx context.Context, jobID string, notBefore time.Time) error

	// RequeueStalled returns an active job whose worker stopped
	// heartbeating to the waiting state and increments StalledCount.
	// Returns ErrJobNotActive if the job is no longer active.
	RequeueStalled(ctx context.Context, jobID string) error

	// MarkStalled marks an active job as stalled (terminal), purging it if
	// remove is set. Returns ErrJobNotActive if the job is no longer active.
	MarkStalled(ctx context.Context, jobID string, remove bool) error

	// Get returns a job by id. Returns ErrJobNotFound if it does not exist.
	Get(ctx context.Context, jobID string) (orchestrator.Job, error)

	// ListStalled returns active jobs whose LastHeartbeat is before the
	// given cutoff, implying the claiming worker died or hung.
	ListStalled(ctx context.Context, heartbeatBefore time.Time) ([]orchestrator.Job, error)

	// CountByStatus returns the number of jobs currently in the given status.
	CountByStatus(ctx context.Context, status orchestrator.JobStatus) (int, error)
}

// TenantStateStore provides durable persistence for per-tenant migration
// progress, keyed by tenant id.
type TenantStateStore interface {
	// Load returns the tenant's migration state.
	// Returns ErrTenantNotFound if the tenant has never been migrated.
	Load(ctx context.Context, tenantID string) (orchestrator.TenantState, error)

	// AppendApplied records that migrationID has been applied to the
	// tenant, using compare-and-set semantics: expectedApplied is the
	// number of applied ids the caller observed before applying the step.
	// If the stored count no longer matches, or the id is already present,
	// the write is rejected with orchestrator.ErrStaleState so an
	// overlapping run can never skip or double-record a migration id.
	AppendApplied(ctx context.Context, tenantID, migrationID string, expectedApplied int) error
}
