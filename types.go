package orchestrator

import (
	"context"
	"time"
)

// Migration is one ordered, named transformation applied once per tenant.
// IDs must be globally unique and registered in monotonically increasing
// order; registration order is the application order.
type Migration interface {
	// ID returns the unique, ordered identifier of this migration.
	ID() string

	// Apply performs the transformation against the tenant's data.
	// Implementations should be idempotent where possible: the queue may
	// re-run a job whose worker died after Apply succeeded but before the
	// applied id was persisted.
	Apply(ctx context.Context, tenantID string) error
}

// MigrationFunc adapts an id and a function to the Migration interface.
func MigrationFunc(id string, apply func(ctx context.Context, tenantID string) error) Migration {
	return funcMigration{id: id, apply: apply}
}

type funcMigration struct {
	id    string
	apply func(ctx context.Context, tenantID string) error
}

func (m funcMigration) ID() string { return m.id }

func (m funcMigration) Apply(ctx context.Context, tenantID string) error {
	return m.apply(ctx, tenantID)
}

// TenantState is the durable checkpoint of a tenant's migration progress.
// AppliedIDs grows monotonically; no migration is ever un-applied by this
// subsystem.
type TenantState struct {
	// TenantID identifies the tenant this state belongs to.
	TenantID string

	// AppliedIDs lists the ids of migrations applied to this tenant,
	// in application order.
	AppliedIDs []string

	// UpdatedAt is when this state was last persisted.
	UpdatedAt time.Time
}

// Applied reports whether the given migration id has been applied.
func (s TenantState) Applied(id string) bool {
	for _, applied := range s.AppliedIDs {
		if applied == id {
			return true
		}
	}
	return false
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	// JobStatusWaiting indicates the job is admitted and awaiting a worker.
	JobStatusWaiting JobStatus = "waiting"

	// JobStatusActive indicates a worker has claimed the job and is processing it.
	JobStatusActive JobStatus = "active"

	// JobStatusCompleted indicates the job finished successfully. Terminal.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed indicates the job exhausted its retries. Terminal.
	JobStatusFailed JobStatus = "failed"

	// JobStatusStalled indicates the job exceeded its stall tolerance. Terminal.
	JobStatusStalled JobStatus = "stalled"
)

// Job is one migration request for a tenant. Jobs are keyed by tenant id for
// observability, but the queue does not deduplicate per tenant; a fresh
// enqueue is always a new job instance.
type Job struct {
	// ID is the unique identifier for this job (UUID).
	ID string

	// TenantID is the tenant whose data this job migrates.
	TenantID string

	// Status is the current lifecycle state of the job.
	Status JobStatus

	// Attempts is the number of failed processing attempts so far.
	Attempts int

	// StalledCount is the number of times this job has been re-queued
	// after its worker stopped heartbeating.
	StalledCount int

	// EnqueuedAt is when the job was admitted.
	EnqueuedAt time.Time

	// NotBefore is the earliest time the job may be claimed. Zero means
	// immediately claimable; retries push it forward for backoff.
	NotBefore time.Time

	// ClaimedAt is when the job was last claimed by a worker. Zero if never.
	ClaimedAt time.Time

	// LastHeartbeat is the last time the owning worker reported liveness.
	LastHeartbeat time.Time

	// LastError is the message of the most recent failure, if any.
	LastError string
}

// AlertReason distinguishes why a job was given up on.
type AlertReason string

const (
	// AlertReasonExhausted indicates the job failed MaxAttempts times.
	AlertReasonExhausted AlertReason = "exhausted"

	// AlertReasonStalled indicates the job's worker repeatedly died or hung.
	AlertReasonStalled AlertReason = "stalled"
)

// Alert describes a job that reached a terminal failure state and requires
// manual remediation. It is the system's only operator-visible give-up signal.
type Alert struct {
	// Job is a snapshot of the job at the time it was given up on.
	Job Job

	// Reason distinguishes "migration logic rejected" from "worker died".
	Reason AlertReason

	// Message is a human-readable summary including the job id and the
	// last known failure reason.
	Message string
}

// Alerter receives alerts for jobs that stalled or exhausted their retries.
// Implementations must not re-enter the queue; failures inside Notify are
// logged and swallowed by the caller.
type Alerter interface {
	Notify(ctx context.Context, alert Alert)
}

// AlertFunc adapts a function to the Alerter interface.
type AlertFunc func(ctx context.Context, alert Alert)

// Notify calls f.
func (f AlertFunc) Notify(ctx context.Context, alert Alert) { f(ctx, alert) }
