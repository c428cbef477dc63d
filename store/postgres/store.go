package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/getpup/migration-orchestrator/store"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store is a PostgreSQL implementation of JobStore and TenantStateStore.
// It provides durable storage shared by multiple producing and consuming
// processes; claim atomicity relies on FOR UPDATE SKIP LOCKED.
type Store struct {
	db                    *sql.DB
	jobsTable             string
	tenantMigrationsTable string
}

// Compile-time checks that Store implements both store interfaces.
var (
	_ store.JobStore         = (*Store)(nil)
	_ store.TenantStateStore = (*Store)(nil)
)

// New creates a new PostgreSQL store with default table names.
func New(db *sql.DB) *Store {
	config := DefaultTableConfig()
	return NewWithConfig(db, config)
}

// NewWithConfig creates a new PostgreSQL store with custom table names.
func NewWithConfig(db *sql.DB, config TableConfig) *Store {
	return &Store{
		db:                    db,
		jobsTable:             config.JobsTable,
		tenantMigrationsTable: config.TenantMigrationsTable,
	}
}

// Enqueue admits a new job in the waiting state and returns it.
func (s *Store) Enqueue(ctx context.Context, tenantID string) (orchestrator.Job, error) {
	jobID := uuid.New().String()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, tenant_id, status, attempts, stalled_count, enqueued_at, not_before)
		VALUES ($1, $2, 'waiting', 0, 0, NOW(), 'epoch')
		RETURNING enqueued_at
	`, s.jobsTable)

	job := orchestrator.Job{
		ID:       jobID,
		TenantID: tenantID,
		Status:   orchestrator.JobStatusWaiting,
	}

	err := s.db.QueryRowContext(ctx, query, jobID, tenantID).Scan(&job.EnqueuedAt)
	if err != nil {
		return orchestrator.Job{}, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

// Claim atomically moves the oldest claimable waiting job to active.
// FOR UPDATE SKIP LOCKED guarantees two consumers never claim the same job.
func (s *Store) Claim(ctx context.Context) (orchestrator.Job, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'active', claimed_at = NOW(), last_heartbeat = NOW()
		WHERE id = (
			SELECT id FROM %s
			WHERE status = 'waiting' AND not_before <= NOW()
			ORDER BY enqueued_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, status, attempts, stalled_count, enqueued_at, not_before, claimed_at, last_heartbeat, last_error
	`, s.jobsTable, s.jobsTable)

	job, err := scanJob(s.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return orchestrator.Job{}, orchestrator.ErrNoJobAvailable
	}
	if err != nil {
		return orchestrator.Job{}, fmt.Errorf("failed to claim job: %w", err)
	}

	return job, nil
}

// Heartbeat refreshes the liveness timestamp of an active job.
func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET last_heartbeat = NOW()
		WHERE id = $1 AND status = 'active'
	`, s.jobsTable)

	return s.execActive(ctx, query, jobID)
}

// Complete marks an active job as completed, purging it if remove is set.
func (s *Store) Complete(ctx context.Context, jobID string, remove bool) error {
	if remove {
		query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND status = 'active'`, s.jobsTable)
		return s.execActive(ctx, query, jobID)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'completed'
		WHERE id = $1 AND status = 'active'
	`, s.jobsTable)

	return s.execActive(ctx, query, jobID)
}

// Fail marks an active job as failed, purging it if remove is set.
func (s *Store) Fail(ctx context.Context, jobID string, lastError string, remove bool) error {
	if remove {
		query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND status = 'active'`, s.jobsTable)
		return s.execActive(ctx, query, jobID)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'failed', attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND status = 'active'
	`, s.jobsTable)

	return s.execActive(ctx, query, jobID, lastError)
}

// Retry returns an active job to the waiting state for another attempt.
func (s *Store) Retry(ctx context.Context, jobID string, lastError string, notBefore time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'waiting', attempts = attempts + 1, last_error = $2, not_before = $3
		WHERE id = $1 AND status = 'active'
	`, s.jobsTable)

	return s.execActive(ctx, query, jobID, lastError, notBefore)
}

// Release returns an active job to the waiting state without counting an attempt.
func (s *Store) Release(ctx context.Context, jobID string, notBefore time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'waiting', not_before = $2
		WHERE id = $1 AND status = 'active'
	`, s.jobsTable)

	return s.execActive(ctx, query, jobID, notBefore)
}

// RequeueStalled returns a stalled active job to the waiting state and
// increments its StalledCount.
func (s *Store) RequeueStalled(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'waiting', stalled_count = stalled_count + 1
		WHERE id = $1 AND status = 'active'
	`, s.jobsTable)

	return s.execActive(ctx, query, jobID)
}

// MarkStalled marks an active job as stalled, purging it if remove is set.
func (s *Store) MarkStalled(ctx context.Context, jobID string, remove bool) error {
	if remove {
		query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND status = 'active'`, s.jobsTable)
		return s.execActive(ctx, query, jobID)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'stalled', stalled_count = stalled_count + 1
		WHERE id = $1 AND status = 'active'
	`, s.jobsTable)

	return s.execActive(ctx, query, jobID)
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, jobID string) (orchestrator.Job, error) {
	query := fmt.Sprintf(`
		SELECT id, tenant_id, status, attempts, stalled_count, enqueued_at, not_before, claimed_at, last_heartbeat, last_error
		FROM %s
		WHERE id = $1
	`, s.jobsTable)

	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return orchestrator.Job{}, store.ErrJobNotFound
	}
	if err != nil {
		return orchestrator.Job{}, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListStalled returns active jobs whose LastHeartbeat is before the cutoff.
func (s *Store) ListStalled(ctx context.Context, heartbeatBefore time.Time) ([]orchestrator.Job, error) {
	query := fmt.Sprintf(`
		SELECT id, tenant_id, status, attempts, stalled_count, enqueued_at, not_before, claimed_at, last_heartbeat, last_error
		FROM %s
		WHERE status = 'active' AND last_heartbeat < $1
	`, s.jobsTable)

	rows, err := s.db.QueryContext(ctx, query, heartbeatBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled jobs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	var jobs []orchestrator.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// CountByStatus returns the number of jobs currently in the given status.
func (s *Store) CountByStatus(ctx context.Context, status orchestrator.JobStatus) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status = $1`, s.jobsTable)

	var count int
	if err := s.db.QueryRowContext(ctx, query, string(status)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	return count, nil
}

// Load returns the tenant's migration state.
// Returns store.ErrTenantNotFound if the tenant has never been migrated.
func (s *Store) Load(ctx context.Context, tenantID string) (orchestrator.TenantState, error) {
	query := fmt.Sprintf(`
		SELECT migration_id, applied_at
		FROM %s
		WHERE tenant_id = $1
		ORDER BY position
	`, s.tenantMigrationsTable)

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return orchestrator.TenantState{}, fmt.Errorf("failed to load tenant state: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	state := orchestrator.TenantState{TenantID: tenantID}
	for rows.Next() {
		var migrationID string
		var appliedAt time.Time
		if err := rows.Scan(&migrationID, &appliedAt); err != nil {
			return orchestrator.TenantState{}, fmt.Errorf("failed to scan tenant state: %w", err)
		}
		state.AppliedIDs = append(state.AppliedIDs, migrationID)
		if appliedAt.After(state.UpdatedAt) {
			state.UpdatedAt = appliedAt
		}
	}

	if err := rows.Err(); err != nil {
		return orchestrator.TenantState{}, fmt.Errorf("error iterating tenant state: %w", err)
	}

	if len(state.AppliedIDs) == 0 {
		return orchestrator.TenantState{}, store.ErrTenantNotFound
	}

	return state, nil
}

// AppendApplied records an applied migration id. The unique constraints on
// (tenant_id, position) and (tenant_id, migration_id) provide the
// compare-and-set: a racing run inserting the same position or id violates
// one of them and surfaces as orchestrator.ErrStaleState.
func (s *Store) AppendApplied(ctx context.Context, tenantID, migrationID string, expectedApplied int) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (tenant_id, migration_id, position, applied_at)
		VALUES ($1, $2, $3, NOW())
	`, s.tenantMigrationsTable)

	_, err := s.db.ExecContext(ctx, query, tenantID, migrationID, expectedApplied)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return orchestrator.ErrStaleState
		}
		return fmt.Errorf("failed to append applied migration: %w", err)
	}

	return nil
}

// execActive runs a status-guarded transition and maps zero rows affected to
// store.ErrJobNotActive.
func (s *Store) execActive(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrJobNotActive
	}

	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanJob.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (orchestrator.Job, error) {
	var job orchestrator.Job
	var status string
	var claimedAt, lastHeartbeat sql.NullTime
	var lastError sql.NullString

	err := row.Scan(
		&job.ID,
		&job.TenantID,
		&status,
		&job.Attempts,
		&job.StalledCount,
		&job.EnqueuedAt,
		&job.NotBefore,
		&claimedAt,
		&lastHeartbeat,
		&lastError,
	)
	if err != nil {
		return orchestrator.Job{}, err
	}

	job.Status = orchestrator.JobStatus(status)
	if claimedAt.Valid {
		job.ClaimedAt = claimedAt.Time
	}
	if lastHeartbeat.Valid {
		job.LastHeartbeat = lastHeartbeat.Time
	}
	if lastError.Valid {
		job.LastError = lastError.String
	}

	return job, nil
}
