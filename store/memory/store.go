package memory

import (
	"context"
	"sync"
	"time"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/getpup/migration-orchestrator/store"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of both JobStore and TenantStateStore.
// It provides thread-safe access using a sync.RWMutex and is intended for
// tests and single-process deployments; jobs do not survive a process crash.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]orchestrator.Job       // jobID -> job
	states map[string]orchestrator.TenantState // tenantID -> state
}

// New creates a new in-memory store with initialized maps.
func New() *Store {
	return &Store{
		jobs:   make(map[string]orchestrator.Job),
		states: make(map[string]orchestrator.TenantState),
	}
}

// Compile-time checks that Store implements both store interfaces.
var (
	_ store.JobStore         = (*Store)(nil)
	_ store.TenantStateStore = (*Store)(nil)
)

// Enqueue admits a new job in the waiting state and returns it.
func (s *Store) Enqueue(ctx context.Context, tenantID string) (orchestrator.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := orchestrator.Job{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Status:     orchestrator.JobStatusWaiting,
		EnqueuedAt: time.Now(),
	}

	s.jobs[job.ID] = job

	return job, nil
}

// Claim atomically moves the oldest claimable waiting job to active.
// Returns orchestrator.ErrNoJobAvailable if no such job exists.
func (s *Store) Claim(ctx context.Context) (orchestrator.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var oldest *orchestrator.Job
	for id := range s.jobs {
		job := s.jobs[id]
		if job.Status != orchestrator.JobStatusWaiting {
			continue
		}
		if job.NotBefore.After(now) {
			continue
		}
		if oldest == nil || job.EnqueuedAt.Before(oldest.EnqueuedAt) {
			oldest = &job
		}
	}

	if oldest == nil {
		return orchestrator.Job{}, orchestrator.ErrNoJobAvailable
	}

	oldest.Status = orchestrator.JobStatusActive
	oldest.ClaimedAt = now
	oldest.LastHeartbeat = now
	s.jobs[oldest.ID] = *oldest

	return *oldest, nil
}

// Heartbeat refreshes the liveness timestamp of an active job.
func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.activeJob(jobID)
	if err != nil {
		return err
	}

	job.LastHeartbeat = time.Now()
	s.jobs[jobID] = job

	return nil
}

// Complete marks an active job as completed, purging it if remove is set.
func (s *Store) Complete(ctx context.Context, jobID string, remove bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.activeJob(jobID)
	if err != nil {
		return err
	}

	if remove {
		delete(s.jobs, jobID)
		return nil
	}

	job.Status = orchestrator.JobStatusCompleted
	s.jobs[jobID] = job

	return nil
}

// Fail marks an active job as failed, purging it if remove is set.
func (s *Store) Fail(ctx context.Context, jobID string, lastError string, remove bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.activeJob(jobID)
	if err != nil {
		return err
	}

	if remove {
		delete(s.jobs, jobID)
		return nil
	}

	job.Status = orchestrator.JobStatusFailed
	job.Attempts++
	job.LastError = lastError
	s.jobs[jobID] = job

	return nil
}

// Retry returns an active job to the waiting state for another attempt.
func (s *Store) Retry(ctx context.Context, jobID string, lastError string, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.activeJob(jobID)
	if err != nil {
		return err
	}

	job.Status = orchestrator.JobStatusWaiting
	job.Attempts++
	job.LastError = lastError
	job.NotBefore = notBefore
	s.jobs[jobID] = job

	return nil
}

// Release returns an active job to the waiting state without counting an attempt.
func (s *Store) Release(ctx context.Context, jobID string, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.activeJob(jobID)
	if err != nil {
		return err
	}

	job.Status = orchestrator.JobStatusWaiting
	job.NotBefore = notBefore
	s.jobs[jobID] = job

	return nil
}

// RequeueStalled returns a stalled active job to the waiting state and
// increments its StalledCount.
func (s *Store) RequeueStalled(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.activeJob(jobID)
	if err != nil {
		return err
	}

	job.Status = orchestrator.JobStatusWaiting
	job.StalledCount++
	s.jobs[jobID] = job

	return nil
}

// MarkStalled marks an active job as stalled, purging it if remove is set.
func (s *Store) MarkStalled(ctx context.Context, jobID string, remove bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.activeJob(jobID)
	if err != nil {
		return err
	}

	if remove {
		delete(s.jobs, jobID)
		return nil
	}

	job.Status = orchestrator.JobStatusStalled
	job.StalledCount++
	s.jobs[jobID] = job

	return nil
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, jobID string) (orchestrator.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return orchestrator.Job{}, store.ErrJobNotFound
	}

	return job, nil
}

// ListStalled returns active jobs whose LastHeartbeat is before the cutoff.
func (s *Store) ListStalled(ctx context.Context, heartbeatBefore time.Time) ([]orchestrator.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stalled []orchestrator.Job
	for _, job := range s.jobs {
		if job.Status == orchestrator.JobStatusActive && job.LastHeartbeat.Before(heartbeatBefore) {
			stalled = append(stalled, job)
		}
	}

	return stalled, nil
}

// CountByStatus returns the number of jobs currently in the given status.
func (s *Store) CountByStatus(ctx context.Context, status orchestrator.JobStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, job := range s.jobs {
		if job.Status == status {
			count++
		}
	}

	return count, nil
}

// activeJob looks up a job and verifies it is active. A job that is missing
// counts as not active: a racing settle may already have purged it, and the
// guarded transitions report both cases the same way. Callers must hold s.mu.
func (s *Store) activeJob(jobID string) (orchestrator.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok || job.Status != orchestrator.JobStatusActive {
		return orchestrator.Job{}, store.ErrJobNotActive
	}
	return job, nil
}

// Load returns the tenant's migration state.
// Returns store.ErrTenantNotFound if the tenant has never been migrated.
func (s *Store) Load(ctx context.Context, tenantID string) (orchestrator.TenantState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[tenantID]
	if !ok {
		return orchestrator.TenantState{}, store.ErrTenantNotFound
	}

	// Copy the slice so callers cannot mutate stored state.
	applied := make([]string, len(state.AppliedIDs))
	copy(applied, state.AppliedIDs)
	state.AppliedIDs = applied

	return state, nil
}

// AppendApplied records an applied migration id with compare-and-set
// semantics on the number of applied ids.
func (s *Store) AppendApplied(ctx context.Context, tenantID, migrationID string, expectedApplied int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[tenantID]
	if !ok {
		state = orchestrator.TenantState{TenantID: tenantID}
	}

	if len(state.AppliedIDs) != expectedApplied {
		return orchestrator.ErrStaleState
	}
	if state.Applied(migrationID) {
		return orchestrator.ErrStaleState
	}

	state.AppliedIDs = append(state.AppliedIDs, migrationID)
	state.UpdatedAt = time.Now()
	s.states[tenantID] = state

	return nil
}
