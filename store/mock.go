package store

import (
	"context"
	"sync"
	"time"

	orchestrator "github.com/getpup/migration-orchestrator"
)

// MockJobStore is a configurable mock implementation of JobStore for use in
// tests. It allows setting up expected return values, tracking method calls,
// and injecting errors for testing error paths.
type MockJobStore struct {
	mu sync.RWMutex

	// EnqueueFunc is called by Enqueue if set.
	EnqueueFunc func(ctx context.Context, tenantID string) (orchestrator.Job, error)

	// ClaimFunc is called by Claim if set.
	ClaimFunc func(ctx context.Context) (orchestrator.Job, error)

	// HeartbeatFunc is called by Heartbeat if set.
	HeartbeatFunc func(ctx context.Context, jobID string) error

	// CompleteFunc is called by Complete if set.
	CompleteFunc func(ctx context.Context, jobID string, remove bool) error

	// FailFunc is called by Fail if set.
	FailFunc func(ctx context.Context, jobID string, lastError string, remove bool) error

	// RetryFunc is called by Retry if set.
	RetryFunc func(ctx context.Context, jobID string, lastError string, notBefore time.Time) error

	// ReleaseFunc is called by Release if set.
	ReleaseFunc func(ctx context.Context, jobID string, notBefore time.Time) error

	// RequeueStalledFunc is called by RequeueStalled if set.
	RequeueStalledFunc func(ctx context.Context, jobID string) error

	// MarkStalledFunc is called by MarkStalled if set.
	MarkStalledFunc func(ctx context.Context, jobID string, remove bool) error

	// GetFunc is called by Get if set.
	GetFunc func(ctx context.Context, jobID string) (orchestrator.Job, error)

	// ListStalledFunc is called by ListStalled if set.
	ListStalledFunc func(ctx context.Context, heartbeatBefore time.Time) ([]orchestrator.Job, error)

	// CountByStatusFunc is called by CountByStatus if set.
	CountByStatusFunc func(ctx context.Context, status orchestrator.JobStatus) (int, error)

	// Call tracking
	EnqueueCalls        []EnqueueCall
	ClaimCalls          int
	HeartbeatCalls      []HeartbeatCall
	CompleteCalls       []CompleteCall
	FailCalls           []FailCall
	RetryCalls          []RetryCall
	ReleaseCalls        []ReleaseCall
	RequeueStalledCalls []RequeueStalledCall
	MarkStalledCalls    []MarkStalledCall
	GetCalls            []GetCall
	ListStalledCalls    []ListStalledCall
	CountByStatusCalls  []CountByStatusCall
}

// Call tracking structs
type EnqueueCall struct {
	TenantID string
}

type HeartbeatCall struct {
	JobID string
}

type CompleteCall struct {
	JobID  string
	Remove bool
}

type FailCall struct {
	JobID     string
	LastError string
	Remove    bool
}

type RetryCall struct {
	JobID     string
	LastError string
	NotBefore time.Time
}

type ReleaseCall struct {
	JobID     string
	NotBefore time.Time
}

type RequeueStalledCall struct {
	JobID string
}

type MarkStalledCall struct {
	JobID  string
	Remove bool
}

type GetCall struct {
	JobID string
}

type ListStalledCall struct {
	HeartbeatBefore time.Time
}

type CountByStatusCall struct {
	Status orchestrator.JobStatus
}

// NewMockJobStore creates a new mock job store.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{}
}

// Enqueue implements JobStore.
func (m *MockJobStore) Enqueue(ctx context.Context, tenantID string) (orchestrator.Job, error) {
	m.mu.Lock()
	m.EnqueueCalls = append(m.EnqueueCalls, EnqueueCall{TenantID: tenantID})
	m.mu.Unlock()

	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, tenantID)
	}

	return orchestrator.Job{TenantID: tenantID, Status: orchestrator.JobStatusWaiting}, nil
}

// Claim implements JobStore.
func (m *MockJobStore) Claim(ctx context.Context) (orchestrator.Job, error) {
	m.mu.Lock()
	m.ClaimCalls++
	m.mu.Unlock()

	if m.ClaimFunc != nil {
		return m.ClaimFunc(ctx)
	}

	return orchestrator.Job{}, orchestrator.ErrNoJobAvailable
}

// Heartbeat implements JobStore.
func (m *MockJobStore) Heartbeat(ctx context.Context, jobID string) error {
	m.mu.Lock()
	m.HeartbeatCalls = append(m.HeartbeatCalls, HeartbeatCall{JobID: jobID})
	m.mu.Unlock()

	if m.HeartbeatFunc != nil {
		return m.HeartbeatFunc(ctx, jobID)
	}

	return nil
}

// Complete implements JobStore.
func (m *MockJobStore) Complete(ctx context.Context, jobID string, remove bool) error {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, CompleteCall{JobID: jobID, Remove: remove})
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, jobID, remove)
	}

	return nil
}

// Fail implements JobStore.
func (m *MockJobStore) Fail(ctx context.Context, jobID string, lastError string, remove bool) error {
	m.mu.Lock()
	m.FailCalls = append(m.FailCalls, FailCall{JobID: jobID, LastError: lastError, Remove: remove})
	m.mu.Unlock()

	if m.FailFunc != nil {
		return m.FailFunc(ctx, jobID, lastError, remove)
	}

	return nil
}

// Retry implements JobStore.
func (m *MockJobStore) Retry(ctx context.Context, jobID string, lastError string, notBefore time.Time) error {
	m.mu.Lock()
	m.RetryCalls = append(m.RetryCalls, RetryCall{JobID: jobID, LastError: lastError, NotBefore: notBefore})
	m.mu.Unlock()

	if m.RetryFunc != nil {
		return m.RetryFunc(ctx, jobID, lastError, notBefore)
	}

	return nil
}

// Release implements JobStore.
func (m *MockJobStore) Release(ctx context.Context, jobID string, notBefore time.Time) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, ReleaseCall{JobID: jobID, NotBefore: notBefore})
	m.mu.Unlock()

	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, jobID, notBefore)
	}

	return nil
}

// RequeueStalled implements JobStore.
func (m *MockJobStore) RequeueStalled(ctx context.Context, jobID string) error {
	m.mu.Lock()
	m.RequeueStalledCalls = append(m.RequeueStalledCalls, RequeueStalledCall{JobID: jobID})
	m.mu.Unlock()

	if m.RequeueStalledFunc != nil {
		return m.RequeueStalledFunc(ctx, jobID)
	}

	return nil
}

// MarkStalled implements JobStore.
func (m *MockJobStore) MarkStalled(ctx context.Context, jobID string, remove bool) error {
	m.mu.Lock()
	m.MarkStalledCalls = append(m.MarkStalledCalls, MarkStalledCall{JobID: jobID, Remove: remove})
	m.mu.Unlock()

	if m.MarkStalledFunc != nil {
		return m.MarkStalledFunc(ctx, jobID, remove)
	}

	return nil
}

// Get implements JobStore.
func (m *MockJobStore) Get(ctx context.Context, jobID string) (orchestrator.Job, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, GetCall{JobID: jobID})
	m.mu.Unlock()

	if m.GetFunc != nil {
		return m.GetFunc(ctx, jobID)
	}

	return orchestrator.Job{}, ErrJobNotFound
}

// ListStalled implements JobStore.
func (m *MockJobStore) ListStalled(ctx context.Context, heartbeatBefore time.Time) ([]orchestrator.Job, error) {
	m.mu.Lock()
	m.ListStalledCalls = append(m.ListStalledCalls, ListStalledCall{HeartbeatBefore: heartbeatBefore})
	m.mu.Unlock()

	if m.ListStalledFunc != nil {
		return m.ListStalledFunc(ctx, heartbeatBefore)
	}

	return nil, nil
}

// CountByStatus implements JobStore.
func (m *MockJobStore) CountByStatus(ctx context.Context, status orchestrator.JobStatus) (int, error) {
	m.mu.Lock()
	m.CountByStatusCalls = append(m.CountByStatusCalls, CountByStatusCall{Status: status})
	m.mu.Unlock()

	if m.CountByStatusFunc != nil {
		return m.CountByStatusFunc(ctx, status)
	}

	return 0, nil
}

// MockTenantStateStore is a configurable mock implementation of
// TenantStateStore for use in tests.
type MockTenantStateStore struct {
	mu sync.RWMutex

	// LoadFunc is called by Load if set.
	LoadFunc func(ctx context.Context, tenantID string) (orchestrator.TenantState, error)

	// AppendAppliedFunc is called by AppendApplied if set.
	AppendAppliedFunc func(ctx context.Context, tenantID, migrationID string, expectedApplied int) error

	// Call tracking
	LoadCalls          []LoadCall
	AppendAppliedCalls []AppendAppliedCall
}

type LoadCall struct {
	TenantID string
}

type AppendAppliedCall struct {
	TenantID        string
	MigrationID     string
	ExpectedApplied int
}

// NewMockTenantStateStore creates a new mock tenant state store.
func NewMockTenantStateStore() *MockTenantStateStore {
	return &MockTenantStateStore{}
}

// Load implements TenantStateStore.
func (m *MockTenantStateStore) Load(ctx context.Context, tenantID string) (orchestrator.TenantState, error) {
	m.mu.Lock()
	m.LoadCalls = append(m.LoadCalls, LoadCall{TenantID: tenantID})
	m.mu.Unlock()

	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, tenantID)
	}

	return orchestrator.TenantState{}, ErrTenantNotFound
}

// AppendApplied implements TenantStateStore.
func (m *MockTenantStateStore) AppendApplied(ctx context.Context, tenantID, migrationID string, expectedApplied int) error {
	m.mu.Lock()
	m.AppendAppliedCalls = append(m.AppendAppliedCalls, AppendAppliedCall{
		TenantID:        tenantID,
		MigrationID:     migrationID,
		ExpectedApplied: expectedApplied,
	})
	m.mu.Unlock()

	if m.AppendAppliedFunc != nil {
		return m.AppendAppliedFunc(ctx, tenantID, migrationID, expectedApplied)
	}

	return nil
}
