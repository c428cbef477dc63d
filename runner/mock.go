package runner

import (
	"context"
	"sync"
)

// MockRunner is a configurable mock implementation of Runner for use in tests.
type MockRunner struct {
	mu sync.RWMutex

	// RunFunc is called by Run if set.
	RunFunc func(ctx context.Context, tenantID string) error

	// RunCalls tracks the tenant ids Run was invoked with.
	RunCalls []string
}

// Compile-time check that MockRunner implements Runner.
var _ Runner = (*MockRunner)(nil)

// NewMockRunner creates a new mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{}
}

// Run implements Runner.
func (m *MockRunner) Run(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	m.RunCalls = append(m.RunCalls, tenantID)
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, tenantID)
	}

	return nil
}

// Calls returns a copy of the recorded tenant ids.
func (m *MockRunner) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.RunCalls))
	copy(out, m.RunCalls)
	return out
}
