package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/getpup/migration-orchestrator/queue"
	"github.com/getpup/migration-orchestrator/runner"
	"github.com/getpup/migration-orchestrator/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_RunsTenantMigrations(t *testing.T) {
	mock := runner.NewMockRunner()
	d := New(Config{Runner: mock})

	err := d.Handle(context.Background(), orchestrator.Job{ID: "job-1", TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-1"}, mock.Calls())
}

func TestHandle_PropagatesRunnerError(t *testing.T) {
	mock := runner.NewMockRunner()
	mock.RunFunc = func(ctx context.Context, tenantID string) error {
		return errors.New("step blew up")
	}
	d := New(Config{Runner: mock})

	err := d.Handle(context.Background(), orchestrator.Job{ID: "job-1", TenantID: "tenant-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step blew up")
}

func TestHandle_SameTenantIsBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	mock := runner.NewMockRunner()
	mock.RunFunc = func(ctx context.Context, tenantID string) error {
		close(started)
		<-release
		return nil
	}
	d := New(Config{Runner: mock})

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- d.Handle(context.Background(), orchestrator.Job{ID: "job-1", TenantID: "tenant-1"})
	}()
	<-started

	// Second job for the same tenant is refused without running.
	err := d.Handle(context.Background(), orchestrator.Job{ID: "job-2", TenantID: "tenant-1"})
	require.ErrorIs(t, err, orchestrator.ErrTenantBusy)
	assert.Contains(t, err.Error(), "tenant-1")

	close(release)
	require.NoError(t, <-firstDone)
	assert.Equal(t, []string{"tenant-1"}, mock.Calls())
}

func TestHandle_DifferentTenantsRunConcurrently(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	mock := runner.NewMockRunner()
	mock.RunFunc = func(ctx context.Context, tenantID string) error {
		if tenantID == "tenant-1" {
			close(started)
			<-release
		}
		return nil
	}
	d := New(Config{Runner: mock})

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- d.Handle(context.Background(), orchestrator.Job{ID: "job-1", TenantID: "tenant-1"})
	}()
	<-started

	err := d.Handle(context.Background(), orchestrator.Job{ID: "job-2", TenantID: "tenant-2"})
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-firstDone)
}

func TestHandle_TenantFreedAfterFailure(t *testing.T) {
	mock := runner.NewMockRunner()
	mock.RunFunc = func(ctx context.Context, tenantID string) error {
		return errors.New("transient")
	}
	d := New(Config{Runner: mock})

	job := orchestrator.Job{ID: "job-1", TenantID: "tenant-1"}
	require.Error(t, d.Handle(context.Background(), job))

	// The lock is not leaked; a later job for the tenant runs again.
	mock.RunFunc = nil
	require.NoError(t, d.Handle(context.Background(), job))
}

func TestRun_DrainsQueue(t *testing.T) {
	s := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two jobs for the same tenant and one for another: the duplicate gets
	// bounced as tenant-busy and re-claimed, so every job still completes.
	for _, tenant := range []string{"tenant-1", "tenant-1", "tenant-2"} {
		_, err := s.Enqueue(ctx, tenant)
		require.NoError(t, err)
	}

	q := queue.New(queue.Config{
		Store:            s,
		PollInterval:     time.Millisecond,
		BusyRequeueDelay: time.Millisecond,
	})

	var mu sync.Mutex
	runs := map[string]int{}

	mock := runner.NewMockRunner()
	mock.RunFunc = func(ctx context.Context, tenantID string) error {
		mu.Lock()
		runs[tenantID]++
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	d := New(Config{Queue: q, Runner: mock, Concurrency: 4})

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, status := range []orchestrator.JobStatus{
			orchestrator.JobStatusWaiting,
			orchestrator.JobStatusActive,
		} {
			n, err := s.CountByStatus(ctx, status)
			if err != nil || n != 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond, "all jobs should drain")

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, runs["tenant-1"])
	assert.Equal(t, 1, runs["tenant-2"])
}

func TestRun_TenantBusyDoesNotBurnAttempts(t *testing.T) {
	s := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		_, err := s.Enqueue(ctx, "tenant-1")
		require.NoError(t, err)
	}

	// MaxAttempts 1: any counted attempt fails the job outright, so a
	// tenant-busy bounce that burned an attempt would surface as a failure.
	q := queue.New(queue.Config{
		Store:            s,
		MaxAttempts:      1,
		PollInterval:     time.Millisecond,
		BusyRequeueDelay: time.Millisecond,
	})

	var runs int32
	mock := runner.NewMockRunner()
	mock.RunFunc = func(ctx context.Context, tenantID string) error {
		atomic.AddInt32(&runs, 1)
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	d := New(Config{Queue: q, Runner: mock, Concurrency: 3})

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) == 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	failed, err := s.CountByStatus(context.Background(), orchestrator.JobStatusFailed)
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestNew_DefaultConcurrency(t *testing.T) {
	d := New(Config{})
	assert.Equal(t, 4, d.config.Concurrency)
}
