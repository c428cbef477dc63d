package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/getpup/migration-orchestrator/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAndClaim(t *testing.T) {
	s := New()
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "tenant-1")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, orchestrator.JobStatusWaiting, job.Status)
	assert.False(t, job.EnqueuedAt.IsZero())

	claimed, err := s.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, orchestrator.JobStatusActive, claimed.Status)
	assert.False(t, claimed.ClaimedAt.IsZero())
	assert.False(t, claimed.LastHeartbeat.IsZero())

	_, err = s.Claim(ctx)
	assert.ErrorIs(t, err, orchestrator.ErrNoJobAvailable)
}

func TestClaimOrdersByEnqueueTime(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.Enqueue(ctx, "tenant-1")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)

	second, err := s.Enqueue(ctx, "tenant-2")
	require.NoError(t, err)

	claimed, err := s.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)

	claimed, err = s.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimed.ID)
}

func TestClaimIsAtomicUnderConcurrency(t *testing.T) {
	s := New()
	ctx := context.Background()

	const jobCount = 50
	for i := 0; i < jobCount; i++ {
		_, err := s.Enqueue(ctx, "tenant")
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimed := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := s.Claim(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobCount)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestClaimHonorsNotBefore(t *testing.T) {
	s := New()
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "tenant-1")
	require.NoError(t, err)

	_, err = s.Claim(ctx)
	require.NoError(t, err)

	// Retried with a delay: not claimable until NotBefore passes.
	require.NoError(t, s.Retry(ctx, job.ID, "boom", time.Now().Add(time.Hour)))

	_, err = s.Claim(ctx)
	assert.ErrorIs(t, err, orchestrator.ErrNoJobAvailable)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.JobStatusWaiting, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "boom", got.LastError)
}

func TestCompleteRemovesOrRetains(t *testing.T) {
	s := New()
	ctx := context.Background()

	t.Run("remove purges the job", func(t *testing.T) {
		job, err := s.Enqueue(ctx, "tenant-1")
		require.NoError(t, err)
		_, err = s.Claim(ctx)
		require.NoError(t, err)

		require.NoError(t, s.Complete(ctx, job.ID, true))

		_, err = s.Get(ctx, job.ID)
		assert.ErrorIs(t, err, store.ErrJobNotFound)
	})

	t.Run("retain keeps a terminal record", func(t *testing.T) {
		job, err := s.Enqueue(ctx, "tenant-2")
		require.NoError(t, err)
		_, err = s.Claim(ctx)
		require.NoError(t, err)

		require.NoError(t, s.Complete(ctx, job.ID, false))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, orchestrator.JobStatusCompleted, got.Status)
	})
}

func TestTransitionsRequireActiveJob(t *testing.T) {
	s := New()
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "tenant-1")
	require.NoError(t, err)

	// Every active-guarded transition refuses a waiting job. This is what
	// makes the stall reaper safe against a worker settling concurrently.
	assert.ErrorIs(t, s.Heartbeat(ctx, job.ID), store.ErrJobNotActive)
	assert.ErrorIs(t, s.Complete(ctx, job.ID, true), store.ErrJobNotActive)
	assert.ErrorIs(t, s.Fail(ctx, job.ID, "x", true), store.ErrJobNotActive)
	assert.ErrorIs(t, s.Retry(ctx, job.ID, "x", time.Now()), store.ErrJobNotActive)
	assert.ErrorIs(t, s.Release(ctx, job.ID, time.Now()), store.ErrJobNotActive)
	assert.ErrorIs(t, s.RequeueStalled(ctx, job.ID), store.ErrJobNotActive)
	assert.ErrorIs(t, s.MarkStalled(ctx, job.ID, true), store.ErrJobNotActive)

	// An unknown id is indistinguishable from a purged one; both are
	// no-longer-active to a guarded transition. Only Get reports not-found.
	assert.ErrorIs(t, s.Heartbeat(ctx, "missing"), store.ErrJobNotActive)
	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestTransitionsOnPurgedJobReportNotActive(t *testing.T) {
	s := New()
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "tenant-1")
	require.NoError(t, err)
	_, err = s.Claim(ctx)
	require.NoError(t, err)

	// Reaper purged the job while a slow worker was still running; the
	// worker's late settle must read as a lost race, not a store error.
	require.NoError(t, s.MarkStalled(ctx, job.ID, true))

	assert.ErrorIs(t, s.Complete(ctx, job.ID, true), store.ErrJobNotActive)
	assert.ErrorIs(t, s.Retry(ctx, job.ID, "x", time.Now()), store.ErrJobNotActive)
	assert.ErrorIs(t, s.Heartbeat(ctx, job.ID), store.ErrJobNotActive)
}

func TestFailAndRetryCountAttempts(t *testing.T) {
	s := New()
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "tenant-1")
	require.NoError(t, err)
	_, err = s.Claim(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Retry(ctx, job.ID, "first failure", time.Now()))

	claimed, err := s.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.Attempts)

	require.NoError(t, s.Fail(ctx, job.ID, "second failure", false))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.JobStatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "second failure", got.LastError)
}

func TestReleaseDoesNotCountAttempt(t *testing.T) {
	s := New()
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "tenant-1")
	require.NoError(t, err)
	_, err = s.Claim(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, job.ID, time.Now()))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.JobStatusWaiting, got.Status)
	assert.Equal(t, 0, got.Attempts)
}

func TestStallLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "tenant-1")
	require.NoError(t, err)
	_, err = s.Claim(ctx)
	require.NoError(t, err)

	// Fresh heartbeat: not stalled against a past cutoff.
	stalled, err := s.ListStalled(ctx, time.Now().Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, stalled)

	// Expired against a future cutoff.
	stalled, err = s.ListStalled(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, job.ID, stalled[0].ID)

	// First expiry: requeued with StalledCount incremented.
	require.NoError(t, s.RequeueStalled(ctx, job.ID))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.JobStatusWaiting, got.Status)
	assert.Equal(t, 1, got.StalledCount)

	// Second expiry: marked stalled terminally.
	_, err = s.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, s.MarkStalled(ctx, job.ID, false))

	got, err = s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.JobStatusStalled, got.Status)
	assert.Equal(t, 2, got.StalledCount)
}

func TestHeartbeatKeepsJobOffStallList(t *testing.T) {
	s := New()
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "tenant-1")
	require.NoError(t, err)
	_, err = s.Claim(ctx)
	require.NoError(t, err)

	cutoff := time.Now()
	time.Sleep(time.Millisecond)
	require.NoError(t, s.Heartbeat(ctx, job.ID))

	stalled, err := s.ListStalled(ctx, cutoff)
	require.NoError(t, err)
	assert.Empty(t, stalled)
}

func TestCountByStatus(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Enqueue(ctx, "tenant")
		require.NoError(t, err)
	}
	_, err := s.Claim(ctx)
	require.NoError(t, err)

	waiting, err := s.CountByStatus(ctx, orchestrator.JobStatusWaiting)
	require.NoError(t, err)
	assert.Equal(t, 2, waiting)

	active, err := s.CountByStatus(ctx, orchestrator.JobStatusActive)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	completed, err := s.CountByStatus(ctx, orchestrator.JobStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)
}

func TestTenantState(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Load(ctx, "tenant-1")
	assert.ErrorIs(t, err, store.ErrTenantNotFound)

	require.NoError(t, s.AppendApplied(ctx, "tenant-1", "0001_init", 0))
	require.NoError(t, s.AppendApplied(ctx, "tenant-1", "0002_indexes", 1))

	state, err := s.Load(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init", "0002_indexes"}, state.AppliedIDs)
	assert.False(t, state.UpdatedAt.IsZero())
}

func TestAppendAppliedCompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.AppendApplied(ctx, "tenant-1", "0001_init", 0))

	// Wrong expected ordinal.
	err := s.AppendApplied(ctx, "tenant-1", "0002_indexes", 0)
	assert.ErrorIs(t, err, orchestrator.ErrStaleState)

	// Duplicate migration id.
	err = s.AppendApplied(ctx, "tenant-1", "0001_init", 1)
	assert.ErrorIs(t, err, orchestrator.ErrStaleState)

	state, err := s.Load(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init"}, state.AppliedIDs)
}

func TestLoadReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.AppendApplied(ctx, "tenant-1", "0001_init", 0))

	state, err := s.Load(ctx, "tenant-1")
	require.NoError(t, err)
	state.AppliedIDs[0] = "mutated"

	fresh, err := s.Load(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init"}, fresh.AppliedIDs)
}
