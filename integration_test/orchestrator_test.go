//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/getpup/migration-orchestrator/engine"
	"github.com/getpup/migration-orchestrator/registry"
	"github.com/getpup/migration-orchestrator/store"
	pgstore "github.com/getpup/migration-orchestrator/store/postgres"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresJobLifecycle(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	setupTables(t, db)
	defer teardownTables(t, db)

	s := pgstore.New(db)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.JobStatusWaiting, job.Status)

	claimed, err := s.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, orchestrator.JobStatusActive, claimed.Status)

	// Queue is empty while the job is active.
	_, err = s.Claim(ctx)
	assert.ErrorIs(t, err, orchestrator.ErrNoJobAvailable)

	require.NoError(t, s.Heartbeat(ctx, job.ID))

	require.NoError(t, s.Complete(ctx, job.ID, true))

	_, err = s.Get(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestPostgresClaimIsAtomic(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	setupTables(t, db)
	defer teardownTables(t, db)

	s := pgstore.New(db)
	ctx := context.Background()

	const jobCount = 10
	for i := 0; i < jobCount; i++ {
		_, err := s.Enqueue(ctx, fmt.Sprintf("tenant-%d", i))
		require.NoError(t, err)
	}

	// Many workers race on the queue; every job must be claimed exactly once.
	var mu sync.Mutex
	claimed := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := s.Claim(ctx)
				if err == orchestrator.ErrNoJobAvailable {
					return
				}
				if err != nil {
					t.Errorf("claim failed: %v", err)
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

func TestPostgresAppendAppliedCompareAndSet(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	setupTables(t, db)
	defer teardownTables(t, db)

	s := pgstore.New(db)
	ctx := context.Background()

	require.NoError(t, s.AppendApplied(ctx, "tenant-1", "0001_init", 0))

	// Two writers race on position 1; exactly one append wins.
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []string{"0002_left", "0002_right"} {
		wg.Add(1)
		go func(migrationID string) {
			defer wg.Done()
			results <- s.AppendApplied(ctx, "tenant-1", migrationID, 1)
		}(id)
	}
	wg.Wait()
	close(results)

	var okCount, staleCount int
	for err := range results {
		switch {
		case err == nil:
			okCount++
		case err == orchestrator.ErrStaleState:
			staleCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, staleCount)

	state, err := s.Load(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, state.AppliedIDs, 2)
	assert.Equal(t, "0001_init", state.AppliedIDs[0])
}

func TestPostgresStalledDetection(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	setupTables(t, db)
	defer teardownTables(t, db)

	s := pgstore.New(db)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "tenant-1")
	require.NoError(t, err)

	_, err = s.Claim(ctx)
	require.NoError(t, err)

	// A fresh heartbeat is not stalled against a past cutoff.
	stalled, err := s.ListStalled(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stalled)

	// A future cutoff treats the job as expired.
	stalled, err = s.ListStalled(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, job.ID, stalled[0].ID)

	// First expiry requeues; the job becomes claimable again.
	require.NoError(t, s.RequeueStalled(ctx, job.ID))

	requeued, err := s.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, requeued.ID)
	assert.Equal(t, 1, requeued.StalledCount)
}

func TestEngineAppliesMigrationsEndToEnd(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	setupTables(t, db)
	defer teardownTables(t, db)

	s := pgstore.New(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var mu sync.Mutex
	applied := make(map[string][]string)

	record := func(id string) orchestrator.Migration {
		return orchestrator.MigrationFunc(id, func(ctx context.Context, tenantID string) error {
			mu.Lock()
			applied[tenantID] = append(applied[tenantID], id)
			mu.Unlock()
			return nil
		})
	}

	reg := registry.MustNew(record("0001_init"), record("0002_indexes"), record("0003_backfill"))

	// tenant-b already has the first migration applied.
	require.NoError(t, s.AppendApplied(ctx, "tenant-b", "0001_init", 0))

	eng, err := engine.New(engine.Config{
		Jobs:         s,
		States:       s,
		Registry:     reg,
		Concurrency:  2,
		PollInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = eng.Enqueue(ctx, "tenant-a")
	require.NoError(t, err)
	_, err = eng.Enqueue(ctx, "tenant-b")
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()

	require.Eventually(t, func() bool {
		waiting, err := s.CountByStatus(ctx, orchestrator.JobStatusWaiting)
		if err != nil {
			return false
		}
		active, err := s.CountByStatus(ctx, orchestrator.JobStatusActive)
		if err != nil {
			return false
		}
		return waiting == 0 && active == 0
	}, 20*time.Second, 100*time.Millisecond)

	stop()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"0001_init", "0002_indexes", "0003_backfill"}, applied["tenant-a"])
	assert.Equal(t, []string{"0002_indexes", "0003_backfill"}, applied["tenant-b"])

	stateA, err := s.Load(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init", "0002_indexes", "0003_backfill"}, stateA.AppliedIDs)

	stateB, err := s.Load(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init", "0002_indexes", "0003_backfill"}, stateB.AppliedIDs)
}

func TestEngineResumesAfterFailure(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	setupTables(t, db)
	defer teardownTables(t, db)

	s := pgstore.New(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The second step fails once, then succeeds on retry. Progress from the
	// first step must survive the failure.
	var mu sync.Mutex
	var failures int
	var steps []string

	reg := registry.MustNew(
		orchestrator.MigrationFunc("0001_init", func(ctx context.Context, tenantID string) error {
			mu.Lock()
			steps = append(steps, "0001_init")
			mu.Unlock()
			return nil
		}),
		orchestrator.MigrationFunc("0002_flaky", func(ctx context.Context, tenantID string) error {
			mu.Lock()
			defer mu.Unlock()
			if failures == 0 {
				failures++
				return fmt.Errorf("transient failure")
			}
			steps = append(steps, "0002_flaky")
			return nil
		}),
	)

	eng, err := engine.New(engine.Config{
		Jobs:         s,
		States:       s,
		Registry:     reg,
		Concurrency:  1,
		MaxAttempts:  3,
		RetryBackoff: 100 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = eng.Enqueue(ctx, "tenant-1")
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()

	require.Eventually(t, func() bool {
		state, err := s.Load(ctx, "tenant-1")
		return err == nil && len(state.AppliedIDs) == 2
	}, 20*time.Second, 100*time.Millisecond)

	stop()
	require.NoError(t, <-done)

	// The first step ran exactly once even though the job was retried.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"0001_init", "0002_flaky"}, steps)
}
