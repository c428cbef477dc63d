package registry

import (
	"context"
	"testing"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(id string) orchestrator.Migration {
	return orchestrator.MigrationFunc(id, func(ctx context.Context, tenantID string) error {
		return nil
	})
}

func TestNew(t *testing.T) {
	t.Run("valid ordered migrations", func(t *testing.T) {
		r, err := New(noop("0001_init"), noop("0002_indexes"), noop("0003_backfill"))
		require.NoError(t, err)

		assert.Equal(t, 3, r.Len())
		assert.Equal(t, "0003_backfill", r.Latest())
	})

	t.Run("empty registry", func(t *testing.T) {
		r, err := New()
		require.NoError(t, err)

		assert.Equal(t, 0, r.Len())
		assert.Equal(t, "", r.Latest())
	})

	t.Run("empty id rejected", func(t *testing.T) {
		_, err := New(noop(""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot be empty")
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		_, err := New(noop("0001_init"), noop("0001_init"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("out of order id rejected", func(t *testing.T) {
		_, err := New(noop("0002_indexes"), noop("0001_init"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not ordered after")
	})
}

func TestMustNew(t *testing.T) {
	t.Run("valid migrations do not panic", func(t *testing.T) {
		r := MustNew(noop("0001_init"))
		assert.Equal(t, 1, r.Len())
	})

	t.Run("invalid migrations panic", func(t *testing.T) {
		assert.Panics(t, func() {
			MustNew(noop("0001_init"), noop("0001_init"))
		})
	})
}

func TestStepsFor(t *testing.T) {
	r := MustNew(noop("0001_init"), noop("0002_indexes"), noop("0003_backfill"))

	t.Run("empty state returns all steps in order", func(t *testing.T) {
		steps := r.StepsFor(orchestrator.TenantState{TenantID: "tenant-1"})

		require.Len(t, steps, 3)
		assert.Equal(t, "0001_init", steps[0].ID())
		assert.Equal(t, "0002_indexes", steps[1].ID())
		assert.Equal(t, "0003_backfill", steps[2].ID())
	})

	t.Run("partially migrated tenant gets the remaining suffix", func(t *testing.T) {
		state := orchestrator.TenantState{
			TenantID:   "tenant-1",
			AppliedIDs: []string{"0001_init"},
		}
		steps := r.StepsFor(state)

		require.Len(t, steps, 2)
		assert.Equal(t, "0002_indexes", steps[0].ID())
		assert.Equal(t, "0003_backfill", steps[1].ID())
	})

	t.Run("current tenant gets no steps", func(t *testing.T) {
		state := orchestrator.TenantState{
			TenantID:   "tenant-1",
			AppliedIDs: []string{"0001_init", "0002_indexes", "0003_backfill"},
		}
		assert.Empty(t, r.StepsFor(state))
	})

	t.Run("unknown applied ids are ignored", func(t *testing.T) {
		// A state written by a newer deployment may list ids this build
		// does not know; they must not affect the remaining steps.
		state := orchestrator.TenantState{
			TenantID:   "tenant-1",
			AppliedIDs: []string{"0001_init", "0004_future"},
		}
		steps := r.StepsFor(state)

		require.Len(t, steps, 2)
		assert.Equal(t, "0002_indexes", steps[0].ID())
	})

	t.Run("deterministic output", func(t *testing.T) {
		state := orchestrator.TenantState{
			TenantID:   "tenant-1",
			AppliedIDs: []string{"0002_indexes"},
		}

		first := r.StepsFor(state)
		second := r.StepsFor(state)

		require.Equal(t, len(first), len(second))
		for i := range first {
			assert.Equal(t, first[i].ID(), second[i].ID())
		}
	})
}

func TestAll(t *testing.T) {
	r := MustNew(noop("0001_init"), noop("0002_indexes"))

	all := r.All()
	require.Len(t, all, 2)

	// Mutating the returned slice does not affect the registry.
	all[0] = noop("9999_other")
	assert.Equal(t, "0001_init", r.All()[0].ID())
}
