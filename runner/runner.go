package runner

import (
	"context"
	"errors"
	"time"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/getpup/migration-orchestrator/metrics"
	"github.com/getpup/migration-orchestrator/registry"
	"github.com/getpup/migration-orchestrator/store"
)

// Config configures the migration runner.
type Config struct {
	// States is the tenant state store (required).
	States store.TenantStateStore

	// Registry holds the ordered migration definitions (required).
	Registry *registry.Registry

	// Logger is an optional logger for observability.
	Logger orchestrator.Logger

	// Collector records applied-step metrics (optional).
	Collector *metrics.Collector
}

// Migrator applies the migrations a tenant still needs, in registration
// order, persisting progress after each individually successful step.
type Migrator struct {
	config Config
}

// Compile-time check that Migrator implements Runner.
var _ Runner = (*Migrator)(nil)

// New creates a new Migrator with the given configuration.
func New(cfg Config) *Migrator {
	return &Migrator{
		config: cfg,
	}
}

// Run loads the tenant's migration state (synthesizing an empty one for a
// tenant that has never been migrated), asks the registry for the remaining
// steps, and applies them in order. After each successful step the applied id
// is persisted immediately, so a mid-run crash loses at most one
// partially-applied step and never the record of prior successes.
//
// On step failure Run stops immediately and returns a *orchestrator.StepError
// carrying the failing step's id and the underlying cause; subsequent steps
// are not attempted. Retry is a property of the job, not of the step: Run
// never retries a step internally.
func (m *Migrator) Run(ctx context.Context, tenantID string) error {
	state, err := m.config.States.Load(ctx, tenantID)
	if errors.Is(err, store.ErrTenantNotFound) {
		state = orchestrator.TenantState{TenantID: tenantID}
	} else if err != nil {
		return err
	}

	steps := m.config.Registry.StepsFor(state)
	if len(steps) == 0 {
		if m.config.Logger != nil {
			m.config.Logger.Debug(ctx, "tenant already current", "tenantID", tenantID, "applied", len(state.AppliedIDs))
		}
		return nil
	}

	applied := len(state.AppliedIDs)
	for _, step := range steps {
		start := time.Now()

		if err := step.Apply(ctx, tenantID); err != nil {
			if m.config.Logger != nil {
				m.config.Logger.Error(ctx, "migration step failed",
					"tenantID", tenantID,
					"migrationID", step.ID(),
					"error", err)
			}
			return &orchestrator.StepError{MigrationID: step.ID(), TenantID: tenantID, Err: err}
		}

		// Persist immediately, not batched at the end. A stale-state
		// conflict means another run raced us on this tenant; surface it
		// as a retryable step failure rather than proceeding and risking
		// a skipped migration id.
		if err := m.config.States.AppendApplied(ctx, tenantID, step.ID(), applied); err != nil {
			return &orchestrator.StepError{MigrationID: step.ID(), TenantID: tenantID, Err: err}
		}
		applied++

		if m.config.Collector != nil {
			m.config.Collector.IncStepsApplied()
		}
		if m.config.Logger != nil {
			m.config.Logger.Info(ctx, "migration step applied",
				"tenantID", tenantID,
				"migrationID", step.ID(),
				"duration", time.Since(start))
		}
	}

	return nil
}
