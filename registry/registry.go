package registry

import (
	"fmt"

	orchestrator "github.com/getpup/migration-orchestrator"
)

// Registry holds the ordered, versioned list of migration definitions.
// Registration order is the application order and is itself a correctness
// invariant: no definition may be re-ordered after release. The registry is
// pure data; it performs no I/O.
type Registry struct {
	migrations []orchestrator.Migration
	index      map[string]int
}

// New creates a Registry from the given migrations in order.
// Returns an error if an id is empty, duplicated, or not strictly greater
// than the id registered before it.
func New(migrations ...orchestrator.Migration) (*Registry, error) {
	r := &Registry{
		index: make(map[string]int, len(migrations)),
	}

	for _, m := range migrations {
		if err := r.register(m); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// MustNew is like New but panics on invalid registration. Intended for
// package-level registries built from literals at process start.
func MustNew(migrations ...orchestrator.Migration) *Registry {
	r, err := New(migrations...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) register(m orchestrator.Migration) error {
	id := m.ID()
	if id == "" {
		return fmt.Errorf("migration id cannot be empty")
	}
	if _, exists := r.index[id]; exists {
		return fmt.Errorf("migration %s is already registered", id)
	}
	if n := len(r.migrations); n > 0 {
		if prev := r.migrations[n-1].ID(); id <= prev {
			return fmt.Errorf("migration %s is not ordered after %s", id, prev)
		}
	}

	r.index[id] = len(r.migrations)
	r.migrations = append(r.migrations, m)
	return nil
}

// StepsFor returns, in registration order, every migration whose id is not
// yet in the tenant's applied set. Deterministic: identical state yields
// identical, identically-ordered output. An empty result means the tenant
// is already current.
func (r *Registry) StepsFor(state orchestrator.TenantState) []orchestrator.Migration {
	applied := make(map[string]bool, len(state.AppliedIDs))
	for _, id := range state.AppliedIDs {
		applied[id] = true
	}

	var steps []orchestrator.Migration
	for _, m := range r.migrations {
		if !applied[m.ID()] {
			steps = append(steps, m)
		}
	}

	return steps
}

// Latest returns the id of the last registered migration, or "" if the
// registry is empty.
func (r *Registry) Latest() string {
	if len(r.migrations) == 0 {
		return ""
	}
	return r.migrations[len(r.migrations)-1].ID()
}

// Len returns the number of registered migrations.
func (r *Registry) Len() int {
	return len(r.migrations)
}

// All returns a copy of the registered migrations in order.
func (r *Registry) All() []orchestrator.Migration {
	out := make([]orchestrator.Migration, len(r.migrations))
	copy(out, r.migrations)
	return out
}
