package store

import "errors"

var (
	// ErrJobNotFound indicates the specified job does not exist in the job store.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotActive indicates a transition out of the active state was
	// requested for a job that is no longer active. Callers treat this as
	// "another actor already settled the job".
	ErrJobNotActive = errors.New("job not active")

	// ErrTenantNotFound indicates the tenant has no persisted migration state.
	ErrTenantNotFound = errors.New("tenant not found")
)
