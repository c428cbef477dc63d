package orchestrator

import "context"

// Orchestrator schedules and supervises tenant migration jobs over a durable
// queue shared by multiple producing processes.
type Orchestrator interface {
	// Enqueue admits a new migration job for the tenant. Duplicate enqueues
	// for the same tenant create independent job instances; the dispatcher's
	// per-tenant lock prevents them from running concurrently.
	Enqueue(ctx context.Context, tenantID string) (Job, error)

	// Run starts the consumer loop and the stalled-job monitor. It blocks
	// until ctx is cancelled or a fatal error occurs.
	//
	// Run returns nil when ctx is cancelled and graceful shutdown completes.
	Run(ctx context.Context) error
}
