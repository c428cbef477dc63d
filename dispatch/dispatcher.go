package dispatch

import (
	"context"
	"fmt"
	"sync"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/getpup/migration-orchestrator/metrics"
	"github.com/getpup/migration-orchestrator/queue"
	"github.com/getpup/migration-orchestrator/runner"
)

// Config holds configuration for the Dispatcher.
type Config struct {
	// Queue is the job queue to consume from (required).
	Queue *queue.Queue

	// Runner executes the pending migrations for one tenant (required).
	Runner runner.Runner

	// Concurrency bounds the number of simultaneously active jobs
	// process-wide (default: 4).
	Concurrency int

	// Logger is for observability (optional).
	Logger orchestrator.Logger

	// Collector records dispatch metrics (optional).
	Collector *metrics.Collector
}

// Dispatcher pulls jobs from the queue with bounded concurrency, invokes the
// runner, and maps its result to the queue's success/failure contract. The
// queue itself imposes no per-tenant exclusivity, so the dispatcher guards a
// claimed-tenant set with a single lock: two jobs for the same tenant can be
// claimed concurrently but only one of them runs, the other is handed back
// as tenant-busy without counting an attempt.
type Dispatcher struct {
	config Config

	mu       sync.Mutex
	inflight map[string]bool // tenantID -> claimed
}

// New creates a new Dispatcher with the given configuration.
// Applies the default concurrency if zero.
func New(cfg Config) *Dispatcher {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}

	return &Dispatcher{
		config:   cfg,
		inflight: make(map[string]bool),
	}
}

// Run registers the consumer loop with the queue and blocks until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.config.Queue.Process(ctx, d.config.Concurrency, d.Handle)
}

// Handle processes one claimed job: acquire the tenant lock, run the
// migrations, release the lock regardless of outcome.
func (d *Dispatcher) Handle(ctx context.Context, job orchestrator.Job) error {
	if !d.acquire(job.TenantID) {
		if d.config.Collector != nil {
			d.config.Collector.IncTenantBusy()
		}
		if d.config.Logger != nil {
			d.config.Logger.Debug(ctx, "tenant already in flight, releasing job",
				"jobID", job.ID, "tenantID", job.TenantID)
		}
		return fmt.Errorf("tenant %s: %w", job.TenantID, orchestrator.ErrTenantBusy)
	}
	defer d.release(job.TenantID)

	return d.config.Runner.Run(ctx, job.TenantID)
}

func (d *Dispatcher) acquire(tenantID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inflight[tenantID] {
		return false
	}
	d.inflight[tenantID] = true
	return true
}

func (d *Dispatcher) release(tenantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inflight, tenantID)
}
