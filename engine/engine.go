package engine

import (
	"context"
	"errors"
	"time"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/getpup/migration-orchestrator/dispatch"
	"github.com/getpup/migration-orchestrator/metrics"
	"github.com/getpup/migration-orchestrator/queue"
	"github.com/getpup/migration-orchestrator/registry"
	"github.com/getpup/migration-orchestrator/runner"
	"github.com/getpup/migration-orchestrator/store"
)

// Config holds configuration for the Engine.
type Config struct {
	// Jobs is the durable job store shared by all producing and consuming
	// processes (required).
	Jobs store.JobStore

	// States is the tenant migration state store (required).
	States store.TenantStateStore

	// Registry holds the ordered migration definitions (required).
	Registry *registry.Registry

	// Runner is an optional custom runner. If nil, a default runner is
	// created from States and Registry.
	Runner runner.Runner

	// QueueName labels metrics for this queue (default: "migrations").
	QueueName string

	// Concurrency bounds simultaneously active jobs process-wide (default: 4).
	Concurrency int

	// MaxAttempts is the retry bound before a job is failed and alerted
	// (default: 3).
	MaxAttempts int

	// RetryBackoff is the base retry delay; actual delay grows with the
	// attempt count (default: 5s).
	RetryBackoff time.Duration

	// BusyRequeueDelay defers a job whose tenant was busy (default: 1s).
	BusyRequeueDelay time.Duration

	// StalledCheckInterval is how often stalled jobs are scanned for
	// (default: 30s).
	StalledCheckInterval time.Duration

	// StalledTimeout is the heartbeat liveness threshold (default: 30s).
	StalledTimeout time.Duration

	// MaxStalledCount is the stall tolerance before giving up (default: 1).
	MaxStalledCount int

	// HeartbeatInterval is the per-job heartbeat period (default: 5s).
	HeartbeatInterval time.Duration

	// PollInterval is the consumer idle poll period (default: 1s).
	PollInterval time.Duration

	// RemoveOnComplete purges completed jobs (default: true).
	RemoveOnComplete *bool

	// RemoveOnFail purges failed and stalled jobs (default: true).
	RemoveOnFail *bool

	// Alerter receives give-up alerts (optional).
	Alerter orchestrator.Alerter

	// Logger is for observability (optional).
	Logger orchestrator.Logger

	// MetricsEnabled enables Prometheus metrics collection (default: true).
	// Set to false explicitly to disable metrics.
	MetricsEnabled *bool
}

// Engine is the process-wide migration orchestrator: one durable queue, one
// consumer loop with bounded concurrency, one stalled-job monitor. Construct
// it once at process start and tear it down by cancelling the Run context.
type Engine struct {
	config     Config
	queue      *queue.Queue
	dispatcher *dispatch.Dispatcher
	collector  *metrics.Collector
}

// Compile-time check that Engine implements Orchestrator.
var _ orchestrator.Orchestrator = (*Engine)(nil)

// New creates a new Engine with the given configuration.
// Applies default values for all policy fields and wires the sub-components.
func New(cfg Config) (*Engine, error) {
	if cfg.Jobs == nil {
		return nil, errors.New("engine: Jobs store is required")
	}
	if cfg.States == nil {
		return nil, errors.New("engine: States store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("engine: Registry is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "migrations"
	}

	// Create metrics collector if enabled (default: true)
	var collector *metrics.Collector
	metricsEnabled := true
	if cfg.MetricsEnabled != nil {
		metricsEnabled = *cfg.MetricsEnabled
	}
	if metricsEnabled {
		collector = metrics.NewCollector(cfg.QueueName)
	}

	// Create or use provided runner
	run := cfg.Runner
	if run == nil {
		run = runner.New(runner.Config{
			States:    cfg.States,
			Registry:  cfg.Registry,
			Logger:    cfg.Logger,
			Collector: collector,
		})
	}

	// Create job queue
	q := queue.New(queue.Config{
		Store:                cfg.Jobs,
		MaxAttempts:          cfg.MaxAttempts,
		RetryBackoff:         cfg.RetryBackoff,
		BusyRequeueDelay:     cfg.BusyRequeueDelay,
		StalledCheckInterval: cfg.StalledCheckInterval,
		StalledTimeout:       cfg.StalledTimeout,
		MaxStalledCount:      cfg.MaxStalledCount,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		PollInterval:         cfg.PollInterval,
		RemoveOnComplete:     cfg.RemoveOnComplete,
		RemoveOnFail:         cfg.RemoveOnFail,
		Alerter:              cfg.Alerter,
		Logger:               cfg.Logger,
		Collector:            collector,
	})

	// Create dispatcher
	d := dispatch.New(dispatch.Config{
		Queue:       q,
		Runner:      run,
		Concurrency: cfg.Concurrency,
		Logger:      cfg.Logger,
		Collector:   collector,
	})

	return &Engine{
		config:     cfg,
		queue:      q,
		dispatcher: d,
		collector:  collector,
	}, nil
}

// Enqueue admits a new migration job for the tenant. Callable from any
// process sharing the durable job store.
func (e *Engine) Enqueue(ctx context.Context, tenantID string) (orchestrator.Job, error) {
	return e.queue.Enqueue(ctx, tenantID)
}

// Run starts the stalled-job monitor and the consumer loop, then blocks
// until ctx is cancelled. Returns nil after in-flight jobs have settled.
func (e *Engine) Run(ctx context.Context) error {
	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, "orchestrator starting",
			"queue", e.config.QueueName,
			"migrations", e.config.Registry.Len(),
			"latest", e.config.Registry.Latest())
	}

	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- e.queue.MonitorStalled(ctx)
	}()

	err := e.dispatcher.Run(ctx)
	<-monitorDone

	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, "orchestrator stopped", "queue", e.config.QueueName)
	}

	return err
}

// Queue exposes the underlying queue for operational tooling such as
// triggering an immediate stalled-job sweep.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}
