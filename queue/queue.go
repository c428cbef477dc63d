package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/getpup/migration-orchestrator/metrics"
	"github.com/getpup/migration-orchestrator/store"
)

// Handler processes one claimed job. A nil return completes the job; an
// error triggers the retry policy. Returning orchestrator.ErrTenantBusy
// (wrapped or not) re-queues the job without counting an attempt.
type Handler func(ctx context.Context, job orchestrator.Job) error

// Config holds configuration for the Queue.
type Config struct {
	// Store is the durable job store (required).
	Store store.JobStore

	// MaxAttempts is the number of failed attempts after which a job is
	// marked failed and alerted (default: 3).
	MaxAttempts int

	// RetryBackoff is the base delay before re-claiming a failed job. The
	// actual delay is attempts * RetryBackoff, monotonically non-decreasing
	// with the attempt count (default: 5s).
	RetryBackoff time.Duration

	// BusyRequeueDelay is how long a job waits before being re-claimed
	// after its tenant was found busy (default: 1s).
	BusyRequeueDelay time.Duration

	// StalledCheckInterval is how often the stalled-job monitor scans for
	// active jobs without a recent heartbeat (default: 30s).
	StalledCheckInterval time.Duration

	// StalledTimeout is the liveness threshold: an active job whose last
	// heartbeat is older than this is considered stalled (default: 30s).
	StalledTimeout time.Duration

	// MaxStalledCount is how many stall detections per job are tolerated
	// by re-queueing before the job is marked stalled (default: 1).
	MaxStalledCount int

	// HeartbeatInterval is the interval between liveness heartbeats while
	// a handler runs (default: 5s). Must be well below StalledTimeout.
	HeartbeatInterval time.Duration

	// PollInterval is how long the consumer loop sleeps when no job is
	// claimable (default: 1s).
	PollInterval time.Duration

	// RemoveOnComplete purges completed jobs instead of retaining them for
	// inspection (default: true, bounding storage growth).
	RemoveOnComplete *bool

	// RemoveOnFail purges failed and stalled jobs instead of retaining
	// them for inspection (default: true).
	RemoveOnFail *bool

	// Alerter is invoked for every job that stalls out or exhausts its
	// retries (optional). Failures inside the alerter never re-enter the
	// queue's retry accounting.
	Alerter orchestrator.Alerter

	// Logger is for observability (optional).
	Logger orchestrator.Logger

	// Collector records queue metrics (optional).
	Collector *metrics.Collector
}

// Queue schedules migration jobs over a durable store: bounded-concurrency
// dispatch, retry with monotonic backoff, stalled-job detection, and alert
// routing for jobs it gives up on. There is no ordering guarantee between
// jobs for different tenants once retries and stalls reorder entries.
type Queue struct {
	config           Config
	removeOnComplete bool
	removeOnFail     bool
}

// New creates a new Queue with the given configuration.
// Applies default values for all unset policy fields.
func New(cfg Config) *Queue {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	if cfg.BusyRequeueDelay == 0 {
		cfg.BusyRequeueDelay = 1 * time.Second
	}
	if cfg.StalledCheckInterval == 0 {
		cfg.StalledCheckInterval = 30 * time.Second
	}
	if cfg.StalledTimeout == 0 {
		cfg.StalledTimeout = 30 * time.Second
	}
	if cfg.MaxStalledCount == 0 {
		cfg.MaxStalledCount = 1
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 1 * time.Second
	}

	removeOnComplete := true
	if cfg.RemoveOnComplete != nil {
		removeOnComplete = *cfg.RemoveOnComplete
	}
	removeOnFail := true
	if cfg.RemoveOnFail != nil {
		removeOnFail = *cfg.RemoveOnFail
	}

	return &Queue{
		config:           cfg,
		removeOnComplete: removeOnComplete,
		removeOnFail:     removeOnFail,
	}
}

// Enqueue admits a new waiting job for the tenant and returns it.
func (q *Queue) Enqueue(ctx context.Context, tenantID string) (orchestrator.Job, error) {
	job, err := q.config.Store.Enqueue(ctx, tenantID)
	if err != nil {
		return orchestrator.Job{}, fmt.Errorf("failed to enqueue job: %w", err)
	}

	if q.config.Collector != nil {
		q.config.Collector.IncEnqueued()
	}
	if q.config.Logger != nil {
		q.config.Logger.Info(ctx, "job enqueued", "jobID", job.ID, "tenantID", job.TenantID)
	}

	return job, nil
}

// Process runs the sole consumer loop: it claims jobs from the store and
// invokes handler with at most concurrency concurrently-active invocations
// process-wide. Each running job heartbeats in the background until its
// handler returns. Process blocks until ctx is cancelled, then waits for
// in-flight handlers to settle and returns nil.
func (q *Queue) Process(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case sem <- struct{}{}:
		}

		job, err := q.config.Store.Claim(ctx)
		if err != nil {
			<-sem
			if !errors.Is(err, orchestrator.ErrNoJobAvailable) && ctx.Err() == nil {
				if q.config.Logger != nil {
					q.config.Logger.Error(ctx, "failed to claim job", "error", err)
				}
			}
			select {
			case <-ctx.Done():
				wg.Wait()
				return nil
			case <-ticker.C:
			}
			continue
		}

		wg.Add(1)
		go func(job orchestrator.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			q.runJob(ctx, job, handler)
		}(job)
	}
}

// MonitorStalled runs the stalled-job check at StalledCheckInterval until
// ctx is cancelled. Transient store errors are logged and the loop continues.
func (q *Queue) MonitorStalled(ctx context.Context) error {
	ticker := time.NewTicker(q.config.StalledCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := q.CheckStalled(ctx); err != nil && ctx.Err() == nil {
				if q.config.Logger != nil {
					q.config.Logger.Error(ctx, "stalled-job check failed", "error", err)
				}
			}
		}
	}
}

// CheckStalled scans for active jobs whose worker stopped heartbeating.
// Jobs within their stall tolerance are re-queued; jobs beyond it are marked
// stalled and alerted. Exported so operators can trigger an immediate sweep.
func (q *Queue) CheckStalled(ctx context.Context) error {
	cutoff := time.Now().Add(-q.config.StalledTimeout)

	jobs, err := q.config.Store.ListStalled(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if job.StalledCount >= q.config.MaxStalledCount {
			if err := q.config.Store.MarkStalled(ctx, job.ID, q.removeOnFail); err != nil {
				if !errors.Is(err, store.ErrJobNotActive) && q.config.Logger != nil {
					q.config.Logger.Error(ctx, "failed to mark job stalled", "jobID", job.ID, "error", err)
				}
				continue
			}

			job.Status = orchestrator.JobStatusStalled
			job.StalledCount++
			if q.config.Collector != nil {
				q.config.Collector.IncStalled()
			}
			if q.config.Logger != nil {
				q.config.Logger.Error(ctx, "job stalled beyond tolerance, giving up",
					"jobID", job.ID,
					"tenantID", job.TenantID,
					"stalledCount", job.StalledCount)
			}
			q.alert(ctx, job, orchestrator.AlertReasonStalled)
			continue
		}

		if err := q.config.Store.RequeueStalled(ctx, job.ID); err != nil {
			if !errors.Is(err, store.ErrJobNotActive) && q.config.Logger != nil {
				q.config.Logger.Error(ctx, "failed to requeue stalled job", "jobID", job.ID, "error", err)
			}
			continue
		}

		if q.config.Collector != nil {
			q.config.Collector.IncStallRequeues()
		}
		if q.config.Logger != nil {
			q.config.Logger.Info(ctx, "stalled job requeued",
				"jobID", job.ID,
				"tenantID", job.TenantID,
				"lastHeartbeat", job.LastHeartbeat)
		}
	}

	return nil
}

// runJob executes the handler for one claimed job with a background
// heartbeat, then settles the outcome against the store.
func (q *Queue) runJob(ctx context.Context, job orchestrator.Job, handler Handler) {
	if q.config.Collector != nil {
		q.config.Collector.AddActive(1)
		defer q.config.Collector.AddActive(-1)
	}

	hbCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		q.heartbeatLoop(hbCtx, job.ID)
	}()

	start := time.Now()
	err := q.invoke(ctx, job, handler)

	// Join the heartbeat goroutine before settling: a heartbeat must never
	// land after the job's terminal transition, and no store write may
	// outlive Process's shutdown guarantee.
	cancelHeartbeat()
	<-hbDone

	if q.config.Collector != nil {
		q.config.Collector.ObserveJobDuration(time.Since(start).Seconds())
	}

	q.settle(ctx, job, err)
}

// invoke calls the handler, converting a panic into an error so no outcome
// ever escapes the queue's success/failure contract.
func (q *Queue) invoke(ctx context.Context, job orchestrator.Job, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

// settle maps a handler outcome to a job transition. Store writes use a
// context detached from cancellation so a completion arriving during
// shutdown is still persisted.
func (q *Queue) settle(ctx context.Context, job orchestrator.Job, handlerErr error) {
	sctx := context.WithoutCancel(ctx)

	switch {
	case handlerErr == nil:
		if err := q.config.Store.Complete(sctx, job.ID, q.removeOnComplete); err != nil {
			q.logSettleError(sctx, job, "complete", err)
			return
		}
		if q.config.Collector != nil {
			q.config.Collector.IncCompleted()
		}
		if q.config.Logger != nil {
			q.config.Logger.Info(sctx, "job completed", "jobID", job.ID, "tenantID", job.TenantID)
		}

	case errors.Is(handlerErr, orchestrator.ErrTenantBusy):
		// Another worker holds this tenant; hand the job back without
		// burning an attempt.
		if err := q.config.Store.Release(sctx, job.ID, time.Now().Add(q.config.BusyRequeueDelay)); err != nil {
			q.logSettleError(sctx, job, "release", err)
		}

	case errors.Is(handlerErr, context.Canceled) || errors.Is(handlerErr, context.DeadlineExceeded):
		// Shutdown or deadline mid-run is a liveness event, not a logic
		// failure; the job goes back to waiting without an attempt.
		if err := q.config.Store.Release(sctx, job.ID, time.Now()); err != nil {
			q.logSettleError(sctx, job, "release", err)
		}

	default:
		attempts := job.Attempts + 1
		if attempts >= q.config.MaxAttempts {
			if err := q.config.Store.Fail(sctx, job.ID, handlerErr.Error(), q.removeOnFail); err != nil {
				q.logSettleError(sctx, job, "fail", err)
				return
			}

			job.Status = orchestrator.JobStatusFailed
			job.Attempts = attempts
			job.LastError = handlerErr.Error()
			if q.config.Collector != nil {
				q.config.Collector.IncFailed()
			}
			if q.config.Logger != nil {
				q.config.Logger.Error(sctx, "job exhausted retries, giving up",
					"jobID", job.ID,
					"tenantID", job.TenantID,
					"attempts", attempts,
					"error", handlerErr)
			}
			q.alert(sctx, job, orchestrator.AlertReasonExhausted)
			return
		}

		backoff := q.backoff(attempts)
		if err := q.config.Store.Retry(sctx, job.ID, handlerErr.Error(), time.Now().Add(backoff)); err != nil {
			q.logSettleError(sctx, job, "retry", err)
			return
		}

		if q.config.Collector != nil {
			q.config.Collector.IncRetried()
		}
		if q.config.Logger != nil {
			q.config.Logger.Info(sctx, "job failed, will retry",
				"jobID", job.ID,
				"tenantID", job.TenantID,
				"attempts", attempts,
				"backoff", backoff,
				"error", handlerErr)
		}
	}
}

// logSettleError reports a failed settle transition. ErrJobNotActive means
// another actor (typically the stall reaper) already settled the job; that
// outcome is logged at debug level and otherwise dropped.
func (q *Queue) logSettleError(ctx context.Context, job orchestrator.Job, transition string, err error) {
	if q.config.Logger == nil {
		return
	}
	if errors.Is(err, store.ErrJobNotActive) {
		q.config.Logger.Debug(ctx, "job already settled elsewhere",
			"jobID", job.ID, "transition", transition)
		return
	}
	q.config.Logger.Error(ctx, "failed to settle job",
		"jobID", job.ID, "transition", transition, "error", err)
}

// heartbeatLoop refreshes the job's liveness timestamp until ctx is cancelled.
func (q *Queue) heartbeatLoop(ctx context.Context, jobID string) {
	ticker := time.NewTicker(q.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.config.Store.Heartbeat(ctx, jobID); err != nil {
				if ctx.Err() == nil && q.config.Logger != nil {
					q.config.Logger.Error(ctx, "heartbeat failed", "jobID", jobID, "error", err)
				}
				return
			}
		}
	}
}

// backoff returns the retry delay for the given attempt count; monotonically
// non-decreasing with attempts to avoid thrash.
func (q *Queue) backoff(attempts int) time.Duration {
	return time.Duration(attempts) * q.config.RetryBackoff
}

// alert invokes the configured alerter. Panics and errors inside the alerter
// are swallowed so they never re-enter the queue's retry accounting.
func (q *Queue) alert(ctx context.Context, job orchestrator.Job, reason orchestrator.AlertReason) {
	if q.config.Alerter == nil {
		return
	}

	var message string
	switch reason {
	case orchestrator.AlertReasonStalled:
		message = fmt.Sprintf("migration job %s for tenant %s stalled %d times (worker died or hung); last error: %s",
			job.ID, job.TenantID, job.StalledCount, lastErrorOrNone(job))
	default:
		message = fmt.Sprintf("migration job %s for tenant %s failed after %d attempts; last error: %s",
			job.ID, job.TenantID, job.Attempts, lastErrorOrNone(job))
	}

	defer func() {
		if r := recover(); r != nil && q.config.Logger != nil {
			q.config.Logger.Error(ctx, "alerter panicked", "jobID", job.ID, "panic", r)
		}
	}()

	q.config.Alerter.Notify(ctx, orchestrator.Alert{
		Job:     job,
		Reason:  reason,
		Message: message,
	})
}

func lastErrorOrNone(job orchestrator.Job) string {
	if job.LastError == "" {
		return "none"
	}
	return job.LastError
}
