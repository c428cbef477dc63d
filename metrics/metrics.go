package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// JobsEnqueuedTotal tracks the total number of jobs enqueued.
var JobsEnqueuedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migration_orchestrator_jobs_enqueued_total",
		Help: "Total number of migration jobs enqueued",
	},
	[]string{"queue"},
)

// JobsCompletedTotal tracks the total number of jobs completed successfully.
var JobsCompletedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migration_orchestrator_jobs_completed_total",
		Help: "Total migration jobs completed successfully",
	},
	[]string{"queue"},
)

// JobsRetriedTotal tracks the total number of retry re-queues.
var JobsRetriedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migration_orchestrator_jobs_retried_total",
		Help: "Total migration jobs re-queued for retry after a failure",
	},
	[]string{"queue"},
)

// JobsFailedTotal tracks the total number of jobs that exhausted retries.
var JobsFailedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migration_orchestrator_jobs_failed_total",
		Help: "Total migration jobs that exhausted their retries",
	},
	[]string{"queue"},
)

// JobsStalledTotal tracks the total number of jobs marked stalled.
var JobsStalledTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migration_orchestrator_jobs_stalled_total",
		Help: "Total migration jobs given up on after repeated stalls",
	},
	[]string{"queue"},
)

// StallRequeuesTotal tracks the total number of stall-detection re-queues.
var StallRequeuesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migration_orchestrator_stall_requeues_total",
		Help: "Total re-queues of jobs whose worker stopped heartbeating",
	},
	[]string{"queue"},
)

// TenantBusyTotal tracks jobs released because their tenant was locked.
var TenantBusyTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migration_orchestrator_tenant_busy_total",
		Help: "Total jobs released because the tenant was already being migrated",
	},
	[]string{"queue"},
)

// StepsAppliedTotal tracks the total number of migration steps applied.
var StepsAppliedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migration_orchestrator_steps_applied_total",
		Help: "Total migration steps applied across all tenants",
	},
	[]string{"queue"},
)

// ActiveJobs tracks the current number of active jobs.
var ActiveJobs = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "migration_orchestrator_active_jobs",
		Help: "Current number of jobs being processed",
	},
	[]string{"queue"},
)

// JobDuration tracks end-to-end handler latency per job.
var JobDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "migration_orchestrator_job_duration_seconds",
		Help:    "Time spent processing one migration job",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"queue"},
)
