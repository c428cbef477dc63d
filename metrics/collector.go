package metrics

// Collector wraps metrics and provides helper methods with pre-filled labels.
type Collector struct {
	queue string
}

// NewCollector creates a new Collector for the given queue name.
func NewCollector(queue string) *Collector {
	return &Collector{queue: queue}
}

// IncEnqueued increments the enqueued counter.
func (c *Collector) IncEnqueued() {
	JobsEnqueuedTotal.WithLabelValues(c.queue).Inc()
}

// IncCompleted increments the completed counter.
func (c *Collector) IncCompleted() {
	JobsCompletedTotal.WithLabelValues(c.queue).Inc()
}

// IncRetried increments the retried counter.
func (c *Collector) IncRetried() {
	JobsRetriedTotal.WithLabelValues(c.queue).Inc()
}

// IncFailed increments the exhausted-retries counter.
func (c *Collector) IncFailed() {
	JobsFailedTotal.WithLabelValues(c.queue).Inc()
}

// IncStalled increments the terminally-stalled counter.
func (c *Collector) IncStalled() {
	JobsStalledTotal.WithLabelValues(c.queue).Inc()
}

// IncStallRequeues increments the stall re-queue counter.
func (c *Collector) IncStallRequeues() {
	StallRequeuesTotal.WithLabelValues(c.queue).Inc()
}

// IncTenantBusy increments the tenant-busy release counter.
func (c *Collector) IncTenantBusy() {
	TenantBusyTotal.WithLabelValues(c.queue).Inc()
}

// IncStepsApplied increments the applied-steps counter.
func (c *Collector) IncStepsApplied() {
	StepsAppliedTotal.WithLabelValues(c.queue).Inc()
}

// AddActive adjusts the active jobs gauge by delta.
func (c *Collector) AddActive(delta int) {
	ActiveJobs.WithLabelValues(c.queue).Add(float64(delta))
}

// ObserveJobDuration records one job's processing duration.
func (c *Collector) ObserveJobDuration(seconds float64) {
	JobDuration.WithLabelValues(c.queue).Observe(seconds)
}
