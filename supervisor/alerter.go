package supervisor

import (
	"context"

	orchestrator "github.com/getpup/migration-orchestrator"
)

// LogAlerter writes each alert as a structured log line. It is the default
// integration point for operator paging: route the log stream into whatever
// paging system is in use.
type LogAlerter struct {
	logger orchestrator.Logger
}

// Compile-time check that LogAlerter implements Alerter.
var _ orchestrator.Alerter = (*LogAlerter)(nil)

// NewLogAlerter creates an alerter that logs through the given logger.
func NewLogAlerter(logger orchestrator.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

// Notify implements orchestrator.Alerter.
func (a *LogAlerter) Notify(ctx context.Context, alert orchestrator.Alert) {
	if a.logger == nil {
		return
	}

	a.logger.Error(ctx, alert.Message,
		"jobID", alert.Job.ID,
		"tenantID", alert.Job.TenantID,
		"reason", string(alert.Reason),
		"attempts", alert.Job.Attempts,
		"stalledCount", alert.Job.StalledCount,
		"lastError", alert.Job.LastError)
}

// Multi fans an alert out to several alerters in order.
type Multi []orchestrator.Alerter

// Compile-time check that Multi implements Alerter.
var _ orchestrator.Alerter = (Multi)(nil)

// Notify implements orchestrator.Alerter.
func (m Multi) Notify(ctx context.Context, alert orchestrator.Alert) {
	for _, a := range m {
		if a != nil {
			a.Notify(ctx, alert)
		}
	}
}
