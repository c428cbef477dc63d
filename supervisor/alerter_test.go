package supervisor

import (
	"context"
	"testing"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedLine struct {
	msg    string
	fields []any
}

type captureLogger struct {
	lines []capturedLine
}

func (l *captureLogger) Debug(ctx context.Context, msg string, keysAndValues ...any) {
	l.lines = append(l.lines, capturedLine{msg: msg, fields: keysAndValues})
}

func (l *captureLogger) Info(ctx context.Context, msg string, keysAndValues ...any) {
	l.lines = append(l.lines, capturedLine{msg: msg, fields: keysAndValues})
}

func (l *captureLogger) Error(ctx context.Context, msg string, keysAndValues ...any) {
	l.lines = append(l.lines, capturedLine{msg: msg, fields: keysAndValues})
}

func sampleAlert() orchestrator.Alert {
	return orchestrator.Alert{
		Job: orchestrator.Job{
			ID:           "job-1",
			TenantID:     "tenant-1",
			Attempts:     3,
			StalledCount: 0,
			LastError:    "boom",
		},
		Reason:  orchestrator.AlertReasonExhausted,
		Message: "migration job job-1 for tenant tenant-1 failed after 3 attempts",
	}
}

func TestLogAlerter_Notify(t *testing.T) {
	logger := &captureLogger{}
	a := NewLogAlerter(logger)

	a.Notify(context.Background(), sampleAlert())

	require.Len(t, logger.lines, 1)
	line := logger.lines[0]
	assert.Equal(t, "migration job job-1 for tenant tenant-1 failed after 3 attempts", line.msg)
	assert.Contains(t, line.fields, "jobID")
	assert.Contains(t, line.fields, "job-1")
	assert.Contains(t, line.fields, "tenantID")
	assert.Contains(t, line.fields, "tenant-1")
	assert.Contains(t, line.fields, "reason")
	assert.Contains(t, line.fields, string(orchestrator.AlertReasonExhausted))
	assert.Contains(t, line.fields, "lastError")
	assert.Contains(t, line.fields, "boom")
}

func TestLogAlerter_NilLogger(t *testing.T) {
	a := NewLogAlerter(nil)

	// Must not panic.
	a.Notify(context.Background(), sampleAlert())
}

func TestMulti_FansOut(t *testing.T) {
	var got []string
	record := func(name string) orchestrator.Alerter {
		return orchestrator.AlertFunc(func(ctx context.Context, alert orchestrator.Alert) {
			got = append(got, name)
		})
	}

	m := Multi{record("first"), record("second"), record("third")}
	m.Notify(context.Background(), sampleAlert())

	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestMulti_SkipsNilMembers(t *testing.T) {
	var calls int
	m := Multi{
		nil,
		orchestrator.AlertFunc(func(ctx context.Context, alert orchestrator.Alert) { calls++ }),
		nil,
	}

	// Must not panic on nil members.
	m.Notify(context.Background(), sampleAlert())
	assert.Equal(t, 1, calls)
}

func TestMulti_Empty(t *testing.T) {
	var m Multi
	m.Notify(context.Background(), sampleAlert())
}
