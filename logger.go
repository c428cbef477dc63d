package orchestrator

import "context"

// Logger is the minimal structured logging surface the orchestrator's
// components accept. Arguments after msg are alternating key/value pairs.
// All components treat a nil Logger as "no logging".
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
}
