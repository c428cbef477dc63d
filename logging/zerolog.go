package logging

import (
	"context"
	"fmt"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the orchestrator.Logger interface.
type ZerologLogger struct {
	logger zerolog.Logger
}

// Compile-time check that ZerologLogger implements Logger.
var _ orchestrator.Logger = (*ZerologLogger)(nil)

// NewZerolog creates an orchestrator logger backed by the given zerolog logger.
func NewZerolog(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

// Debug implements orchestrator.Logger.
func (l *ZerologLogger) Debug(ctx context.Context, msg string, keysAndValues ...any) {
	emit(l.logger.Debug(), msg, keysAndValues)
}

// Info implements orchestrator.Logger.
func (l *ZerologLogger) Info(ctx context.Context, msg string, keysAndValues ...any) {
	emit(l.logger.Info(), msg, keysAndValues)
}

// Error implements orchestrator.Logger.
func (l *ZerologLogger) Error(ctx context.Context, msg string, keysAndValues ...any) {
	emit(l.logger.Error(), msg, keysAndValues)
}

// emit attaches alternating key/value pairs to the event. A trailing key
// without a value is logged under the key itself.
func emit(event *zerolog.Event, msg string, keysAndValues []any) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		event = event.Interface(key, keysAndValues[i+1])
	}
	if len(keysAndValues)%2 != 0 {
		event = event.Interface("arg", keysAndValues[len(keysAndValues)-1])
	}
	event.Msg(msg)
}
