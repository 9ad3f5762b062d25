// Package notify defines the outbound notification boundary. Rendering and
// delivery of customer emails live outside this service; settlement only
// dispatches and never waits on the result.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Dispatcher delivers a notification. Implementations must be safe for
// concurrent use. Errors are not surfaced to callers: dispatch failure must
// never unwind a settlement that already committed money-relevant state.
type Dispatcher interface {
	Send(ctx context.Context, to, subject, htmlBody string)
}

// LogDispatcher is the shipped Dispatcher: it records the dispatch in the
// service log, standing in for an external mail relay.
type LogDispatcher struct {
	lg *zap.Logger
}

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(lg *zap.Logger) *LogDispatcher {
	return &LogDispatcher{lg: lg}
}

// Send logs the notification.
func (d *LogDispatcher) Send(_ context.Context, to, subject, _ string) {
	d.lg.Info("notification dispatched",
		zap.String("to", to),
		zap.String("subject", subject),
	)
}
