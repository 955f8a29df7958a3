package logging

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/resource-lock/internal/lock"
)

// LockEventLogger writes lock events to a zerolog logger. Attempts,
// refreshes and acquisitions are debug output; failures, failed releases and
// lost leases are warnings.
type LockEventLogger struct {
	logger zerolog.Logger
}

// NewLockEventLogger creates an observer logging through logger.
func NewLockEventLogger(logger zerolog.Logger) *LockEventLogger {
	return &LockEventLogger{logger: logger.With().Str("component", "lock-events").Logger()}
}

// ObserveLockEvent implements lock.Observer.
func (l *LockEventLogger) ObserveLockEvent(_ context.Context, e lock.Event) {
	var event *zerolog.Event
	switch e.Kind {
	case lock.EventAcquireFailure, lock.EventLockLost, lock.EventReleaseFailure:
		event = l.logger.Warn()
	case lock.EventRelease:
		event = l.logger.Info()
	default:
		event = l.logger.Debug()
	}

	event.
		Str("event", string(e.Kind)).
		Str("resource", e.Resource).
		Dur("ttl", e.TTL).
		Bool("blocking", e.Blocking)

	if e.Attempt > 0 {
		event.Int("attempt", e.Attempt)
	}
	if e.Waited > 0 {
		event.Dur("waited", e.Waited)
	}
	if e.Err != nil {
		event.Err(e.Err)
	}

	event.Msg("lock event")
}
