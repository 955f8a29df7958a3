package lock

import (
	"context"
	"time"
)

// EventKind identifies a lock lifecycle event.
type EventKind string

// Lock lifecycle events.
const (
	EventAcquireAttempt EventKind = "acquire_attempt"
	EventAcquireSuccess EventKind = "acquire_success"
	EventAcquireFailure EventKind = "acquire_failure"
	EventRefresh        EventKind = "refresh"
	EventRelease        EventKind = "release"
	// EventReleaseFailure reports a release the store could not confirm.
	// The lease is left to expire after its TTL unless a later Release succeeds.
	EventReleaseFailure EventKind = "release_failure"
	EventLockLost       EventKind = "lock_lost"
)

// Event describes one step in the life of a Handle. Observers own the
// formatting and destination of events.
type Event struct {
	Kind     EventKind
	Resource string
	Token    string
	TTL      time.Duration
	Blocking bool
	// Attempt is the 1-based number of the store attempt within one acquisition.
	Attempt int
	// Waited is the time spent since the acquisition started.
	Waited time.Duration
	Err    error
	Time   time.Time
}

// Observer receives lock events. Implementations must be safe for concurrent
// use and must not block.
type Observer interface {
	ObserveLockEvent(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, e Event)

// ObserveLockEvent calls f(ctx, e).
func (f ObserverFunc) ObserveLockEvent(ctx context.Context, e Event) {
	f(ctx, e)
}

type multiObserver []Observer

func (m multiObserver) ObserveLockEvent(ctx context.Context, e Event) {
	for _, o := range m {
		o.ObserveLockEvent(ctx, e)
	}
}

// MultiObserver fans events out to every non-nil observer in order.
func MultiObserver(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

type nopObserver struct{}

func (nopObserver) ObserveLockEvent(context.Context, Event) {}
