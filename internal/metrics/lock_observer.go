package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/kneutral-org/resource-lock/internal/lock"
)

// LockObserver records lock events in the package's Prometheus metrics.
// Resource names are not used as labels.
//
// LocksHeld counts acquisitions that have not ended yet. An acquisition ends
// once: on release, on lock_lost or on a failed release, whichever comes
// first. Later events for the same token do not move the gauge.
type LockObserver struct {
	held sync.Map // token -> struct{}
}

// NewLockObserver creates a LockObserver.
func NewLockObserver() *LockObserver {
	return &LockObserver{}
}

func (o *LockObserver) ended(token string) {
	if _, ok := o.held.LoadAndDelete(token); ok {
		LocksHeld.Dec()
	}
}

// ObserveLockEvent implements lock.Observer.
func (o *LockObserver) ObserveLockEvent(_ context.Context, e lock.Event) {
	mode := acquireMode(e.Blocking)
	switch e.Kind {
	case lock.EventAcquireAttempt:
		LockAcquireAttempts.WithLabelValues(mode).Inc()
	case lock.EventAcquireSuccess:
		LockAcquisitions.WithLabelValues(mode, "acquired").Inc()
		LockAcquireWait.WithLabelValues(mode).Observe(e.Waited.Seconds())
		if _, loaded := o.held.LoadOrStore(e.Token, struct{}{}); !loaded {
			LocksHeld.Inc()
		}
	case lock.EventAcquireFailure:
		LockAcquisitions.WithLabelValues(mode, FailureResult(e.Err)).Inc()
	case lock.EventRefresh:
		LockRefreshes.Inc()
	case lock.EventRelease:
		LockReleases.Inc()
		o.ended(e.Token)
	case lock.EventReleaseFailure:
		LockReleaseFailures.Inc()
		o.ended(e.Token)
	case lock.EventLockLost:
		LocksLost.Inc()
		o.ended(e.Token)
	}
}

// FailureResult classifies an acquisition failure for the result label.
func FailureResult(err error) string {
	switch {
	case errors.Is(err, lock.ErrStoreUnavailable):
		return "store_error"
	case errors.Is(err, lock.ErrAcquisitionCanceled):
		return "canceled"
	case errors.Is(err, lock.ErrLockUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func acquireMode(blocking bool) string {
	if blocking {
		return "blocking"
	}
	return "non_blocking"
}
