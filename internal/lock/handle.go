package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Handle represents one lease on a named resource. A Handle is owned by a
// single logical caller; it is created Unacquired by Manager.CreateLock and
// discarded after Release.
type Handle struct {
	store        Store
	observer     Observer
	newToken     func() string
	now          func() time.Time
	resource     string
	ttl          time.Duration
	pollInterval time.Duration

	mu        sync.Mutex
	token     string
	state     State
	expiresAt time.Time
	// lost is set once lock_lost has been reported for the current token.
	lost bool
}

// Resource returns the name of the locked resource.
func (h *Handle) Resource() string {
	return h.resource
}

// TTL returns the lease duration requested on acquire and refresh.
func (h *Handle) TTL() time.Duration {
	return h.ttl
}

// Token returns the ownership token of the current or last lease, or an
// empty string if the handle never acquired.
func (h *Handle) Token() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

// ExpiresAt returns the local estimate of when the lease expires.
func (h *Handle) ExpiresAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.expiresAt
}

// State returns the handle state. A held lease whose TTL has elapsed since
// the last acquire or refresh is reported as StateExpired.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stateLocked()
}

// IsHeld reports whether the handle believes it owns an unexpired lease.
func (h *Handle) IsHeld() bool {
	return h.State() == StateHeld
}

func (h *Handle) stateLocked() State {
	if h.state == StateHeld && !h.now().Before(h.expiresAt) {
		h.state = StateExpired
	}
	return h.state
}

// Acquire obtains the lease. Without blocking it makes exactly one attempt.
// With blocking it retries every poll interval until it succeeds or ctx is
// done; a ctx without deadline waits indefinitely.
func (h *Handle) Acquire(ctx context.Context, blocking bool) error {
	if !blocking {
		return h.attempt(ctx, false, 1, time.Now())
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		err := h.attempt(ctx, true, attempt, start)
		if !errors.Is(err, ErrLockUnavailable) {
			return err
		}
		if err := wait(ctx, h.pollInterval); err != nil {
			h.emit(ctx, Event{Kind: EventAcquireFailure, Blocking: true, Attempt: attempt, Waited: time.Since(start), Err: err})
			return err
		}
	}
}

// TryAcquire makes a single non-blocking acquisition attempt.
func (h *Handle) TryAcquire(ctx context.Context) error {
	return h.Acquire(ctx, false)
}

// attempt performs one set-if-absent against the store. Only the final
// failure of a blocking acquisition is reported as acquire_failure.
func (h *Handle) attempt(ctx context.Context, blocking bool, n int, start time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stateLocked() == StateHeld {
		return nil
	}
	if err := ctx.Err(); err != nil {
		err = canceled(err)
		h.emitLocked(ctx, Event{Kind: EventAcquireFailure, Blocking: blocking, Attempt: n, Err: err})
		return err
	}

	token := h.newToken()
	h.emitLocked(ctx, Event{Kind: EventAcquireAttempt, Token: token, Blocking: blocking, Attempt: n})

	ok, err := h.store.TryAcquire(ctx, h.resource, token, h.ttl)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = canceled(ctxErr)
		} else {
			err = &StoreError{Op: "acquire", Resource: h.resource, Err: err}
		}
		h.emitLocked(ctx, Event{Kind: EventAcquireFailure, Token: token, Blocking: blocking, Attempt: n, Waited: time.Since(start), Err: err})
		return err
	}
	if !ok {
		if !blocking {
			h.emitLocked(ctx, Event{Kind: EventAcquireFailure, Token: token, Attempt: n, Err: ErrLockUnavailable})
		}
		return ErrLockUnavailable
	}

	h.token = token
	h.state = StateHeld
	h.lost = false
	h.expiresAt = h.now().Add(h.ttl)
	h.emitLocked(ctx, Event{Kind: EventAcquireSuccess, Token: token, Blocking: blocking, Attempt: n, Waited: time.Since(start)})
	return nil
}

// Refresh extends the lease by the handle TTL. It fails with ErrLockLost if
// the store no longer holds this handle's token, or if the handle is not
// holding a lease at all.
func (h *Handle) Refresh(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	// An Expired handle is still checked against the store: the local
	// estimate may be late, the store decides.
	switch h.stateLocked() {
	case StateHeld, StateExpired:
	default:
		return ErrLockLost
	}
	if h.token == "" {
		return ErrLockLost
	}

	ok, err := h.store.TryExtend(ctx, h.resource, h.token, h.ttl)
	if err != nil {
		return &StoreError{Op: "extend", Resource: h.resource, Err: err}
	}
	if !ok {
		h.state = StateExpired
		h.reportLostLocked(ctx)
		return ErrLockLost
	}

	h.state = StateHeld
	h.expiresAt = h.now().Add(h.ttl)
	h.emitLocked(ctx, Event{Kind: EventRefresh, Token: h.token})
	return nil
}

// Release gives the lease back. It is idempotent: releasing a handle that
// is not held, or whose lease was already reassigned, is a no-op. Only a
// store failure is returned as an error.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.stateLocked() {
	case StateHeld, StateExpired:
	default:
		return nil
	}
	if h.token == "" {
		return nil
	}

	ok, err := h.store.TryRelease(ctx, h.resource, h.token)
	if err != nil {
		err = &StoreError{Op: "release", Resource: h.resource, Err: err}
		h.emitLocked(ctx, Event{Kind: EventReleaseFailure, Token: h.token, Err: err})
		return err
	}

	h.state = StateReleased
	if !ok {
		// The entry expired or belongs to someone else now.
		h.reportLostLocked(ctx)
		return nil
	}
	h.emitLocked(ctx, Event{Kind: EventRelease, Token: h.token})
	return nil
}

func (h *Handle) reportLostLocked(ctx context.Context) {
	if h.lost {
		return
	}
	h.lost = true
	h.emitLocked(ctx, Event{Kind: EventLockLost, Token: h.token, Err: ErrLockLost})
}

func (h *Handle) emit(ctx context.Context, e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitLocked(ctx, e)
}

func (h *Handle) emitLocked(ctx context.Context, e Event) {
	e.Resource = h.resource
	e.TTL = h.ttl
	if e.Time.IsZero() {
		e.Time = h.now()
	}
	h.observer.ObserveLockEvent(ctx, e)
}

// wait pauses for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return canceled(ctx.Err())
	case <-timer.C:
		return nil
	}
}
