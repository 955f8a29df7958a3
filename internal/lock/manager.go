package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ecodeclub/ekit/retry"
	"github.com/google/uuid"
)

// Manager creates Handles for named resources and implements the blocking
// and retrying acquisition policies on top of them.
type Manager struct {
	store        Store
	observer     Observer
	defaultTTL   time.Duration
	pollInterval time.Duration
	newToken     func() string
	now          func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithObserver sets the observer that receives lock events of every handle.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithDefaultTTL sets the TTL used by CreateLock when no positive TTL is given.
func WithDefaultTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.defaultTTL = d
		}
	}
}

// WithPollInterval sets the pause between attempts of a blocking acquisition.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithTokenGenerator overrides how ownership tokens are generated.
// Tokens must be unique per acquisition.
func WithTokenGenerator(fn func() string) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.newToken = fn
		}
	}
}

// WithClock overrides the clock used for local expiry estimates.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager backed by store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:        store,
		observer:     nopObserver{},
		defaultTTL:   DefaultTTL,
		pollInterval: DefaultPollInterval,
		newToken:     uuid.NewString,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateLock returns an Unacquired handle for resource. It does not talk to
// the store. A ttl <= 0 selects the manager's default TTL.
func (m *Manager) CreateLock(resource string, ttl time.Duration) *Handle {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	return &Handle{
		store:        m.store,
		observer:     m.observer,
		newToken:     m.newToken,
		now:          m.now,
		resource:     resource,
		ttl:          ttl,
		pollInterval: m.pollInterval,
	}
}

// AcquireWithTimeout blocks until h is acquired, timeout elapses or ctx is
// done. A timeout <= 0 waits as long as ctx allows. Running out of time is
// reported as ErrAcquisitionCanceled wrapping context.DeadlineExceeded.
func (m *Manager) AcquireWithTimeout(ctx context.Context, h *Handle, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return h.Acquire(ctx, true)
}

// RetryPolicy describes a bounded series of non-blocking attempts.
type RetryPolicy struct {
	// Retries is the number of attempts made after the first one failed.
	Retries int
	// Delay is the pause before the first retry.
	Delay time.Duration
	// MaxDelay enables exponential backoff when greater than Delay: the pause
	// doubles after every retry until it reaches MaxDelay.
	MaxDelay time.Duration
	// OnRetry, when set, is called with the 1-based retry number and the
	// pause that precedes it.
	OnRetry func(retry int, delay time.Duration)
}

// FixedRetry returns a policy of retries attempts spaced by delay.
func FixedRetry(retries int, delay time.Duration) RetryPolicy {
	return RetryPolicy{Retries: retries, Delay: delay}
}

// BackoffRetry returns a policy whose delay doubles from initial up to maxDelay.
func BackoffRetry(retries int, initial, maxDelay time.Duration) RetryPolicy {
	return RetryPolicy{Retries: retries, Delay: initial, MaxDelay: maxDelay}
}

// backoff yields the pause before each retry and false once retries are exhausted.
type backoff interface {
	Next() (time.Duration, bool)
}

type noRetry struct{}

func (noRetry) Next() (time.Duration, bool) { return 0, false }

func (p RetryPolicy) strategy() (backoff, error) {
	switch {
	case p.Retries < 0:
		return nil, fmt.Errorf("%w: negative retries %d", ErrInvalidRetryPolicy, p.Retries)
	case p.Retries == 0:
		return noRetry{}, nil
	case p.Delay <= 0:
		return nil, fmt.Errorf("%w: delay must be positive, got %s", ErrInvalidRetryPolicy, p.Delay)
	case p.MaxDelay > p.Delay:
		return retry.NewExponentialBackoffRetryStrategy(p.Delay, p.MaxDelay, int32(p.Retries))
	default:
		return retry.NewFixedIntervalRetryStrategy(p.Delay, int32(p.Retries))
	}
}

// AcquireWithRetry tries to acquire h without blocking, retrying according
// to policy while the resource is held by someone else. It returns
// ErrLockUnavailable once the retries are exhausted. Store failures are
// returned immediately and never retried.
func (m *Manager) AcquireWithRetry(ctx context.Context, h *Handle, policy RetryPolicy) error {
	strategy, err := policy.strategy()
	if err != nil {
		return err
	}

	for n := 1; ; n++ {
		err := h.TryAcquire(ctx)
		if !errors.Is(err, ErrLockUnavailable) {
			return err
		}
		delay, ok := strategy.Next()
		if !ok {
			return err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(n, delay)
		}
		if err := wait(ctx, delay); err != nil {
			return err
		}
	}
}

// ValidateRefreshInterval checks that refreshing every interval leaves room
// for one missed refresh before a lease of ttl expires.
func ValidateRefreshInterval(ttl, interval time.Duration) error {
	if interval <= 0 || ttl <= 0 || interval > ttl/2 {
		return fmt.Errorf("%w: interval %s, ttl %s", ErrRefreshInterval, interval, ttl)
	}
	return nil
}
