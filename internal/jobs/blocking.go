package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/resource-lock/internal/lock"
)

const (
	// BlockingResource is the lock contended by the acquisition mode demo.
	BlockingResource = "demo_blocking_lock"
	BlockingTTL      = 15 * time.Second

	DefaultHoldDuration = 10 * time.Second
	DefaultRetries      = 5
	DefaultRetryDelay   = time.Second
)

// Mode selects an acquisition strategy of the demo.
type Mode string

const (
	ModeHold        Mode = "hold"
	ModeNonBlocking Mode = "non-blocking"
	ModeBlocking    Mode = "blocking"
	ModeRetry       Mode = "retry"
)

// ErrUnknownMode is returned for a mode the demo does not implement.
var ErrUnknownMode = errors.New("you must choose a mode: hold, non-blocking, blocking or retry")

// Outcome reports what a demo run achieved.
type Outcome struct {
	Mode     Mode
	Acquired bool
	// Retries is the number of failed attempts before the retry mode succeeded.
	Retries int
	Waited  time.Duration
}

// BlockingDemo contrasts blocking, non-blocking and retried acquisition of one shared lock.
type BlockingDemo struct {
	manager *lock.Manager
	logger  zerolog.Logger
	hold    time.Duration
	policy  lock.RetryPolicy
}

// BlockingOption configures a BlockingDemo.
type BlockingOption func(*BlockingDemo)

// WithBlockingLogger sets the logger.
func WithBlockingLogger(logger zerolog.Logger) BlockingOption {
	return func(d *BlockingDemo) {
		d.logger = logger
	}
}

// WithHoldDuration sets how long hold mode keeps the lock.
func WithHoldDuration(hold time.Duration) BlockingOption {
	return func(d *BlockingDemo) {
		if hold >= 0 {
			d.hold = hold
		}
	}
}

// WithRetryPolicy sets the policy of retry mode.
func WithRetryPolicy(p lock.RetryPolicy) BlockingOption {
	return func(d *BlockingDemo) {
		d.policy = p
	}
}

// NewBlockingDemo creates a BlockingDemo.
func NewBlockingDemo(manager *lock.Manager, opts ...BlockingOption) *BlockingDemo {
	d := &BlockingDemo{
		manager: manager,
		logger:  zerolog.Nop(),
		hold:    DefaultHoldDuration,
		policy:  lock.FixedRetry(DefaultRetries, DefaultRetryDelay),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("component", "blocking-demo").Str("resource", BlockingResource).Logger()
	return d
}

// Run executes one mode. A busy resource in non-blocking mode is a warning,
// not an error.
func (d *BlockingDemo) Run(ctx context.Context, mode Mode) (Outcome, error) {
	h := d.manager.CreateLock(BlockingResource, BlockingTTL)
	out := Outcome{Mode: mode}
	logger := d.logger.With().Str("mode", string(mode)).Logger()
	start := time.Now()

	var err error
	switch mode {
	case ModeHold, ModeBlocking:
		logger.Info().Msg("attempting to acquire lock, waiting as long as needed")
		err = h.Acquire(ctx, true)
	case ModeNonBlocking:
		logger.Info().Msg("attempting to acquire lock without waiting")
		err = h.TryAcquire(ctx)
		if errors.Is(err, lock.ErrLockUnavailable) {
			logger.Warn().Msg("could not acquire lock, the resource is busy")
			return out, nil
		}
	case ModeRetry:
		policy := d.policy
		policy.OnRetry = func(retry int, delay time.Duration) {
			out.Retries = retry
			logger.Info().Int("attempt", retry).Dur("delay", delay).Msg("attempt failed, waiting before retrying")
		}
		logger.Info().Int("retries", policy.Retries).Msg("attempting to acquire lock with retries")
		err = d.manager.AcquireWithRetry(ctx, h, policy)
		if errors.Is(err, lock.ErrLockUnavailable) {
			return out, fmt.Errorf("could not acquire lock after %d retries: %w", policy.Retries, err)
		}
	default:
		return out, fmt.Errorf("%w, got %q", ErrUnknownMode, mode)
	}
	if err != nil {
		return out, fmt.Errorf("could not acquire lock: %w", err)
	}

	out.Acquired = true
	out.Waited = time.Since(start)
	logger.Info().Dur("waited", out.Waited).Int("retries", out.Retries).Msg("lock acquired")

	if mode == ModeHold {
		logger.Info().Dur("hold", d.hold).Msg("holding lock")
		err = sleep(ctx, d.hold)
	}

	logger.Info().Msg("releasing lock")
	if rerr := h.Release(context.WithoutCancel(ctx)); rerr != nil && err == nil {
		err = rerr
	}
	return out, err
}
