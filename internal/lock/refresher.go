package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Refresher keeps a held lease alive by refreshing it on a fixed interval
// while long-running work executes. It stops on its own after the first
// ErrLockLost, which it reports through the OnLost callback.
type Refresher struct {
	handle   *Handle
	interval time.Duration
	logger   zerolog.Logger
	onLost   func(error)

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	lastErr error
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefreshLogger sets the logger used for refresh failures.
func WithRefreshLogger(logger zerolog.Logger) RefresherOption {
	return func(r *Refresher) {
		r.logger = logger
	}
}

// WithOnLost sets a callback invoked once when the lease is found lost.
func WithOnLost(fn func(error)) RefresherOption {
	return func(r *Refresher) {
		r.onLost = fn
	}
}

// NewRefresher creates a refresher for h. The interval must satisfy
// ValidateRefreshInterval for h's TTL.
func NewRefresher(h *Handle, interval time.Duration, opts ...RefresherOption) (*Refresher, error) {
	if err := ValidateRefreshInterval(h.TTL(), interval); err != nil {
		return nil, err
	}
	r := &Refresher{
		handle:   h,
		interval: interval,
		logger:   zerolog.Nop(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// OnLost replaces the lost-lease callback. It must be called before Start.
func (r *Refresher) OnLost(fn func(error)) {
	r.onLost = fn
}

// Start begins refreshing in a background goroutine until Stop is called,
// ctx is done or the lease is lost.
func (r *Refresher) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop ends the refresh loop and waits for it to exit. It is safe to call
// more than once.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Err returns the error that ended the loop, if any.
func (r *Refresher) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Refresher) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if done := r.refresh(ctx); done {
				return
			}
		}
	}
}

// refresh returns true when the loop must stop.
func (r *Refresher) refresh(ctx context.Context) bool {
	err := r.handle.Refresh(ctx)
	if err == nil {
		r.logger.Debug().Str("resource", r.handle.Resource()).Msg("lease refreshed")
		return false
	}

	if errors.Is(err, ErrLockLost) {
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		r.logger.Warn().Err(err).Str("resource", r.handle.Resource()).Msg("lease lost, stopping refresh")
		if r.onLost != nil {
			r.onLost(err)
		}
		return true
	}

	// Store hiccups are retried on the next tick; the lease has margin for one miss.
	r.logger.Error().Err(err).Str("resource", r.handle.Resource()).Msg("failed to refresh lease")
	return false
}
