package lock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCleanupTimeout bounds a single cleanup pass.
const DefaultCleanupTimeout = 30 * time.Second

// Cleaner is implemented by stores that keep expired leases until removed.
type Cleaner interface {
	// Cleanup removes expired entries and returns the number of entries removed.
	Cleanup(ctx context.Context) (int64, error)
}

// CleanupJob purges expired leases from a Cleaner on a fixed interval. Expired
// rows never block acquisition, they only take up space.
type CleanupJob struct {
	store    Cleaner
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	report   func(removed int64)

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// CleanupOption configures a CleanupJob.
type CleanupOption func(*CleanupJob)

// WithCleanupReporter sets a callback receiving the number of entries
// removed by each successful pass.
func WithCleanupReporter(fn func(removed int64)) CleanupOption {
	return func(j *CleanupJob) {
		j.report = fn
	}
}

// WithCleanupTimeout bounds each cleanup pass.
func WithCleanupTimeout(d time.Duration) CleanupOption {
	return func(j *CleanupJob) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// NewCleanupJob creates a job that purges store every interval.
func NewCleanupJob(store Cleaner, interval time.Duration, logger zerolog.Logger, opts ...CleanupOption) *CleanupJob {
	j := &CleanupJob{
		store:    store,
		interval: interval,
		timeout:  DefaultCleanupTimeout,
		logger:   logger.With().Str("component", "lock-cleanup").Logger(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start runs a first pass right away, then one per interval until ctx is
// done or Stop is called.
func (j *CleanupJob) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	go j.run(ctx)
}

// Stop ends the job and waits for a running pass to finish. Calling Stop
// more than once is safe; calling it before Start is not.
func (j *CleanupJob) Stop() {
	j.stopOnce.Do(j.cancel)
	<-j.done
}

func (j *CleanupJob) run(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		j.purge(ctx)

		select {
		case <-ctx.Done():
			j.logger.Info().Msg("lease cleanup stopped")
			return
		case <-ticker.C:
		}
	}
}

func (j *CleanupJob) purge(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	removed, err := j.store.Cleanup(ctx)
	if err != nil {
		if ctx.Err() == nil {
			j.logger.Error().Err(err).Msg("failed to purge expired leases")
		}
		return
	}
	if j.report != nil {
		j.report(removed)
	}
	if removed > 0 {
		j.logger.Info().Int64("removed", removed).Msg("purged expired leases")
	}
}
