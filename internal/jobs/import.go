// Package jobs holds long running and scheduled jobs that coordinate through
// resource locks.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/resource-lock/internal/lock"
)

const (
	// ImportResource is the lock shared by all import job instances.
	ImportResource = "long_import_job"

	// ImportTTL is deliberately shorter than the whole job: the lease only
	// survives because it is refreshed after every row.
	ImportTTL = 5 * time.Second

	DefaultImportRows        = 10
	DefaultImportRowDuration = 2 * time.Second
)

// ImportJob processes rows under a short lease that it refreshes as it goes.
type ImportJob struct {
	manager     *lock.Manager
	logger      zerolog.Logger
	rows        int
	rowDuration time.Duration
	waitTimeout time.Duration
	process     func(ctx context.Context, row int) error
}

// ImportOption configures an ImportJob.
type ImportOption func(*ImportJob)

// WithImportLogger sets the logger.
func WithImportLogger(logger zerolog.Logger) ImportOption {
	return func(j *ImportJob) {
		j.logger = logger
	}
}

// WithRows sets the number of rows to import.
func WithRows(rows int) ImportOption {
	return func(j *ImportJob) {
		if rows >= 0 {
			j.rows = rows
		}
	}
}

// WithRowDuration sets the simulated time spent on each row.
func WithRowDuration(d time.Duration) ImportOption {
	return func(j *ImportJob) {
		if d >= 0 {
			j.rowDuration = d
		}
	}
}

// WithImportWaitTimeout bounds how long the job waits for a running
// instance to finish. Zero waits until the context ends.
func WithImportWaitTimeout(d time.Duration) ImportOption {
	return func(j *ImportJob) {
		j.waitTimeout = d
	}
}

// WithRowProcessor replaces the simulated row work.
func WithRowProcessor(fn func(ctx context.Context, row int) error) ImportOption {
	return func(j *ImportJob) {
		j.process = fn
	}
}

// NewImportJob creates an ImportJob.
func NewImportJob(manager *lock.Manager, opts ...ImportOption) *ImportJob {
	j := &ImportJob{
		manager:     manager,
		logger:      zerolog.Nop(),
		rows:        DefaultImportRows,
		rowDuration: DefaultImportRowDuration,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With().Str("component", "import-job").Str("resource", ImportResource).Logger()
	if j.process == nil {
		j.process = j.simulateRow
	}
	return j
}

// Run waits for the import lock, processes every row and refreshes the
// lease after each one. Losing the lease aborts the job.
func (j *ImportJob) Run(ctx context.Context) (err error) {
	h := j.manager.CreateLock(ImportResource, ImportTTL)

	j.logger.Info().Dur("ttl", ImportTTL).Msg("acquiring import lock")
	if err := j.manager.AcquireWithTimeout(ctx, h, j.waitTimeout); err != nil {
		return fmt.Errorf("could not acquire the import lock, another import job may be running: %w", err)
	}
	j.logger.Info().Msg("import lock acquired, starting processing")

	defer func() {
		j.logger.Info().Msg("releasing import lock")
		if rerr := h.Release(context.WithoutCancel(ctx)); rerr != nil && err == nil {
			err = rerr
		}
	}()

	for row := 1; row <= j.rows; row++ {
		j.logger.Info().Int("row", row).Msg("processing row")
		if err := j.process(ctx, row); err != nil {
			return fmt.Errorf("process row %d: %w", row, err)
		}

		if err := h.Refresh(ctx); err != nil {
			j.logger.Error().Err(err).Int("row", row).Msg("failed to refresh import lock")
			return fmt.Errorf("refresh import lock after row %d: %w", row, err)
		}
		j.logger.Debug().Int("row", row).Time("expiresAt", h.ExpiresAt()).Msg("import lock refreshed")
	}

	j.logger.Info().Int("rows", j.rows).Msg("import job finished")
	return nil
}

func (j *ImportJob) simulateRow(ctx context.Context, _ int) error {
	return sleep(ctx, j.rowDuration)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
