package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/resource-lock/internal/lock"
)

func newTestManager(t *testing.T) (*lock.Manager, *lock.MemoryStore) {
	t.Helper()
	store := lock.NewMemoryStore()
	t.Cleanup(store.Close)
	return lock.NewManager(store, lock.WithPollInterval(10*time.Millisecond)), store
}

func TestImportJob_RefreshesAfterEveryRow(t *testing.T) {
	manager, store := newTestManager(t)

	var rows []int
	job := NewImportJob(manager,
		WithRows(10),
		WithRowProcessor(func(ctx context.Context, row int) error {
			rows = append(rows, row)
			_, held := store.Holder(ImportResource)
			assert.True(t, held, "row %d must run under the import lock", row)
			return nil
		}),
	)

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, rows)
	_, held := store.Holder(ImportResource)
	assert.False(t, held)
}

func TestImportJob_SecondInstanceWaits(t *testing.T) {
	manager, store := newTestManager(t)
	ok, err := store.TryAcquire(context.Background(), ImportResource, "running-import", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	job := NewImportJob(manager, WithRows(1), WithRowDuration(0), WithImportWaitTimeout(50*time.Millisecond))
	err = job.Run(context.Background())

	assert.ErrorIs(t, err, lock.ErrAcquisitionCanceled)
	assert.Contains(t, err.Error(), "another import job may be running")
}

func TestImportJob_LostLeaseAborts(t *testing.T) {
	manager, store := newTestManager(t)

	var processed int
	job := NewImportJob(manager,
		WithRows(5),
		WithRowProcessor(func(ctx context.Context, row int) error {
			processed = row
			if row == 2 {
				holder, _ := store.Holder(ImportResource)
				_, err := store.TryRelease(ctx, ImportResource, holder)
				require.NoError(t, err)
			}
			return nil
		}),
	)

	err := job.Run(context.Background())

	assert.ErrorIs(t, err, lock.ErrLockLost)
	assert.Equal(t, 2, processed)
}

func TestImportJob_RowFailureReleases(t *testing.T) {
	manager, store := newTestManager(t)
	errBadRow := errors.New("malformed row")

	job := NewImportJob(manager, WithRowProcessor(func(ctx context.Context, row int) error {
		if row == 3 {
			return errBadRow
		}
		return nil
	}))

	err := job.Run(context.Background())

	assert.ErrorIs(t, err, errBadRow)
	_, held := store.Holder(ImportResource)
	assert.False(t, held)
}

func TestImportJob_OutlivesTTLWithRefresh(t *testing.T) {
	if testing.Short() {
		t.Skip("waits past the import TTL")
	}
	manager, store := newTestManager(t)

	job := NewImportJob(manager, WithRows(3), WithRowDuration(2*time.Second),
		WithRowProcessor(func(ctx context.Context, row int) error {
			time.Sleep(2 * time.Second)
			ok, err := store.TryAcquire(ctx, ImportResource, "contender", time.Second)
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		}),
	)

	require.NoError(t, job.Run(context.Background()))
}
