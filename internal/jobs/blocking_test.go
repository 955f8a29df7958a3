package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/resource-lock/internal/lock"
)

func holdElsewhere(t *testing.T, store *lock.MemoryStore, ttl time.Duration) {
	t.Helper()
	ok, err := store.TryAcquire(context.Background(), BlockingResource, "other-process", ttl)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBlockingDemo_Hold(t *testing.T) {
	manager, store := newTestManager(t)
	demo := NewBlockingDemo(manager, WithHoldDuration(30*time.Millisecond))

	out, err := demo.Run(context.Background(), ModeHold)

	require.NoError(t, err)
	assert.True(t, out.Acquired)
	_, held := store.Holder(BlockingResource)
	assert.False(t, held)
}

func TestBlockingDemo_NonBlockingBusy(t *testing.T) {
	manager, store := newTestManager(t)
	holdElsewhere(t, store, time.Minute)

	start := time.Now()
	out, err := NewBlockingDemo(manager).Run(context.Background(), ModeNonBlocking)

	require.NoError(t, err)
	assert.False(t, out.Acquired)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestBlockingDemo_NonBlockingFree(t *testing.T) {
	manager, _ := newTestManager(t)

	out, err := NewBlockingDemo(manager).Run(context.Background(), ModeNonBlocking)

	require.NoError(t, err)
	assert.True(t, out.Acquired)
}

func TestBlockingDemo_BlockingWaitsForHolder(t *testing.T) {
	manager, _ := newTestManager(t)
	holder := NewBlockingDemo(manager, WithHoldDuration(150*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := holder.Run(context.Background(), ModeHold)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	out, err := NewBlockingDemo(manager).Run(context.Background(), ModeBlocking)

	require.NoError(t, err)
	assert.True(t, out.Acquired)
	assert.GreaterOrEqual(t, out.Waited, 100*time.Millisecond)
	require.NoError(t, <-done)
}

func TestBlockingDemo_RetryExhausted(t *testing.T) {
	manager, store := newTestManager(t)
	holdElsewhere(t, store, time.Minute)

	demo := NewBlockingDemo(manager, WithRetryPolicy(lock.FixedRetry(5, 5*time.Millisecond)))
	out, err := demo.Run(context.Background(), ModeRetry)

	assert.ErrorIs(t, err, lock.ErrLockUnavailable)
	assert.Contains(t, err.Error(), "after 5 retries")
	assert.False(t, out.Acquired)
	assert.Equal(t, 5, out.Retries)
}

func TestBlockingDemo_RetrySucceeds(t *testing.T) {
	manager, store := newTestManager(t)
	holdElsewhere(t, store, 60*time.Millisecond)

	demo := NewBlockingDemo(manager, WithRetryPolicy(lock.FixedRetry(5, 40*time.Millisecond)))
	out, err := demo.Run(context.Background(), ModeRetry)

	require.NoError(t, err)
	assert.True(t, out.Acquired)
	assert.GreaterOrEqual(t, out.Retries, 1)
	assert.LessOrEqual(t, out.Retries, 3)
}

func TestBlockingDemo_UnknownMode(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := NewBlockingDemo(manager).Run(context.Background(), Mode("sideways"))

	assert.ErrorIs(t, err, ErrUnknownMode)
}
