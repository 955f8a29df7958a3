package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/resource-lock/internal/jobs"
	"github.com/kneutral-org/resource-lock/internal/lock"
)

func newTestManager(t *testing.T) (*lock.Manager, *lock.MemoryStore) {
	t.Helper()
	store := lock.NewMemoryStore()
	t.Cleanup(store.Close)
	return lock.NewManager(store, lock.WithPollInterval(5*time.Millisecond)), store
}

func TestRun_NoCommand(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, exitInvalid, run(context.Background(), nil, &out, nil))
	assert.Contains(t, out.String(), "usage: lockctl")
}

func TestRun_UnknownCommand(t *testing.T) {
	manager, _ := newTestManager(t)
	var out bytes.Buffer
	assert.Equal(t, exitInvalid, run(context.Background(), []string{"reticulate"}, &out, manager))
	assert.Contains(t, out.String(), `unknown command "reticulate"`)
}

func TestProcessOrder(t *testing.T) {
	manager, store := newTestManager(t)
	var out bytes.Buffer

	code := run(context.Background(), []string{"process-order", "--work-duration=0", "5"}, &out, manager)

	assert.Equal(t, exitSuccess, code)
	assert.Contains(t, out.String(), "Order 5 processed successfully.")
	_, held := store.Holder("order_5")
	assert.False(t, held)
}

func TestProcessOrder_Crash(t *testing.T) {
	manager, store := newTestManager(t)
	var out bytes.Buffer

	code := run(context.Background(), []string{"process-order", "--crash", "--work-duration=0", "5"}, &out, manager)

	assert.Equal(t, exitFailure, code)
	assert.Contains(t, out.String(), "payment gateway is down")
	assert.Contains(t, out.String(), "The lock order_5 has been released.")
	_, held := store.Holder("order_5")
	assert.False(t, held)
}

func TestProcessOrder_Busy(t *testing.T) {
	manager, store := newTestManager(t)
	_, err := store.TryAcquire(context.Background(), "order_1", "other", time.Minute)
	require.NoError(t, err)
	var out bytes.Buffer

	code := run(context.Background(), []string{"process-order", "--work-duration=0"}, &out, manager)

	assert.Equal(t, exitFailure, code)
	assert.Contains(t, out.String(), "order 1 is already being processed")
	assert.NotContains(t, out.String(), "has been released")
	holder, _ := store.Holder("order_1")
	assert.Equal(t, "other", holder)
}

func TestProcessOrder_InvalidID(t *testing.T) {
	manager, _ := newTestManager(t)
	var out bytes.Buffer
	assert.Equal(t, exitInvalid, run(context.Background(), []string{"process-order", "abc"}, &out, manager))
}

func TestLongTask(t *testing.T) {
	manager, _ := newTestManager(t)
	var out bytes.Buffer

	code := run(context.Background(), []string{"long-task", "--rows=3", "--row-duration=1ms"}, &out, manager)

	assert.Equal(t, exitSuccess, code)
	assert.Contains(t, out.String(), "finished successfully")
}

func TestBlockingTest_NoMode(t *testing.T) {
	manager, _ := newTestManager(t)
	var out bytes.Buffer

	assert.Equal(t, exitInvalid, run(context.Background(), []string{"blocking-test"}, &out, manager))
	assert.Contains(t, out.String(), "You must choose a mode")
}

func TestBlockingTest_Modes(t *testing.T) {
	manager, store := newTestManager(t)

	var out bytes.Buffer
	assert.Equal(t, exitSuccess, run(context.Background(), []string{"blocking-test", "--hold", "--hold-duration=1ms"}, &out, manager))
	assert.Contains(t, out.String(), "Done.")

	_, err := store.TryAcquire(context.Background(), jobs.BlockingResource, "holder", time.Minute)
	require.NoError(t, err)

	out.Reset()
	assert.Equal(t, exitSuccess, run(context.Background(), []string{"blocking-test", "--non-blocking"}, &out, manager))
	assert.Contains(t, out.String(), "The resource is busy.")

	out.Reset()
	assert.Equal(t, exitFailure, run(context.Background(), []string{"blocking-test", "--retry", "--retries=2", "--retry-delay=1ms"}, &out, manager))
	assert.Contains(t, out.String(), "after 2 retries")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out.Reset()
	assert.Equal(t, exitFailure, run(ctx, []string{"blocking-test", "--blocking"}, &out, manager))
}
