package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisStore returns a store backed by an in-process miniredis server.
func newTestRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return NewRedisStore(client, opts...), mr, client
}

func TestRedisStore_TryAcquire(t *testing.T) {
	store, mr, _ := newTestRedisStore(t)
	ctx := context.Background()

	ok, err := store.TryAcquire(ctx, "order_42", "instance-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryAcquire(ctx, "order_42", "instance-2", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := mr.Get("lock:order_42")
	require.NoError(t, err)
	assert.Equal(t, "instance-1", val)
	assert.Equal(t, 30*time.Second, mr.TTL("lock:order_42"))
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	store, mr, _ := newTestRedisStore(t, WithKeyPrefix("app:locks:"))

	ok, err := store.TryAcquire(context.Background(), "invoice_7", "t", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, mr.Exists("app:locks:invoice_7"))
	assert.Equal(t, "app:locks:invoice_7", store.Key("invoice_7"))
}

func TestRedisStore_ExtendOnlyOwnLock(t *testing.T) {
	store, mr, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.TryAcquire(ctx, "job", "owner", 5*time.Second)
	require.NoError(t, err)

	mr.FastForward(3 * time.Second)

	ok, err := store.TryExtend(ctx, "job", "intruder", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.TryExtend(ctx, "job", "owner", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, mr.TTL("lock:job"))
}

func TestRedisStore_ReleaseOnlyOwnLock(t *testing.T) {
	store, mr, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.TryAcquire(ctx, "job", "owner", time.Minute)
	require.NoError(t, err)

	ok, err := store.TryRelease(ctx, "job", "intruder")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("lock:job"))

	ok, err = store.TryRelease(ctx, "job", "owner")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("lock:job"))
}

func TestRedisStore_AutoExpire(t *testing.T) {
	store, mr, _ := newTestRedisStore(t)
	m := NewManager(store)
	ctx := context.Background()

	first := m.CreateLock("order_5", 30*time.Second)
	require.NoError(t, first.TryAcquire(ctx))

	mr.FastForward(31 * time.Second)

	second := m.CreateLock("order_5", 30*time.Second)
	require.NoError(t, second.TryAcquire(ctx))

	assert.ErrorIs(t, first.Refresh(ctx), ErrLockLost)
	require.NoError(t, first.Release(ctx))

	val, err := mr.Get("lock:order_5")
	require.NoError(t, err)
	assert.Equal(t, second.Token(), val)
}

func TestRedisStore_Unreachable(t *testing.T) {
	store, mr, _ := newTestRedisStore(t)
	m := NewManager(store)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.CreateLock("order_1", time.Second).TryAcquire(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrLockUnavailable)
}

func TestRedisStore_Ping(t *testing.T) {
	store, _, _ := newTestRedisStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}
