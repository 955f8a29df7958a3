package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Only touch the key if it still holds the caller's token.
var (
	extendScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)

	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
)

// RedisStore implements Store using Redis. Acquisition uses SET NX PX;
// extend and release run Lua scripts so the token check and the write are
// atomic.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets a prefix for all lock keys in Redis.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed lock store.
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "lock:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the Redis key used for resource.
func (s *RedisStore) Key(resource string) string {
	return s.prefix + resource
}

// TryAcquire implements Store.TryAcquire.
func (s *RedisStore) TryAcquire(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.Key(resource), token, ttl).Result()
}

// TryExtend implements Store.TryExtend.
func (s *RedisStore) TryExtend(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	result, err := extendScript.Run(ctx, s.client, []string{s.Key(resource)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// TryRelease implements Store.TryRelease.
func (s *RedisStore) TryRelease(ctx context.Context, resource, token string) (bool, error) {
	result, err := releaseScript.Run(ctx, s.client, []string{s.Key(resource)}, token).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// Ping checks if the Redis connection is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
