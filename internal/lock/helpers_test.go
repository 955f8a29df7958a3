package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClock is a manually advanced clock shared by a store and a manager.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBackendDown = errors.New("connection refused")

// flakyStore wraps a Store and can be switched to fail every call.
type flakyStore struct {
	Store
	failing  atomic.Bool
	acquires atomic.Int32
}

func (s *flakyStore) TryAcquire(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	s.acquires.Add(1)
	if s.failing.Load() {
		return false, errBackendDown
	}
	return s.Store.TryAcquire(ctx, resource, token, ttl)
}

func (s *flakyStore) TryExtend(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	if s.failing.Load() {
		return false, errBackendDown
	}
	return s.Store.TryExtend(ctx, resource, token, ttl)
}

func (s *flakyStore) TryRelease(ctx context.Context, resource, token string) (bool, error) {
	if s.failing.Load() {
		return false, errBackendDown
	}
	return s.Store.TryRelease(ctx, resource, token)
}

// eventRecorder collects the kinds of observed events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) ObserveLockEvent(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) Kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (r *eventRecorder) Count(kind EventKind) int {
	n := 0
	for _, k := range r.Kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// newTestManager returns a manager and memory store driven by a fake clock.
func newTestManager(opts ...ManagerOption) (*Manager, *MemoryStore, *fakeClock) {
	clock := newFakeClock()
	store := NewMemoryStore(WithMemoryClock(clock.Now))
	opts = append([]ManagerOption{WithClock(clock.Now), WithPollInterval(5 * time.Millisecond)}, opts...)
	return NewManager(store, opts...), store, clock
}
