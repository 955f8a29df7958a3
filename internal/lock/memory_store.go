package lock

import (
	"context"
	"sync"
	"time"
)

// entry is one lease held in a MemoryStore.
type entry struct {
	token     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store for tests, development and single-node
// deployments. Expired entries are treated as absent and removed by a
// background cleanup loop.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock overrides the clock used to evaluate expiry.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates a new in-memory lock store and starts its cleanup loop.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]entry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.cleanupLoop()
	return s
}

// TryAcquire implements Store.TryAcquire.
func (s *MemoryStore) TryAcquire(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[resource]; ok && e.expiresAt.After(now) {
		return false, nil
	}
	s.entries[resource] = entry{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

// TryExtend implements Store.TryExtend.
func (s *MemoryStore) TryExtend(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[resource]
	if !ok || e.token != token || !e.expiresAt.After(now) {
		return false, nil
	}
	e.expiresAt = now.Add(ttl)
	s.entries[resource] = e
	return true, nil
}

// TryRelease implements Store.TryRelease.
func (s *MemoryStore) TryRelease(ctx context.Context, resource, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[resource]
	if !ok || e.token != token || !e.expiresAt.After(s.now()) {
		return false, nil
	}
	delete(s.entries, resource)
	return true, nil
}

// Holder returns the token currently holding resource, if any.
func (s *MemoryStore) Holder(resource string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[resource]
	if !ok || !e.expiresAt.After(s.now()) {
		return "", false
	}
	return e.token, true
}

// Cleanup removes expired entries and returns how many were removed.
func (s *MemoryStore) Cleanup(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for resource, e := range s.entries {
		if !e.expiresAt.After(now) {
			delete(s.entries, resource)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries in the store, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background())
		}
	}
}
