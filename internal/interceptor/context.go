package interceptor

import (
	"context"
	"sync"

	"github.com/kneutral-org/resource-lock/internal/lock"
)

type activeKey struct{}

// activeLock is the per-invocation registry entry. It lives in the work
// context and is cleared when the invocation releases its lock.
type activeLock struct {
	mu     sync.Mutex
	handle *lock.Handle
}

func (a *activeLock) get() *lock.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle
}

func (a *activeLock) clear() {
	a.mu.Lock()
	a.handle = nil
	a.mu.Unlock()
}

// HandleFromContext returns the lock held by the invocation running with ctx.
func HandleFromContext(ctx context.Context) (*lock.Handle, bool) {
	a, ok := ctx.Value(activeKey{}).(*activeLock)
	if !ok {
		return nil, false
	}
	h := a.get()
	return h, h != nil
}

// Refresh extends the lease of the invocation running with ctx. Long
// running work calls it at an interval of at most half the binding TTL.
func Refresh(ctx context.Context) error {
	h, ok := HandleFromContext(ctx)
	if !ok {
		return ErrNoActiveLock
	}
	return h.Refresh(ctx)
}
