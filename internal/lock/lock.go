// Package lock provides lease-based mutual exclusion for work that must not
// run concurrently on the same logical resource across processes.
//
// A Manager creates Handles for named resources. A Handle acquires a lease
// in a shared Store, may refresh it while a long critical section runs, and
// releases it when the work is done. The Store is authoritative for expiry:
// a lease that is not refreshed before its TTL elapses can be claimed by
// another owner.
//
// Among several blocked contenders for one resource no ordering is
// guaranteed. The first successful atomic write to the store wins.
package lock

import (
	"context"
	"time"
)

// Store is the narrow set of atomic primitives a shared lock backend must offer.
// Implementations must be safe for concurrent use.
//
// A non-nil error means the backend could not be reached or failed; a false
// result without error means contention (acquire) or a token mismatch
// (extend, release).
type Store interface {
	// TryAcquire sets resource to token with the given TTL only if the
	// resource is absent or expired.
	TryAcquire(ctx context.Context, resource, token string, ttl time.Duration) (bool, error)

	// TryExtend resets the TTL of resource only if it is currently held by token.
	TryExtend(ctx context.Context, resource, token string, ttl time.Duration) (bool, error)

	// TryRelease deletes resource only if it is currently held by token.
	TryRelease(ctx context.Context, resource, token string) (bool, error)
}

// State is the lifecycle state of a Handle.
type State int

const (
	// StateUnacquired is the state of a freshly created handle.
	StateUnacquired State = iota
	// StateHeld means the last store operation confirmed ownership.
	StateHeld
	// StateReleased means the lease was given back.
	StateReleased
	// StateExpired means the lease elapsed or was found to belong to someone else.
	StateExpired
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateUnacquired:
		return "unacquired"
	case StateHeld:
		return "held"
	case StateReleased:
		return "released"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

const (
	// DefaultTTL is used when a lock is created without a positive TTL.
	DefaultTTL = 30 * time.Second

	// DefaultPollInterval is the pause between attempts of a blocking acquisition.
	DefaultPollInterval = 100 * time.Millisecond
)
