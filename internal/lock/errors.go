package lock

import (
	"errors"
	"fmt"
)

// Common errors for lock operations.
var (
	// ErrLockUnavailable is returned when the resource is held by another owner.
	ErrLockUnavailable = errors.New("lock unavailable: resource held by another owner")

	// ErrLockLost is returned when a refresh finds that the lease no longer
	// belongs to this handle. The critical section may have run unprotected.
	ErrLockLost = errors.New("lock lost: lease no longer owned by this handle")

	// ErrStoreUnavailable is matched by every error caused by the backend itself.
	ErrStoreUnavailable = errors.New("lock store unavailable")

	// ErrAcquisitionCanceled is returned when a blocking or retrying
	// acquisition is stopped by its context.
	ErrAcquisitionCanceled = errors.New("lock acquisition canceled")

	// ErrInvalidRetryPolicy is returned for retry policies that cannot be executed.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrRefreshInterval is returned when a refresh interval leaves no margin before expiry.
	ErrRefreshInterval = errors.New("refresh interval must be positive and at most half the TTL")
)

// StoreError wraps a backend failure with the operation and resource that
// triggered it. It matches ErrStoreUnavailable with errors.Is.
type StoreError struct {
	Op       string
	Resource string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("lock store %s %q: %v", e.Op, e.Resource, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func canceled(cause error) error {
	return fmt.Errorf("%w: %w", ErrAcquisitionCanceled, cause)
}
