// Package interceptor guards units of work with the lock their binding
// describes: it acquires the lock before the work starts and releases it on
// every exit path.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kneutral-org/resource-lock/internal/binding"
	"github.com/kneutral-org/resource-lock/internal/lock"
	"github.com/kneutral-org/resource-lock/internal/logging"
)

var tracer = otel.Tracer("github.com/kneutral-org/resource-lock/internal/interceptor")

// DefaultReleaseTimeout bounds the release call made after the work ends.
const DefaultReleaseTimeout = 5 * time.Second

// State is the lifecycle state of one invocation.
type State int

const (
	StateNotStarted State = iota
	StateLockPending
	StateLockHeld
	StateCompleted
	StateRejected
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateLockPending:
		return "lock_pending"
	case StateLockHeld:
		return "lock_held"
	case StateCompleted:
		return "completed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result describes how an invocation ended.
type Result struct {
	Unit     string
	Resource string
	State    State
	// WorkFailed is set when the work ran and returned an error.
	WorkFailed bool
}

// Work is a unit of work guarded by the interceptor. It receives a context
// carrying the invocation's active lock.
type Work func(ctx context.Context) error

var (
	// ErrResourceBusy is matched by rejections caused by another owner
	// holding the resource.
	ErrResourceBusy = errors.New("resource busy")

	// ErrNoActiveLock is returned by Refresh outside a guarded invocation.
	ErrNoActiveLock = errors.New("no active lock in context")
)

// RejectedError is returned when the lock could not be acquired and the
// work was not executed.
type RejectedError struct {
	Resource string
	// Busy reports contention, as opposed to cancellation or a store failure.
	Busy bool
	Err  error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("invocation rejected for resource %q: %v", e.Resource, e.Err)
}

// Unwrap returns the acquisition error.
func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrResourceBusy and the rejection was caused by contention.
func (e *RejectedError) Is(target error) bool {
	return target == ErrResourceBusy && e.Busy
}

// Interceptor runs units of work under the locks registered for them.
type Interceptor struct {
	manager        *lock.Manager
	table          *binding.Table
	logger         zerolog.Logger
	releaseTimeout time.Duration
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(i *Interceptor) {
		i.logger = logger
	}
}

// WithReleaseTimeout bounds the release made after the work ends.
func WithReleaseTimeout(d time.Duration) Option {
	return func(i *Interceptor) {
		if d > 0 {
			i.releaseTimeout = d
		}
	}
}

// New creates an interceptor that looks bindings up in table.
func New(manager *lock.Manager, table *binding.Table, opts ...Option) *Interceptor {
	if table == nil {
		table = binding.NewTable()
	}
	i := &Interceptor{
		manager:        manager,
		table:          table,
		logger:         zerolog.Nop(),
		releaseTimeout: DefaultReleaseTimeout,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With().Str("component", "lock-interceptor").Logger()
	return i
}

// Table returns the binding table consulted by Run.
func (i *Interceptor) Table() *binding.Table {
	return i.table
}

// Run executes work under the binding registered for unit. A unit without
// binding runs unguarded. The error returned by work is passed through
// unchanged; acquisition failures are returned as *RejectedError.
func (i *Interceptor) Run(ctx context.Context, unit string, vars binding.Vars, work Work) (Result, error) {
	b, ok := i.table.Lookup(unit)
	if !ok {
		err := work(ctx)
		return Result{Unit: unit, State: StateCompleted, WorkFailed: err != nil}, err
	}
	return i.run(ctx, unit, b, vars, work)
}

// RunBinding executes work under an ad hoc binding that is not registered in the table.
func (i *Interceptor) RunBinding(ctx context.Context, b binding.Binding, vars binding.Vars, work Work) (Result, error) {
	return i.run(ctx, "", b, vars, work)
}

func (i *Interceptor) run(ctx context.Context, unit string, b binding.Binding, vars binding.Vars, work Work) (res Result, err error) {
	res = Result{Unit: unit, State: StateNotStarted, Resource: binding.Resolve(b, vars)}
	logger := logging.LockLogger(i.logger, res.Resource).With().Str("unit", unit).Logger()

	if missing := binding.Unresolved(b, vars); len(missing) > 0 {
		logger.Warn().
			Strs("placeholders", missing).
			Msg("unresolved placeholders in resource name, unrelated invocations may contend")
	}

	ctx, span := tracer.Start(ctx, "lock.invocation", trace.WithAttributes(
		attribute.String("lock.unit", unit),
		attribute.String("lock.resource", res.Resource),
		attribute.Bool("lock.blocking", b.Blocking),
	))
	defer func() {
		span.SetAttributes(attribute.String("lock.state", res.State.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res.State = StateLockPending
	h := i.manager.CreateLock(res.Resource, b.TTL)

	// The refresh interval is checked against the handle's effective TTL,
	// which may come from the manager default.
	var refresher *lock.Refresher
	if b.RefreshInterval > 0 {
		r, rerr := lock.NewRefresher(h, b.RefreshInterval, lock.WithRefreshLogger(logger))
		if rerr != nil {
			res.State = StateRejected
			logger.Error().Err(rerr).Dur("ttl", h.TTL()).Msg("binding cannot keep its lease alive")
			return res, &RejectedError{Resource: h.Resource(), Err: rerr}
		}
		refresher = r
	}

	if err := i.acquire(ctx, h, b); err != nil {
		res.State = StateRejected
		logger.Warn().Err(err).Msg("resource is currently locked")
		return res, err
	}

	res.State = StateLockHeld
	logger.Info().Msg("lock acquired")

	workCtx, cancel := context.WithCancelCause(ctx)
	active := &activeLock{handle: h}
	workCtx = context.WithValue(workCtx, activeKey{}, active)

	if refresher != nil {
		refresher.OnLost(func(lost error) { cancel(lost) })
		refresher.Start(workCtx)
	}

	defer func() {
		if refresher != nil {
			refresher.Stop()
			if lostErr := refresher.Err(); lostErr != nil && err == nil {
				err = lostErr
			}
		}
		cancel(nil)
		i.release(ctx, h, logger)
		active.clear()
		res.State = StateCompleted
		res.WorkFailed = err != nil
	}()

	err = work(workCtx)
	return res, err
}

func (i *Interceptor) acquire(ctx context.Context, h *lock.Handle, b binding.Binding) error {
	var err error
	if b.Blocking {
		err = i.manager.AcquireWithTimeout(ctx, h, b.WaitTimeout)
	} else {
		err = h.TryAcquire(ctx)
	}
	if err == nil {
		return nil
	}

	rejected := &RejectedError{Resource: h.Resource(), Err: err}
	switch {
	case errors.Is(err, lock.ErrLockUnavailable):
		rejected.Busy = true
	case errors.Is(err, lock.ErrAcquisitionCanceled) && ctx.Err() == nil:
		// The binding's own wait timeout ran out while the resource stayed held.
		rejected.Busy = true
	}
	return rejected
}

// release runs on a context detached from the invocation's cancellation so
// that a canceled request still gives its lease back.
func (i *Interceptor) release(ctx context.Context, h *lock.Handle, logger zerolog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.releaseTimeout)
	defer cancel()

	if err := h.Release(rctx); err != nil {
		logger.Error().Err(err).Msg("failed to release lock, it will expire after its TTL")
		return
	}
	logger.Info().Msg("lock released")
}
