// Package orders processes orders under a per-order lock, failing fast when
// another process already holds it.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/resource-lock/internal/lock"
	"github.com/kneutral-org/resource-lock/internal/logging"
)

const (
	// LockTTL is the lease duration of an order lock.
	LockTTL = 30 * time.Second

	// DefaultWorkDuration is the simulated processing time.
	DefaultWorkDuration = 5 * time.Second
)

var (
	// ErrAlreadyProcessing is returned when another owner holds the order lock.
	ErrAlreadyProcessing = errors.New("already being processed")

	// ErrPaymentGateway is returned by a simulated crash.
	ErrPaymentGateway = errors.New("something went wrong, the payment gateway is down")
)

// Charger charges the customer of an order.
type Charger interface {
	Charge(ctx context.Context, orderID int64) error
}

// ChargerFunc adapts a function to Charger.
type ChargerFunc func(ctx context.Context, orderID int64) error

// Charge calls f.
func (f ChargerFunc) Charge(ctx context.Context, orderID int64) error {
	return f(ctx, orderID)
}

// Processor runs the critical section of order processing.
type Processor struct {
	manager      *lock.Manager
	charger      Charger
	logger       zerolog.Logger
	workDuration time.Duration
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithCharger sets the payment integration.
func WithCharger(c Charger) Option {
	return func(p *Processor) {
		if c != nil {
			p.charger = c
		}
	}
}

// WithWorkDuration sets the simulated processing time.
func WithWorkDuration(d time.Duration) Option {
	return func(p *Processor) {
		if d >= 0 {
			p.workDuration = d
		}
	}
}

// NewProcessor creates a Processor.
func NewProcessor(manager *lock.Manager, opts ...Option) *Processor {
	p := &Processor{
		manager:      manager,
		logger:       zerolog.Nop(),
		workDuration: DefaultWorkDuration,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "order-processor").Logger()
	if p.charger == nil {
		p.charger = ChargerFunc(p.logCharge)
	}
	return p
}

// ResourceName returns the lock resource of an order.
func ResourceName(orderID int64) string {
	return "order_" + strconv.FormatInt(orderID, 10)
}

// Process handles one order. The order lock is released on every exit
// path, including a simulated crash, before Process returns.
func (p *Processor) Process(ctx context.Context, orderID int64, crash bool) (err error) {
	h := p.manager.CreateLock(ResourceName(orderID), LockTTL)
	logger := logging.LockLogger(p.logger, h.Resource()).With().Int64("orderId", orderID).Logger()

	logger.Info().Msg("attempting to acquire order lock")
	if err := h.TryAcquire(ctx); err != nil {
		if errors.Is(err, lock.ErrLockUnavailable) {
			logger.Warn().Msg("order is already being processed")
			return fmt.Errorf("order %d is %w", orderID, ErrAlreadyProcessing)
		}
		return fmt.Errorf("acquire lock for order %d: %w", orderID, err)
	}
	logger.Info().Msg("order lock acquired")

	defer func() {
		logger.Info().Msg("releasing order lock")
		if rerr := h.Release(context.WithoutCancel(ctx)); rerr != nil {
			logger.Error().Err(rerr).Msg("failed to release order lock")
			if err == nil {
				err = rerr
			}
		}
	}()

	logger.Info().Dur("duration", p.workDuration).Msg("processing order")
	if err := sleep(ctx, p.workDuration); err != nil {
		return err
	}

	if crash {
		logger.Error().Msg("simulating a crash while processing order")
		return ErrPaymentGateway
	}

	if err := p.charger.Charge(ctx, orderID); err != nil {
		return fmt.Errorf("charge order %d: %w", orderID, err)
	}
	logger.Info().Msg("finished processing order")
	return nil
}

func (p *Processor) logCharge(_ context.Context, orderID int64) error {
	p.logger.Info().Int64("orderId", orderID).Msg("charging user for order")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
