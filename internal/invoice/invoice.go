// Package invoice generates invoices. Generation is exclusive per invoice:
// the HTTP and gRPC entry points bind it to the same resource.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/resource-lock/internal/binding"
	"github.com/kneutral-org/resource-lock/internal/interceptor"
	"github.com/kneutral-org/resource-lock/internal/logging"
	"github.com/kneutral-org/resource-lock/internal/middleware"
)

const (
	// Unit is the binding table key of invoice generation over HTTP.
	Unit = "generate_invoice"

	// ResourceTemplate names the lock of one invoice.
	ResourceTemplate = "invoice_{id}"

	// LockTTL covers the whole generation.
	LockTTL = 60 * time.Second
)

// ErrInvalidID is returned for an empty invoice id.
var ErrInvalidID = errors.New("invoice id is required")

// Binding returns the lock binding of invoice generation.
func Binding() binding.Binding {
	return binding.Binding{NameTemplate: ResourceTemplate, TTL: LockTTL}
}

// Invoice is a generated invoice.
type Invoice struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generatedAt"`
	Duration    string    `json:"duration"`
}

// Generator renders invoices. It assumes the caller holds the invoice lock.
type Generator struct {
	duration time.Duration
	logger   zerolog.Logger
}

// NewGenerator creates a generator whose work takes duration.
func NewGenerator(duration time.Duration, logger zerolog.Logger) *Generator {
	return &Generator{
		duration: duration,
		logger:   logger,
	}
}

// Generate renders the invoice with the given id.
func (g *Generator) Generate(ctx context.Context, id string) (*Invoice, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	logger := logging.LoggerFromContext(ctx, g.logger).With().
		Str("component", "invoice-generator").
		Str("invoiceId", id).
		Logger()
	logger.Info().Msg("starting heavy invoice generation")

	start := time.Now()
	if g.duration > 0 {
		timer := time.NewTimer(g.duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			logger.Warn().Err(ctx.Err()).Msg("invoice generation interrupted")
			return nil, fmt.Errorf("generate invoice %s: %w", id, ctx.Err())
		case <-timer.C:
		}
	}

	logger.Info().Msg("finished generating invoice")
	return &Invoice{ID: id, GeneratedAt: time.Now().UTC(), Duration: time.Since(start).String()}, nil
}

// Handler serves invoice generation over HTTP.
type Handler struct {
	generator   *Generator
	interceptor *interceptor.Interceptor
	logger      zerolog.Logger
}

// NewHandler creates a Handler. The interceptor's table must contain Unit.
func NewHandler(generator *Generator, ic *interceptor.Interceptor, logger zerolog.Logger) *Handler {
	return &Handler{
		generator:   generator,
		interceptor: ic,
		logger:      logger.With().Str("component", "invoice-handler").Logger(),
	}
}

// RegisterRoutes registers the invoice routes.
func (h *Handler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/invoice/:id/generate", middleware.Lock(h.interceptor, Unit, h.logger), h.generate)
}

func (h *Handler) generate(c *gin.Context) {
	id := c.Param("id")
	inv, err := h.generator.Generate(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidID) {
			status = http.StatusBadRequest
		}
		c.AbortWithStatusJSON(status, gin.H{
			"error":   "invoiceGenerationFailed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("Invoice %s generated successfully, the lock has been released.", id),
		"invoice": inv,
	})
}
