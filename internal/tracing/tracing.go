// Package tracing wires OpenTelemetry for lock operations: provider setup
// and an observer that attaches lock events to the active span.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/kneutral-org/resource-lock/internal/lock"
)

// Exporters accepted by Setup.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Setup installs a global tracer provider for the named exporter. With
// ExporterNone the global no-op provider is left in place.
func Setup(serviceName, exporter string) (ShutdownFunc, error) {
	switch exporter {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}

	exp, err := stdouttrace.New()
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(sdkresource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// SpanEventObserver records every lock event as an event on the span found
// in the event's context. Events outside a recording span are dropped.
type SpanEventObserver struct{}

// NewSpanEventObserver creates a SpanEventObserver.
func NewSpanEventObserver() *SpanEventObserver {
	return &SpanEventObserver{}
}

// ObserveLockEvent implements lock.Observer.
func (o *SpanEventObserver) ObserveLockEvent(ctx context.Context, e lock.Event) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("lock.resource", e.Resource),
		attribute.Int64("lock.ttl_ms", e.TTL.Milliseconds()),
		attribute.Bool("lock.blocking", e.Blocking),
	}
	if e.Attempt > 0 {
		attrs = append(attrs, attribute.Int("lock.attempt", e.Attempt))
	}
	if e.Waited > 0 {
		attrs = append(attrs, attribute.Int64("lock.waited_ms", e.Waited.Milliseconds()))
	}
	if e.Err != nil {
		attrs = append(attrs, attribute.String("lock.error", e.Err.Error()))
	}

	opts := []trace.EventOption{trace.WithAttributes(attrs...)}
	if !e.Time.IsZero() {
		opts = append(opts, trace.WithTimestamp(e.Time))
	}
	span.AddEvent("lock."+string(e.Kind), opts...)
}
