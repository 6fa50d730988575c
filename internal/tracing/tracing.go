// Package tracing wires up OpenTelemetry trace export and the
// W3C traceparent carrier used to propagate one trace across the
// listener/backfill -> bus -> ingestor process boundary.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Init configures the global tracer provider against an OTLP/HTTP
// collector endpoint. endpoint empty disables export and leaves otel's
// default no-op provider in place, so callers never need a nil check.
func Init(ctx context.Context, serviceName, endpoint string) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("tracing: init exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the named tracer off the global provider Init installed.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// carrier adapts a plain string pointer to propagation.TextMapCarrier so a
// single "traceparent" field on a wire message can round-trip a span
// context across process boundaries.
type carrier struct {
	value *string
}

func (c carrier) Get(key string) string {
	if key != "traceparent" || c.value == nil {
		return ""
	}
	return *c.value
}

func (c carrier) Set(key, value string) {
	if key == "traceparent" && c.value != nil {
		*c.value = value
	}
}

func (c carrier) Keys() []string {
	return []string{"traceparent"}
}

// Inject stamps ctx's current span context into traceparent.
func Inject(ctx context.Context, traceparent *string) {
	propagation.TraceContext{}.Inject(ctx, carrier{value: traceparent})
}

// Extract rebuilds a context carrying the remote span described by
// traceparent, or returns ctx unchanged if it's empty/invalid.
func Extract(ctx context.Context, traceparent string) context.Context {
	if traceparent == "" {
		return ctx
	}
	return propagation.TraceContext{}.Extract(ctx, carrier{value: &traceparent})
}
