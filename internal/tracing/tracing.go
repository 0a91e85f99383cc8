// Package tracing sets up OpenTelemetry for HAP: one span per pipeline
// stage; no run-level span is created (SPEC_FULL.md §C "Metrics and tracing"
// supplemented feature).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls where trace spans are exported.
type Config struct {
	Enabled       bool
	OTLPEndpoint  string // host:port of an OTLP/HTTP collector
	ServiceName   string
}

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// Setup configures the global tracer provider. When cfg.Enabled is false,
// it installs nothing and returns a tracer from the current global provider
// (a no-op one unless something else set it), so callers can call tracing
// unconditionally.
func Setup(ctx context.Context, cfg Config) (trace.Tracer, Shutdown, error) {
	if !cfg.Enabled {
		return otel.Tracer("hap"), func(context.Context) error { return nil }, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "hap"
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Tracer("hap"), tp.Shutdown, nil
}

// StageSpan starts a span for one named pipeline stage as a child of any
// span already in ctx (a new root span otherwise), scoped to one clip when
// clipID is non-empty.
func StageSpan(ctx context.Context, tracer trace.Tracer, stage, clipID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, stage)
	if clipID != "" {
		span.SetAttributes(attribute.String("hap.clip_id", clipID))
	}
	return ctx, span
}
