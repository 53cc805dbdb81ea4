// Package telemetry wires OpenTelemetry tracing: a provider exporting via
// OTLP/gRPC — the same exporter choice the teacher makes for its own
// control-plane tracing — and a StartSpan helper. No code in this
// repository calls StartSpan.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/brokkr-io/brokkr"

// Provider wraps an sdktrace.TracerProvider and its tracer, with a Shutdown
// that flushes pending spans — part of the graceful-shutdown sequence.
type Provider struct {
	tp     *sdktrace.TracerProvider
	Tracer trace.Tracer
}

// Setup builds a TracerProvider exporting to endpoint via OTLP/gRPC. An
// empty endpoint disables export but still installs a no-op-safe provider,
// so instrumented code never needs a nil check.
func Setup(ctx context.Context, endpoint, serviceName string) (*Provider, error) {
	if endpoint == "" {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return &Provider{tp: tp, Tracer: tp.Tracer(tracerName)}, nil
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("telemetry: build otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, Tracer: tp.Tracer(tracerName)}, nil
}

// Shutdown flushes and stops span export, bounded by ctx's deadline.
func (p *Provider) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(shutdownCtx)
}

// StartSpan is a thin convenience wrapper kept so call sites read the same
// whether tracing export is enabled or not.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.Tracer.Start(ctx, name)
}
