// Package tracing wires up the OpenTelemetry TracerProvider each worker uses
// to wrap its PublishBatch calls in spans (spec.md §9; internal/worker
// consumes only the trace.Tracer interface, so this package owns the one
// piece of exporter-specific setup).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Exporter selects which span exporter backs the TracerProvider.
type Exporter string

const (
	// ExporterNone disables tracing: Setup returns a no-op tracer.
	ExporterNone Exporter = "none"
	// ExporterStdout writes spans as JSON to stdout, useful in local/dev.
	ExporterStdout Exporter = "stdout"
	// ExporterOTLP ships spans to a collector over gRPC.
	ExporterOTLP Exporter = "otlp"
)

// Config configures Setup.
type Config struct {
	Exporter       Exporter
	ServiceName    string
	OTLPEndpoint   string // host:port, e.g. "localhost:4317"; only used by ExporterOTLP
	OTLPInsecure   bool
}

// Provider bundles the constructed TracerProvider with its Shutdown hook.
// Shutdown must be called during host shutdown to flush any buffered spans.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// Tracer returns a named tracer the worker wraps each publish call with.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes and releases exporter resources. A no-op provider's
// Shutdown always succeeds immediately.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Setup constructs a Provider per cfg. ExporterNone, or the empty zero value, yields a
// functioning no-op provider, so callers can always treat tracing as
// optional without a nil check.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	switch cfg.Exporter {
	case "", ExporterNone:
		return &Provider{tp: trace.NewNoopTracerProvider()}, nil

	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("tracing: failed to construct stdout exporter: %w", err)
		}
		return newSDKProvider(ctx, cfg, exp)

	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("tracing: failed to construct otlp exporter: %w", err)
		}
		return newSDKProvider(ctx, cfg, exp)

	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}
}

func newSDKProvider(ctx context.Context, cfg Config, exp sdktrace.SpanExporter) (*Provider, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "eventgateway"
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("tracing: failed to build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}
