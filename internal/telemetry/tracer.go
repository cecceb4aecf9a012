package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopTracer is the zero-configuration tracer the provider uses when no
// otel SDK tracer provider is supplied: every span is a no-op, so the
// failover executor's tracing calls are always safe to make
// unconditionally.
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("")
}

// TracerProviderOptions configures NewOTLPTracerProvider.
type TracerProviderOptions struct {
	ServiceName string
	// OTLPEndpoint is the collector endpoint (host:port); when empty the
	// exporter uses its default (localhost:4318).
	OTLPEndpoint string
}

// NewOTLPTracerProvider builds an otel SDK tracer provider exporting spans
// over OTLP/HTTP, for callers that want real trace export rather than the
// no-op tracer. Grounded on 99souls-ariadne's otel sdk + otlptracehttp
// wiring from the examples pack.
func NewOTLPTracerProvider(ctx context.Context, opts TracerProviderOptions) (*sdktrace.TracerProvider, error) {
	exporterOpts := []otlptracehttp.Option{}
	if opts.OTLPEndpoint != "" {
		exporterOpts = append(exporterOpts, otlptracehttp.WithEndpoint(opts.OTLPEndpoint))
	}

	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building otlp exporter: %w", err)
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "appconfig-provider"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}
