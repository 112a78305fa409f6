// Package telemetry installs the OpenTelemetry tracer provider and propagators.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(context.Context) error

type Options struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Insecure       bool
}

// Init sets the W3C propagators and, when an endpoint is configured, a batching
// OTLP trace exporter. Without an endpoint spans stay on the no-op provider.
func Init(ctx context.Context, opts Options) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if opts.Endpoint == "" {
		slog.Info("Trace export disabled, OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func(context.Context) error { return nil }, nil
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(opts)),
	)
	otel.SetTracerProvider(tp)
	slog.Info("Trace export enabled", "endpoint", opts.Endpoint)

	return tp.Shutdown, nil
}

func newResource(opts Options) *resource.Resource {
	service := resource.NewSchemaless(
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.ServiceVersion),
	)
	res, err := resource.Merge(resource.Default(), service)
	if err != nil {
		return service
	}
	return res
}
