// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Options configures Init
type Options struct {
	ServiceName    string
	ServiceVersion string
	// Writer receives pretty printed spans, nil means stdout
	Writer io.Writer
	// Sync exports each span on End instead of batching
	Sync bool
}

// Init sets the global tracer provider and returns its shutdown func
func Init(opt Options) (func(context.Context) error, error) {
	// OTLP needs a collector; the stdout exporter works everywhere
	exporterOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if opt.Writer != nil {
		exporterOpts = append(exporterOpts, stdouttrace.WithWriter(opt.Writer))
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Create resource with service information
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(opt.ServiceName),
			semconv.ServiceVersion(opt.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	export := sdktrace.WithBatcher(exporter)
	if opt.Sync {
		export = sdktrace.WithSyncer(exporter)
	}
	tp := sdktrace.NewTracerProvider(
		export,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
