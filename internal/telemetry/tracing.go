package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InitTracer installs a global tracer provider exporting to an OTLP/HTTP
// endpoint. When disabled it returns a no-op tracer. The returned function
// flushes and stops the exporter.
func InitTracer(ctx context.Context, enabled bool, endpoint string, attrs []attribute.KeyValue) (trace.Tracer, func(context.Context) error, error) {
	if !enabled {
		return noop.NewTracerProvider().Tracer("collivery"), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
	)
	otel.SetTracerProvider(provider)

	return provider.Tracer("collivery"), provider.Shutdown, nil
}
