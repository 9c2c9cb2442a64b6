package otel

import (
	"context"
	"errors"
	"fmt"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName is reported as service.name on exported spans.
const ServiceName = "toolversions"

// Telemetry owns the providers installed for one CLI invocation.
type Telemetry struct {
	Observer *UpdateObserver

	provider *sdktrace.TracerProvider
}

// Setup builds an UpdateObserver on the global providers. When endpoint is
// set, an SDK tracer provider exporting over OTLP/HTTP is installed as the
// global tracer provider first.
func Setup(ctx context.Context, endpoint, version string) (*Telemetry, error) {
	t := &Telemetry{}
	if endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("otel: create otlp exporter: %w", err)
		}
		t.provider = NewTracerProvider(exporter, version)
		otelapi.SetTracerProvider(t.provider)
	}

	observer, err := NewUpdateObserver(
		otelapi.GetMeterProvider().Meter(InstrumentationName),
		otelapi.GetTracerProvider().Tracer(InstrumentationName),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("otel: create observer: %w", err), t.Shutdown(ctx))
	}
	t.Observer = observer
	return t, nil
}

// NewTracerProvider returns a batching tracer provider for exporter tagged
// with the service name and version.
func NewTracerProvider(exporter sdktrace.SpanExporter, version string) *sdktrace.TracerProvider {
	attrs := []attribute.KeyValue{attribute.String("service.name", ServiceName)}
	if version != "" {
		attrs = append(attrs, attribute.String("service.version", version))
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
	)
}

// Shutdown flushes and stops the installed tracer provider, if any.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
