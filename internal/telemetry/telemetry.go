// Package telemetry wires the process-global OTel meter and tracer
// providers syncctl uses for lock-wait histograms (internal/recordlock)
// and span instrumentation. Grounded on the OTLP provider/shutdown-func
// shape in the pack's tracing setup, but exports to stdout instead of a
// collector since no operator endpoint is part of this spec's scope.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Shutdown flushes and stops the installed providers.
type Shutdown func(context.Context) error

// Setup installs global meter and tracer providers that export to stdout,
// returning a Shutdown to call before process exit. serviceName tags every
// exported metric and span.
func Setup(serviceName string) (Shutdown, error) {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("create stdout metric exporter: %w", err)
	}
	meterProvider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(meterProvider)

	traceExporter, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tracerProvider)

	return func(ctx context.Context) error {
		if err := meterProvider.Shutdown(ctx); err != nil {
			return err
		}
		return tracerProvider.Shutdown(ctx)
	}, nil
}

// Tracer returns a tracer for span instrumentation around sync cycles.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
