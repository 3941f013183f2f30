// Package telemetry wires the process-global OpenTelemetry providers.
// Export is OTLP over HTTP; with no collector endpoint configured the
// global no-op providers stay in place and instrumented code costs nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	traceBatchTimeout  = 5 * time.Second
	metricExportPeriod = 15 * time.Second
)

// Shutdown flushes and stops the installed providers.
type Shutdown func(ctx context.Context) error

// Init installs OTLP/HTTP trace and metric providers as the OTEL globals and
// returns their combined shutdown. An empty endpoint disables export entirely.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(version),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp, err := traceProvider(ctx, endpoint, insecure, res)
	if err != nil {
		return nil, err
	}
	mp, err := meterProvider(ctx, endpoint, insecure, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	// W3C trace context + baggage, so upstream traceparent headers continue
	// through us and into outbound calls (extraction, Qdrant).
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func traceProvider(ctx context.Context, endpoint string, insecure bool, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(traceBatchTimeout)),
		sdktrace.WithResource(res),
	), nil
}

func meterProvider(ctx context.Context, endpoint string, insecure bool, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(metricExportPeriod))),
		sdkmetric.WithResource(res),
	), nil
}

// Meter returns a meter from the installed global provider.
func Meter(scope string) metric.Meter {
	return otel.GetMeterProvider().Meter(scope)
}
