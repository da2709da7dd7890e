package obs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aleutianrag/internal/config"

	"go.opentelemetry.io/contrib/instrumentation/host"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// InitOTel configures tracing and metrics exporters and returns a shutdown
// func. Grounded on internal/observability/otel.go in the teacher (resource
// attrs, batch span processor, periodic metric reader, host metrics).
func InitOTel(ctx context.Context, obsCfg config.ObservabilityConfig) (func(context.Context) error, error) {
	if obsCfg.OTLPEndpoint == "" {
		return nil, errors.New("obs: otlp endpoint is required")
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithAttributes(
			semconv.ServiceName(obsCfg.ServiceName),
			semconv.ServiceVersion(obsCfg.ServiceVersion),
			attribute.String("deployment.environment", obsCfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("obs: init resource: %w", err)
	}

	trExp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(obsCfg.OTLPEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("obs: init trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(trExp),
		sdktrace.WithResource(res),
	)

	mExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(obsCfg.OTLPEndpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("obs: init metrics exporter: %w", err)
	}
	reader := metric.NewPeriodicReader(mExp, metric.WithInterval(10*time.Second))
	mp := metric.NewMeterProvider(
		metric.WithReader(reader),
		metric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if err := host.Start(host.WithMeterProvider(mp)); err != nil {
		return nil, fmt.Errorf("obs: start host metrics: %w", err)
	}

	return func(ctx context.Context) error {
		var first error
		if err := mp.Shutdown(ctx); err != nil {
			first = err
		}
		if err := tp.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
		return first
	}, nil
}
