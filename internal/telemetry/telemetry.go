package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(context.Context) error

// Config controls the exported service identity, trace sampling and export
// cadence. Exporter endpoints and headers come from the standard
// OTEL_EXPORTER_OTLP_* environment variables.
type Config struct {
	ServiceName string
	Version     string

	// SampleRatio is the fraction of traces kept, 0 < ratio <= 1. Default: 1
	SampleRatio float64

	// MetricInterval is how often metrics are pushed. Default: 10s
	MetricInterval time.Duration

	// SpanBatchTimeout bounds how long finished spans wait before export. Default: 5s
	SpanBatchTimeout time.Duration
}

// ApplyDefaults applies default values to unset or out of range fields.
func (c *Config) ApplyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "boostclear"
	}
	if c.SampleRatio <= 0 || c.SampleRatio > 1 {
		c.SampleRatio = 1
	}
	if c.MetricInterval == 0 {
		c.MetricInterval = 10 * time.Second
	}
	if c.SpanBatchTimeout == 0 {
		c.SpanBatchTimeout = 5 * time.Second
	}
}

// InitTelemetry installs global OTLP trace and meter providers. A provider
// that cannot be created is skipped with a warning so the service still runs.
func InitTelemetry(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	cfg.ApplyDefaults()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithContainer(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var shutdowns []ShutdownFunc

	if tp, err := newTracerProvider(ctx, res, cfg); err != nil {
		log.Warn().Err(err).Msg("Tracing unavailable, spans will not be exported")
	} else {
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	if mp, err := newMeterProvider(ctx, res, cfg); err != nil {
		log.Warn().Err(err).Msg("Metrics unavailable, auction counters will not be exported")
	} else {
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Float64("sample_ratio", cfg.SampleRatio).
		Dur("metric_interval", cfg.MetricInterval).
		Msg("OpenTelemetry initialized")

	return func(ctx context.Context) error {
		var errs []error
		for _, shutdown := range shutdowns {
			errs = append(errs, shutdown(ctx))
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("telemetry shutdown: %w", err)
		}
		return nil
	}, nil
}

func newTracerProvider(ctx context.Context, res *resource.Resource, cfg Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.SpanBatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	), nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, cfg Config) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricInterval))),
		sdkmetric.WithResource(res),
	), nil
}
