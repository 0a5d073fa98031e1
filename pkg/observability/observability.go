// Package observability provides an OpenTelemetry provider for the overlay
// engine: a tracer plus counters for appends, verifications, and imports.
// Disabled by default; the engine works without it.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // e.g. "localhost:4317"
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns defaults with telemetry disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "forge-overlay",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   "localhost:4317",
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider manages trace and metric providers and the overlay counters.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	appendCounter    metric.Int64Counter
	verifyCounter    metric.Int64Counter
	integrityCounter metric.Int64Counter
	importCounter    metric.Int64Counter
	skippedCounter   metric.Int64Counter
}

// New creates a provider. With Enabled false it is a cheap no-op.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("forge.overlay",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter("forge.overlay",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)
	if err := p.initCounters(); err != nil {
		return nil, fmt.Errorf("failed to init counters: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName, "endpoint", config.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initCounters() error {
	var err error
	p.appendCounter, err = p.meter.Int64Counter("overlay.appends.total",
		metric.WithDescription("Total records appended to the chain"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return err
	}
	p.verifyCounter, err = p.meter.Int64Counter("overlay.verifications.total",
		metric.WithDescription("Total integrity walks performed"),
		metric.WithUnit("{walk}"),
	)
	if err != nil {
		return err
	}
	p.integrityCounter, err = p.meter.Int64Counter("overlay.integrity_failures.total",
		metric.WithDescription("Integrity walks that found a broken chain"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return err
	}
	p.importCounter, err = p.meter.Int64Counter("overlay.imported.total",
		metric.WithDescription("Foreign records merged into the local chain"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return err
	}
	p.skippedCounter, err = p.meter.Int64Counter("overlay.import_skipped.total",
		metric.WithDescription("Foreign records skipped as divergent"),
		metric.WithUnit("{record}"),
	)
	return err
}

// RecordAppend counts one chain append.
func (p *Provider) RecordAppend(ctx context.Context) {
	if p.appendCounter != nil {
		p.appendCounter.Add(ctx, 1)
	}
}

// RecordVerification counts one integrity walk and its outcome.
func (p *Provider) RecordVerification(ctx context.Context, ok bool) {
	if p.verifyCounter != nil {
		p.verifyCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
	}
	if !ok && p.integrityCounter != nil {
		p.integrityCounter.Add(ctx, 1)
	}
}

// RecordImport counts merged and skipped records of one import.
func (p *Provider) RecordImport(ctx context.Context, merged, skipped int) {
	if p.importCounter != nil {
		p.importCounter.Add(ctx, int64(merged))
	}
	if p.skippedCounter != nil {
		p.skippedCounter.Add(ctx, int64(skipped))
	}
}

// StartSpan starts a span on the overlay tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("forge.overlay")
	}
	return p.tracer
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}
