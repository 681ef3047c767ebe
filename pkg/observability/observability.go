// Package observability provides OpenTelemetry tracing and metrics for the
// generation pipeline: run/failure counters, per-stage spans, and latency
// histograms for the two unbounded external calls (completion, render).
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
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317" for gRPC
	Enabled        bool
	Insecure       bool // dev only
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "docugen-engine",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider manages the trace and metric providers plus the pipeline
// instruments. A nil Provider is a valid no-op.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	logger         *slog.Logger

	runsStarted        metric.Int64Counter
	runsSucceeded      metric.Int64Counter
	runsShortCircuited metric.Int64Counter
	runsFailed         metric.Int64Counter
	completionDuration metric.Float64Histogram
	renderDuration     metric.Float64Histogram
}

// New creates an observability provider. With Enabled=false the provider is
// inert and exports nothing.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("docugen.engine",
		trace.WithInstrumentationVersion(config.ServiceVersion))

	meter := otel.Meter("docugen.engine")
	if err := p.initInstruments(meter); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(p.tracerProvider)
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments(meter metric.Meter) error {
	var err error
	if p.runsStarted, err = meter.Int64Counter("docugen.runs.started",
		metric.WithDescription("Pipeline runs started")); err != nil {
		return err
	}
	if p.runsSucceeded, err = meter.Int64Counter("docugen.runs.succeeded",
		metric.WithDescription("Pipeline runs that reached REVIEW_PENDING")); err != nil {
		return err
	}
	if p.runsShortCircuited, err = meter.Int64Counter("docugen.runs.short_circuited",
		metric.WithDescription("Runs answered from a prior execution record")); err != nil {
		return err
	}
	if p.runsFailed, err = meter.Int64Counter("docugen.runs.failed",
		metric.WithDescription("Pipeline runs that ended FAILED, by error code")); err != nil {
		return err
	}
	if p.completionDuration, err = meter.Float64Histogram("docugen.completion.duration",
		metric.WithDescription("Completion provider call latency"),
		metric.WithUnit("ms")); err != nil {
		return err
	}
	if p.renderDuration, err = meter.Float64Histogram("docugen.render.duration",
		metric.WithDescription("Render hand-off latency"),
		metric.WithUnit("ms")); err != nil {
		return err
	}
	return nil
}

// StartStage opens a span for one pipeline stage. Returns ctx unchanged on a
// nil or disabled provider.
func (p *Provider) StartStage(ctx context.Context, stage, orderID string) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, "pipeline."+stage,
		trace.WithAttributes(attribute.String("docugen.order_id", orderID)))
}

// RunStarted counts a pipeline invocation.
func (p *Provider) RunStarted(ctx context.Context, serviceCode string) {
	if p == nil || p.runsStarted == nil {
		return
	}
	p.runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("service_code", serviceCode)))
}

// RunSucceeded counts a successful run.
func (p *Provider) RunSucceeded(ctx context.Context, serviceCode string) {
	if p == nil || p.runsSucceeded == nil {
		return
	}
	p.runsSucceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("service_code", serviceCode)))
}

// RunShortCircuited counts an idempotent replay answered without external calls.
func (p *Provider) RunShortCircuited(ctx context.Context, serviceCode string) {
	if p == nil || p.runsShortCircuited == nil {
		return
	}
	p.runsShortCircuited.Add(ctx, 1, metric.WithAttributes(attribute.String("service_code", serviceCode)))
}

// RunFailed counts a failed run by error code and stage.
func (p *Provider) RunFailed(ctx context.Context, serviceCode, errorCode, stage string) {
	if p == nil || p.runsFailed == nil {
		return
	}
	p.runsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service_code", serviceCode),
		attribute.String("error_code", errorCode),
		attribute.String("stage", stage),
	))
}

// ObserveCompletion records completion call latency.
func (p *Provider) ObserveCompletion(ctx context.Context, d time.Duration) {
	if p == nil || p.completionDuration == nil {
		return
	}
	p.completionDuration.Record(ctx, float64(d.Milliseconds()))
}

// ObserveRender records render hand-off latency.
func (p *Provider) ObserveRender(ctx context.Context, d time.Duration) {
	if p == nil || p.renderDuration == nil {
		return
	}
	p.renderDuration.Record(ctx, float64(d.Milliseconds()))
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
