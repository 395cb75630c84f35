package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrUnknownExporter is returned for an exporter type the signal does not support.
var ErrUnknownExporter = errors.New("unknown exporter type")

func unknownExporter(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownExporter, name)
}

// Provider manages the observability infrastructure.
type Provider struct {
	config         Config
	resource       *resource.Resource
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	shutdownFuncs  []func(context.Context) error
}

// New creates a new observability provider.
func New(opts ...Option) (*Provider, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Provider{
		config:         cfg,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		shutdownFuncs:  make([]func(context.Context) error, 0),
	}

	// We don't merge with resource.Default() to avoid schema URL conflicts.
	p.resource = resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	)

	if cfg.Tracing.Enabled {
		if err := p.setupTracing(); err != nil {
			return nil, err
		}
	}

	if cfg.Metrics.Enabled {
		if err := p.setupMetrics(); err != nil {
			_ = p.Shutdown(context.Background())
			return nil, err
		}
	}

	return p, nil
}

// setupTracing initializes the tracing infrastructure.
func (p *Provider) setupTracing() error {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter

	switch p.config.Tracing.Exporter {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(p.config.Tracing.Endpoint),
		}
		if p.config.Tracing.Insecure {
			opts = append(opts,
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
				otlptracegrpc.WithInsecure(),
			)
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("create otlp trace exporter: %w", err)
		}
		exporter = exp

	case ExporterStdout:
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if p.config.Tracing.Writer != nil {
			opts = append(opts, stdouttrace.WithWriter(p.config.Tracing.Writer))
		}
		exp, err := stdouttrace.New(opts...)
		if err != nil {
			return fmt.Errorf("create stdout trace exporter: %w", err)
		}
		exporter = exp

	case ExporterNoop:
		return nil

	default:
		return unknownExporter(string(p.config.Tracing.Exporter))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.Tracing.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(p.config.Tracing.MaxExportBatchSize),
		),
		sdktrace.WithResource(p.resource),
		sdktrace.WithSampler(samplerFor(p.config.Tracing.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.tracerProvider = tp
	p.shutdownFuncs = append(p.shutdownFuncs, tp.Shutdown)
	return nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// setupMetrics initializes periodic metric export.
func (p *Provider) setupMetrics() error {
	switch p.config.Metrics.Exporter {
	case ExporterStdout:
		opts := []stdoutmetric.Option{stdoutmetric.WithPrettyPrint()}
		if p.config.Metrics.Writer != nil {
			opts = append(opts, stdoutmetric.WithWriter(p.config.Metrics.Writer))
		}
		exp, err := stdoutmetric.New(opts...)
		if err != nil {
			return fmt.Errorf("create stdout metric exporter: %w", err)
		}

		var readerOpts []sdkmetric.PeriodicReaderOption
		if p.config.Metrics.ExportInterval > 0 {
			readerOpts = append(readerOpts, sdkmetric.WithInterval(p.config.Metrics.ExportInterval))
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(p.resource),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
		)
		otel.SetMeterProvider(mp)
		p.meterProvider = mp
		p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)
		return nil

	case ExporterNoop:
		return nil

	default:
		return unknownExporter(string(p.config.Metrics.Exporter))
	}
}

// Tracer returns a named tracer from the configured provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tracerProvider.Tracer(name)
}

// TracerProvider returns the configured tracer provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// MeterProvider returns the configured meter provider.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// Config returns the resolved configuration.
func (p *Provider) Config() Config {
	return p.config
}

// Shutdown flushes and stops every exporter. Shutdown funcs run in reverse
// registration order.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdownFuncs) - 1; i >= 0; i-- {
		if err := p.shutdownFuncs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdownFuncs = nil
	return errors.Join(errs...)
}

// NewNoopProvider creates a provider with no-op tracer and meter providers.
func NewNoopProvider() *Provider {
	return &Provider{
		config:         DefaultConfig(),
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
}
