package observability

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/search"
)

func recordingTracer(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, tp
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg.ServiceName != "approxcount" {
		t.Errorf("ServiceName = %q, want approxcount", cfg.ServiceName)
	}
	if cfg.Tracing.Enabled || cfg.Metrics.Enabled {
		t.Error("expected tracing and metrics disabled by default")
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v, want 1.0", cfg.Tracing.SampleRate)
	}
	if cfg.Metrics.ExportInterval != 60*time.Second {
		t.Errorf("ExportInterval = %v, want 60s", cfg.Metrics.ExportInterval)
	}
}

func TestConfigOptions(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	cfg := DefaultConfig()
	for _, opt := range []Option{
		WithServiceName("svc"),
		WithServiceVersion("2.0.0"),
		WithEnvironment("staging"),
		WithTracing(ExporterOTLP, "localhost:4317"),
		WithTracingInsecure(),
		WithSampleRate(0.25),
		WithStdoutMetrics(&buf),
		WithMetricsInterval(time.Second),
	} {
		opt(&cfg)
	}

	if cfg.ServiceName != "svc" || cfg.ServiceVersion != "2.0.0" || cfg.Environment != "staging" {
		t.Errorf("unexpected identity: %+v", cfg)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != ExporterOTLP || cfg.Tracing.Endpoint != "localhost:4317" {
		t.Errorf("unexpected tracing config: %+v", cfg.Tracing)
	}
	if !cfg.Tracing.Insecure || cfg.Tracing.SampleRate != 0.25 {
		t.Errorf("unexpected tracing flags: %+v", cfg.Tracing)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Exporter != ExporterStdout || cfg.Metrics.Writer != &buf {
		t.Errorf("unexpected metrics config: %+v", cfg.Metrics)
	}
	if cfg.Metrics.ExportInterval != time.Second {
		t.Errorf("ExportInterval = %v", cfg.Metrics.ExportInterval)
	}
}

func TestParseExporter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    ExporterType
		wantErr bool
	}{
		{"otlp", ExporterOTLP, false},
		{"stdout", ExporterStdout, false},
		{"noop", ExporterNoop, false},
		{"none", ExporterNoop, false},
		{"", ExporterNoop, false},
		{"zipkin", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseExporter(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownExporter) {
					t.Errorf("expected ErrUnknownExporter, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseExporter(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNoopProvider(t *testing.T) {
	t.Parallel()
	p := NewNoopProvider()

	_, span := p.Tracer(TracerName).Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("expected an invalid span context from the noop tracer")
	}
	span.End()

	if p.MeterProvider() == nil {
		t.Error("expected non-nil meter provider")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestProviderWithNoopExporters(t *testing.T) {
	t.Parallel()
	p, err := New(WithNoopTracing(), WithNoopMetrics())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.shutdownFuncs) != 0 {
		t.Errorf("expected no shutdown funcs, got %d", len(p.shutdownFuncs))
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

// Stdout providers install globals, so these tests do not run in parallel.
func TestProviderWithStdoutTracing(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(WithServiceName("test-service"), WithStdoutTracing(&buf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, span := p.Tracer(TracerName).Start(context.Background(), "exported")
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("exported")) {
		t.Errorf("expected span name in output, got %q", buf.String())
	}
}

func TestProviderWithStdoutMetrics(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(WithStdoutMetrics(&buf), WithMetricsInterval(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counter, err := p.MeterProvider().Meter(TracerName).Int64Counter("approxcount.test")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	counter.Add(context.Background(), 3)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("approxcount.test")) {
		t.Errorf("expected metric name in output, got %q", buf.String())
	}
}

func TestProviderUnknownExporter(t *testing.T) {
	t.Parallel()
	if _, err := New(WithTracing("bogus", "")); !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("tracing: expected ErrUnknownExporter, got %v", err)
	}
	if _, err := New(func(c *Config) {
		c.Metrics.Enabled = true
		c.Metrics.Exporter = ExporterOTLP
	}); !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("metrics: expected ErrUnknownExporter, got %v", err)
	}
}

func TestProviderShutdownJoinsErrors(t *testing.T) {
	t.Parallel()
	var order []int
	p := &Provider{
		shutdownFuncs: []func(context.Context) error{
			func(context.Context) error { order = append(order, 1); return errors.New("error 1") },
			func(context.Context) error { order = append(order, 2); return errors.New("error 2") },
		},
	}

	err := p.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected error from shutdown")
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("shutdown order = %v, want [2 1]", order)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestSamplerFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{1.5, "AlwaysOnSampler"},
		{0.0, "AlwaysOffSampler"},
		{-0.5, "AlwaysOffSampler"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); got != tt.want {
			t.Errorf("samplerFor(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestEndSpan(t *testing.T) {
	t.Parallel()
	sr, tp := recordingTracer(t)
	tracer := tp.Tracer(TracerName)
	task := counting.SamplingTask{Oracle: "geometric", Method: counting.MethodXOR, Level: "1.0.0", Amplification: 3, Replication: 1}

	_, ok := StartSpan(context.Background(), tracer, SpanTrials, TaskAttributes(task)...)
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), tracer, SpanPass)
	EndSpan(failed, errors.New("boom"))

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("first span status = %v, want Ok", spans[0].Status().Code)
	}
	if len(spans[0].Attributes()) != 5 {
		t.Errorf("expected 5 task attributes, got %d", len(spans[0].Attributes()))
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("second span status = %v, want Error", spans[1].Status().Code)
	}
	if len(spans[1].Events()) != 1 {
		t.Errorf("expected a recorded error event, got %d events", len(spans[1].Events()))
	}
}

func TestSpanObserver(t *testing.T) {
	t.Parallel()
	sr, tp := recordingTracer(t)
	_, span := tp.Tracer(TracerName).Start(context.Background(), SpanPass)

	obs := SpanObserver(span)
	obs.PhaseChanged(search.PhaseDescending, search.PhaseVoting)
	obs.Decided(search.Decision{
		Level:     counting.RestrictionLevel{1, 0, 0},
		RangeSize: big.NewInt(512),
		Verdict:   true,
		Source:    search.SourceVote,
	})
	span.SetAttributes(IntervalAttributes(counting.EdgeInterval{
		Lower:      big.NewRat(512, 1),
		Upper:      big.NewRat(1024, 1),
		Confidence: big.NewRat(99, 100),
		Bounded:    true,
	})...)
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	events := ended[0].Events()
	if len(events) != 2 || events[0].Name != "phase_changed" || events[1].Name != "decided" {
		t.Errorf("unexpected events: %+v", events)
	}
	if len(ended[0].Attributes()) != 4 {
		t.Errorf("expected 4 interval attributes, got %d", len(ended[0].Attributes()))
	}
}
