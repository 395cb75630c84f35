// Package telemetry provides OpenTelemetry metrics for estimation runs.
package telemetry

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/search"
)

// MetricsProvider provides access to metrics instruments.
type MetricsProvider struct {
	meter metric.Meter

	// Counters
	trials      metric.Int64Counter
	decisions   metric.Int64Counter
	transitions metric.Int64Counter
	yields      metric.Int64Counter
	errors      metric.Int64Counter

	// Histograms
	confidence  metric.Float64Histogram
	widthBits   metric.Float64Histogram
	runDuration metric.Float64Histogram

	// Gauges (using UpDownCounter for OpenTelemetry)
	activeRuns metric.Int64UpDownCounter

	initOnce sync.Once
	initErr  error
}

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	// MeterName is the name of the meter.
	MeterName string
	// MeterVersion is the version of the meter.
	MeterVersion string
	// MeterProvider overrides the global meter provider.
	MeterProvider metric.MeterProvider
}

// DefaultMetricsConfig returns a default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		MeterName:    "github.com/felixgeelhaar/approxcount",
		MeterVersion: "1.0.0",
	}
}

// NewMetricsProvider creates a new metrics provider.
func NewMetricsProvider(config MetricsConfig) *MetricsProvider {
	if config.MeterName == "" {
		config.MeterName = DefaultMetricsConfig().MeterName
	}

	provider := config.MeterProvider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(
		config.MeterName,
		metric.WithInstrumentationVersion(config.MeterVersion),
	)

	mp := &MetricsProvider{meter: meter}
	mp.initOnce.Do(func() {
		mp.initErr = mp.initInstruments()
	})
	return mp
}

// initInstruments initializes all metric instruments.
func (mp *MetricsProvider) initInstruments() error {
	var err error

	if mp.trials, err = mp.meter.Int64Counter(
		"approxcount.trials",
		metric.WithDescription("Number of oracle trials recorded"),
		metric.WithUnit("{trial}"),
	); err != nil {
		return err
	}

	if mp.decisions, err = mp.meter.Int64Counter(
		"approxcount.decisions",
		metric.WithDescription("Number of restriction levels decided"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return err
	}

	if mp.transitions, err = mp.meter.Int64Counter(
		"approxcount.phase.transitions",
		metric.WithDescription("Number of search phase transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return err
	}

	if mp.yields, err = mp.meter.Int64Counter(
		"approxcount.yields",
		metric.WithDescription("Number of times a pass suspended for trials"),
		metric.WithUnit("{yield}"),
	); err != nil {
		return err
	}

	if mp.errors, err = mp.meter.Int64Counter(
		"approxcount.errors",
		metric.WithDescription("Number of failed operations"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}

	if mp.confidence, err = mp.meter.Float64Histogram(
		"approxcount.interval.confidence",
		metric.WithDescription("Confidence of reported edge intervals"),
		metric.WithExplicitBucketBoundaries(0.5, 0.9, 0.95, 0.99, 0.999, 1),
	); err != nil {
		return err
	}

	if mp.widthBits, err = mp.meter.Float64Histogram(
		"approxcount.interval.width",
		metric.WithDescription("Bit length of reported interval widths"),
		metric.WithUnit("bit"),
	); err != nil {
		return err
	}

	if mp.runDuration, err = mp.meter.Float64Histogram(
		"approxcount.run.duration",
		metric.WithDescription("Duration of estimation runs"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}

	mp.activeRuns, err = mp.meter.Int64UpDownCounter(
		"approxcount.runs.active",
		metric.WithDescription("Number of estimation runs in progress"),
		metric.WithUnit("{run}"),
	)
	return err
}

// Observer returns a search observer that records pass's decisions and
// transitions.
func (mp *MetricsProvider) Observer(ctx context.Context, pass int) search.Observer {
	return &observer{ctx: ctx, pass: pass, m: mp}
}

type observer struct {
	ctx  context.Context
	pass int
	m    *MetricsProvider
}

func (o *observer) PhaseChanged(from, to search.Phase) {
	o.m.RecordPhaseTransition(o.ctx, from, to)
}

func (o *observer) Decided(d search.Decision) {
	o.m.RecordDecision(o.ctx, d, o.pass)
}

// Error returns any error that occurred during initialization.
func (mp *MetricsProvider) Error() error {
	return mp.initErr
}

// RecordTrials records n trials of task with the given outcome.
func (mp *MetricsProvider) RecordTrials(ctx context.Context, task counting.SamplingTask, outcome counting.Outcome, n int64) {
	if mp.trials == nil {
		return
	}
	mp.trials.Add(ctx, n, metric.WithAttributes(
		attribute.String("oracle", task.Oracle),
		attribute.String("outcome", outcome.String()),
	))
}

// RecordDecision records one decided level.
func (mp *MetricsProvider) RecordDecision(ctx context.Context, d search.Decision, pass int) {
	if mp.decisions == nil {
		return
	}
	mp.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", string(d.Source)),
		attribute.Bool("verdict", d.Verdict),
		attribute.Int("pass", pass),
	))
}

// RecordPhaseTransition records a search phase change.
func (mp *MetricsProvider) RecordPhaseTransition(ctx context.Context, from, to search.Phase) {
	if mp.transitions == nil {
		return
	}
	mp.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from_phase", string(from)),
		attribute.String("to_phase", string(to)),
	))
}

// RecordYield records a suspension and the trials it asked for.
func (mp *MetricsProvider) RecordYield(ctx context.Context, pass int, required, predicted int) {
	if mp.yields == nil {
		return
	}
	mp.yields.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pass", strconv.Itoa(pass)),
		attribute.Int("required_trials", required),
		attribute.Int("predicted_trials", predicted),
	))
}

// RecordInterval records the confidence and width of an interval.
func (mp *MetricsProvider) RecordInterval(ctx context.Context, iv counting.EdgeInterval) {
	if mp.confidence == nil {
		return
	}
	_, _, conf := iv.Float64s()
	mp.confidence.Record(ctx, conf, metric.WithAttributes(attribute.Bool("bounded", iv.Bounded)))
	mp.widthBits.Record(ctx, widthBits(iv))
}

// widthBits returns log2(width+1), so a point interval records zero.
func widthBits(iv counting.EdgeInterval) float64 {
	w, _ := iv.Width().Float64()
	if w <= 0 {
		return 0
	}
	return math.Log2(w + 1)
}

// RecordError records a failed operation.
func (mp *MetricsProvider) RecordError(ctx context.Context, operation string) {
	if mp.errors == nil {
		return
	}
	mp.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordRunDuration records a finished run.
func (mp *MetricsProvider) RecordRunDuration(ctx context.Context, duration time.Duration, success bool) {
	if mp.runDuration == nil {
		return
	}
	mp.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))
}

// IncrementActiveRuns increments the active runs gauge.
func (mp *MetricsProvider) IncrementActiveRuns(ctx context.Context) {
	if mp.activeRuns != nil {
		mp.activeRuns.Add(ctx, 1)
	}
}

// DecrementActiveRuns decrements the active runs gauge.
func (mp *MetricsProvider) DecrementActiveRuns(ctx context.Context) {
	if mp.activeRuns != nil {
		mp.activeRuns.Add(ctx, -1)
	}
}

// NoopMetricsProvider is a no-op implementation for when metrics are disabled.
type NoopMetricsProvider struct{}

// NewNoopMetricsProvider creates a no-op metrics provider.
func NewNoopMetricsProvider() *NoopMetricsProvider {
	return &NoopMetricsProvider{}
}

// Observer returns an observer that records nothing.
func (n *NoopMetricsProvider) Observer(context.Context, int) search.Observer {
	return noopObserver{}
}

type noopObserver struct{}

func (noopObserver) PhaseChanged(search.Phase, search.Phase) {}
func (noopObserver) Decided(search.Decision)                 {}

func (n *NoopMetricsProvider) RecordTrials(context.Context, counting.SamplingTask, counting.Outcome, int64) {}
func (n *NoopMetricsProvider) RecordDecision(context.Context, search.Decision, int)                        {}
func (n *NoopMetricsProvider) RecordPhaseTransition(context.Context, search.Phase, search.Phase)           {}
func (n *NoopMetricsProvider) RecordYield(context.Context, int, int, int)                                  {}
func (n *NoopMetricsProvider) RecordInterval(context.Context, counting.EdgeInterval)                       {}
func (n *NoopMetricsProvider) RecordError(context.Context, string)                                         {}
func (n *NoopMetricsProvider) RecordRunDuration(context.Context, time.Duration, bool)                      {}
func (n *NoopMetricsProvider) IncrementActiveRuns(context.Context)                                         {}
func (n *NoopMetricsProvider) DecrementActiveRuns(context.Context)                                         {}
