package application

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/approxcount/domain/ledger"
	"github.com/felixgeelhaar/approxcount/domain/oracle"
	"github.com/felixgeelhaar/approxcount/domain/tally"
)

// Option configures the engine.
type Option func(*EngineConfig)

// WithStore sets the tally store shared by every pass.
func WithStore(s tally.Store) Option {
	return func(c *EngineConfig) {
		c.Store = s
	}
}

// WithOracle sets the oracle that sizes restriction levels.
func WithOracle(o oracle.Oracle) Option {
	return func(c *EngineConfig) {
		c.Oracle = o
	}
}

// WithRunner sets the trial runner.
func WithRunner(r TrialRunner) Option {
	return func(c *EngineConfig) {
		c.Runner = r
	}
}

// WithPasses sets the number of search passes.
func WithPasses(n int) Option {
	return func(c *EngineConfig) {
		c.Passes = n
	}
}

// WithMaxYields bounds the suspensions of a single pass.
func WithMaxYields(n int) Option {
	return func(c *EngineConfig) {
		c.MaxYields = n
	}
}

// WithPrefetch enables running predicted trials alongside required ones.
func WithPrefetch(enabled bool) Option {
	return func(c *EngineConfig) {
		c.Prefetch = enabled
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *EngineConfig) {
		c.Metrics = m
	}
}

// WithTracer sets the tracer for run, pass and trial spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *EngineConfig) {
		c.Tracer = t
	}
}

// WithLedger sets the ledger every run records into.
func WithLedger(l *ledger.Ledger) Option {
	return func(c *EngineConfig) {
		c.Ledger = l
	}
}

// WithPhaseTracking mirrors every pass onto the phase statechart.
func WithPhaseTracking(enabled bool) Option {
	return func(c *EngineConfig) {
		c.PhaseTracking = enabled
	}
}

// New creates an engine with functional options.
func New(opts ...Option) (*Engine, error) {
	config := EngineConfig{}
	for _, opt := range opts {
		opt(&config)
	}
	return NewEngine(config)
}
