// Package application drives estimation runs: it plans the trial budget,
// resumes the level search until it converges and feeds every suspension
// through a trial runner.
package application

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/approxcount/domain/budget"
	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/ledger"
	"github.com/felixgeelhaar/approxcount/domain/oracle"
	"github.com/felixgeelhaar/approxcount/domain/search"
	"github.com/felixgeelhaar/approxcount/domain/tally"
	"github.com/felixgeelhaar/approxcount/infrastructure/logging"
	"github.com/felixgeelhaar/approxcount/infrastructure/observability"
	"github.com/felixgeelhaar/approxcount/infrastructure/statemachine"
	"github.com/felixgeelhaar/approxcount/infrastructure/telemetry"
)

// ErrNoProgress is returned when a pass suspends more often than the
// engine allows.
var ErrNoProgress = errors.New("search made no progress")

// TrialRunner records trials for every entry of a task multiset.
type TrialRunner interface {
	Run(ctx context.Context, tasks []counting.TaskCount) error
}

// Prefetcher runs predicted trials at a lower priority than required ones.
// Runners without it get predicted trials through Run.
type Prefetcher interface {
	Prefetch(ctx context.Context, tasks []counting.TaskCount) error
}

// Metrics receives run measurements. Both telemetry providers satisfy it.
type Metrics interface {
	Observer(ctx context.Context, pass int) search.Observer
	RecordYield(ctx context.Context, pass int, required, predicted int)
	RecordInterval(ctx context.Context, iv counting.EdgeInterval)
	RecordError(ctx context.Context, operation string)
	RecordRunDuration(ctx context.Context, duration time.Duration, success bool)
	IncrementActiveRuns(ctx context.Context)
	DecrementActiveRuns(ctx context.Context)
}

var (
	_ Metrics = (*telemetry.MetricsProvider)(nil)
	_ Metrics = (*telemetry.NoopMetricsProvider)(nil)
)

// Engine is the orchestration service for estimation runs.
type Engine struct {
	store         tally.Store
	oracle        oracle.Oracle
	runner        TrialRunner
	passes        int
	maxYields     int
	prefetch      bool
	metrics       Metrics
	tracer        trace.Tracer
	ledger        *ledger.Ledger
	phaseTracking bool
}

// EngineConfig contains configuration for the engine.
type EngineConfig struct {
	Store  tally.Store
	Oracle oracle.Oracle
	Runner TrialRunner
	// Passes is how many times the search runs over the shared store.
	Passes int
	// MaxYields bounds the suspensions of a single pass.
	MaxYields int
	// Prefetch runs predicted trials alongside required ones.
	Prefetch bool
	Metrics  Metrics
	Tracer   trace.Tracer
	// Ledger, when set, receives every run; otherwise each run gets its own.
	Ledger *ledger.Ledger
	// PhaseTracking mirrors each pass onto the phase statechart and fails
	// the pass on a transition the chart rejects.
	PhaseTracking bool
}

// NewEngine creates a new engine with the given configuration.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Store == nil {
		return nil, errors.New("store is required")
	}
	if config.Oracle == nil {
		return nil, errors.New("oracle is required")
	}
	if config.Runner == nil {
		return nil, errors.New("runner is required")
	}

	e := &Engine{
		store:         config.Store,
		oracle:        config.Oracle,
		runner:        config.Runner,
		passes:        config.Passes,
		maxYields:     config.MaxYields,
		prefetch:      config.Prefetch,
		metrics:       config.Metrics,
		tracer:        config.Tracer,
		ledger:        config.Ledger,
		phaseTracking: config.PhaseTracking,
	}

	// Set defaults
	if e.passes <= 0 {
		e.passes = 2
	}
	if e.maxYields <= 0 {
		e.maxYields = 10000
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoopMetricsProvider()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(observability.TracerName)
	}

	return e, nil
}

// Request carries the invocation parameters of one run.
type Request struct {
	Confidence    *big.Rat
	Amplification int
	Replication   int
	// Universe bounds the count; nil falls back to the oracle's universe.
	Universe *big.Int
}

// Estimate is the outcome of a run.
type Estimate struct {
	RunID    string
	Plan     *budget.Plan
	Interval counting.EdgeInterval
	Passes   []PassResult
	Duration time.Duration
	Ledger   *ledger.Ledger
}

// Trials returns the required trials run across every pass.
func (e *Estimate) Trials() int64 {
	var n int64
	for _, p := range e.Passes {
		n += p.Trials
	}
	return n
}

// PassResult describes one pass of the search.
type PassResult struct {
	Pass       int
	Interval   counting.EdgeInterval
	Yields     int
	Trials     int64
	Prefetched int64
	Votes      int
	Decisions  []search.Decision
	Positive   counting.RestrictionLevel
	Negative   counting.RestrictionLevel
	// Phases is the phase path, recorded with phase tracking only.
	Phases []search.Phase
	// Diverged is set when the interval is not within the previous pass's,
	// which happens only when other writers changed a verdict in between.
	Diverged bool
}

// Plan computes the trial budget for req without running anything.
func (e *Engine) Plan(req Request) (*budget.Plan, error) {
	universe := req.Universe
	if universe == nil {
		universe = e.oracle.Universe()
	}
	return budget.NewPlan(budget.Params{
		Confidence:    req.Confidence,
		Amplification: req.Amplification,
		Replication:   req.Replication,
		Universe:      universe,
	})
}

// Estimate runs every pass and returns the final interval.
func (e *Engine) Estimate(ctx context.Context, req Request) (result *Estimate, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plan, err := e.Plan(req)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	runLedger := e.ledger
	if runLedger == nil {
		runLedger = ledger.New(runID)
	}

	ctx, span := observability.StartSpan(ctx, e.tracer, observability.SpanEstimate,
		attribute.String("run_id", runID),
		attribute.String("oracle", e.oracle.ID()),
		attribute.Int("passes", e.passes),
	)
	defer func() { observability.EndSpan(span, err) }()

	e.metrics.IncrementActiveRuns(ctx)
	defer e.metrics.DecrementActiveRuns(ctx)

	start := time.Now()
	runLedger.RecordRunStarted(plan.String())
	logging.Info().
		Add(logging.RunID(runID)).
		Add(logging.Str("plan", plan.String())).
		Msg("run started")

	result = &Estimate{
		RunID:  runID,
		Plan:   plan,
		Ledger: runLedger,
	}
	for pass := 1; pass <= e.passes; pass++ {
		pr, err := e.runPass(ctx, runID, pass, plan, runLedger)
		if err != nil {
			runLedger.RecordRunFailed(pass, err.Error())
			e.metrics.RecordError(ctx, "estimate")
			e.metrics.RecordRunDuration(ctx, time.Since(start), false)
			logging.Error().
				Add(logging.RunID(runID)).
				Add(logging.Pass(pass)).
				Add(logging.ErrorField(err)).
				Msg("run failed")
			return nil, fmt.Errorf("pass %d: %w", pass, err)
		}
		if n := len(result.Passes); n > 0 {
			pr.Diverged = e.compare(runID, runLedger, result.Passes[n-1], pr)
		}
		result.Passes = append(result.Passes, pr)
	}

	result.Interval = result.Passes[len(result.Passes)-1].Interval
	result.Duration = time.Since(start)

	runLedger.RecordRunCompleted(result.Interval)
	e.metrics.RecordInterval(ctx, result.Interval)
	e.metrics.RecordRunDuration(ctx, result.Duration, true)
	span.SetAttributes(observability.IntervalAttributes(result.Interval)...)

	logging.Info().
		Add(logging.RunID(runID)).
		Add(logging.Interval(result.Interval)).
		Add(logging.Duration(result.Duration)).
		Msg("run completed")

	return result, nil
}

func (e *Engine) runPass(ctx context.Context, runID string, pass int, plan *budget.Plan, runLedger *ledger.Ledger) (result PassResult, err error) {
	ctx, span := observability.StartSpan(ctx, e.tracer, observability.SpanPass, attribute.Int("pass", pass))
	defer func() { observability.EndSpan(span, err) }()

	observers := []search.Observer{
		runLedger.Observer(pass),
		e.metrics.Observer(ctx, pass),
		observability.SpanObserver(span),
		logObserver{runID: runID, pass: pass},
	}
	var tracker *statemachine.Tracker
	if e.phaseTracking {
		if tracker, err = statemachine.NewTracker(pass); err != nil {
			return result, err
		}
		defer tracker.Stop()
		observers = append(observers, tracker)
	}

	sched, err := search.New(plan, e.oracle, e.store,
		search.WithObserver(search.Observers(observers...)),
		search.WithPrediction(e.prefetch),
	)
	if err != nil {
		return result, err
	}

	runLedger.RecordPassStarted(pass)
	logging.Debug().
		Add(logging.RunID(runID)).
		Add(logging.Pass(pass)).
		Msg("pass started")

	result.Pass = pass
	for {
		y, err := sched.Advance(ctx)
		if err != nil {
			return result, err
		}
		if y == nil {
			break
		}
		if sched.Yields() > e.maxYields {
			return result, fmt.Errorf("%w: more than %d yields", ErrNoProgress, e.maxYields)
		}

		runLedger.RecordYield(pass, y)
		e.metrics.RecordYield(ctx, pass, y.RequiredTrials(), y.PredictedTrials())

		if err := e.runYield(ctx, runID, pass, y); err != nil {
			return result, err
		}
		result.Trials += int64(y.RequiredTrials())
		if e.prefetch {
			result.Prefetched += int64(y.PredictedTrials())
		}
	}

	if tracker != nil {
		if err := tracker.Err(); err != nil {
			return result, err
		}
		result.Phases = tracker.Path()
	}

	result.Interval = sched.Interval()
	result.Yields = sched.Yields()
	result.Votes = sched.Votes()
	result.Decisions = sched.Decisions()
	result.Positive, result.Negative = sched.Witnesses()

	runLedger.RecordPassCompleted(pass, result.Interval)
	logging.Info().
		Add(logging.RunID(runID)).
		Add(logging.Pass(pass)).
		Add(logging.Interval(result.Interval)).
		Add(logging.Trials(int(result.Trials))).
		Msg("pass completed")

	return result, nil
}

// compare checks that cur never widens prev. The store only grows, so this
// holds unless a concurrent writer flipped a verdict between the passes.
func (e *Engine) compare(runID string, runLedger *ledger.Ledger, prev, cur PassResult) bool {
	switch {
	case cur.Interval.Equal(prev.Interval):
		logging.Debug().
			Add(logging.RunID(runID)).
			Add(logging.Pass(cur.Pass)).
			Msg("pass reproduced previous interval")
		return false
	case cur.Interval.Within(prev.Interval):
		return false
	}

	runLedger.RecordPassDiverged(cur.Pass, prev.Interval, cur.Interval)
	logging.Warn().
		Add(logging.RunID(runID)).
		Add(logging.Pass(cur.Pass)).
		Add(logging.Interval(cur.Interval)).
		Add(logging.Str("previous", prev.Interval.String())).
		Add(logging.Bool("disjoint", cur.Interval.Disjoint(prev.Interval))).
		Msg("pass interval diverged from previous pass")
	return true
}

// runYield records the required trials of y, and its predicted ones when
// prefetching. Prefetch failures are logged and dropped.
func (e *Engine) runYield(ctx context.Context, runID string, pass int, y *counting.Yield) (err error) {
	ctx, span := observability.StartSpan(ctx, e.tracer, observability.SpanTrials,
		attribute.Int("pass", pass),
		attribute.Int("required_trials", y.RequiredTrials()),
		attribute.Int("predicted_trials", y.PredictedTrials()),
	)
	defer func() { observability.EndSpan(span, err) }()

	var g errgroup.Group
	g.Go(func() error {
		return e.runner.Run(ctx, y.Required)
	})
	if e.prefetch && len(y.Predicted) > 0 {
		g.Go(func() error {
			if err := e.prefetchTrials(ctx, y.Predicted); err != nil && ctx.Err() == nil {
				logging.Warn().
					Add(logging.RunID(runID)).
					Add(logging.Pass(pass)).
					Add(logging.ErrorField(err)).
					Msg("prefetch failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("running trials: %w", err)
	}
	return nil
}

func (e *Engine) prefetchTrials(ctx context.Context, tasks []counting.TaskCount) error {
	if p, ok := e.runner.(Prefetcher); ok {
		return p.Prefetch(ctx, tasks)
	}
	return e.runner.Run(ctx, tasks)
}

// logObserver logs decisions at debug and transitions at trace.
type logObserver struct {
	runID string
	pass  int
}

func (o logObserver) PhaseChanged(from, to search.Phase) {
	logging.Trace().
		Add(logging.RunID(o.runID)).
		Add(logging.Pass(o.pass)).
		Add(logging.Transition(from, to)).
		Msg("phase changed")
}

func (o logObserver) Decided(d search.Decision) {
	logging.Debug().
		Add(logging.RunID(o.runID)).
		Add(logging.Pass(o.pass)).
		Add(logging.Level(d.Level)).
		Add(logging.Verdict(d.Verdict, d.Source)).
		Msg("level decided")
}
