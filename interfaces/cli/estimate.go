package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/approxcount/application"
	"github.com/felixgeelhaar/approxcount/domain/counting"
	domainconfig "github.com/felixgeelhaar/approxcount/domain/config"
	infraconfig "github.com/felixgeelhaar/approxcount/infrastructure/config"
	"github.com/felixgeelhaar/approxcount/infrastructure/distributed"
	"github.com/felixgeelhaar/approxcount/infrastructure/distributed/queue"
	"github.com/felixgeelhaar/approxcount/infrastructure/logging"
	"github.com/felixgeelhaar/approxcount/infrastructure/observability"
	"github.com/felixgeelhaar/approxcount/infrastructure/resilience"
	"github.com/felixgeelhaar/approxcount/infrastructure/telemetry"
)

// estimateOptions holds options for the estimate command.
type estimateOptions struct {
	estimationFlags
	format  string
	timeout time.Duration
}

// runMetrics is what the engine and the local runner record into.
type runMetrics interface {
	application.Metrics
	application.TrialMetrics
}

// newEstimateCmd creates the estimate command.
func (a *App) newEstimateCmd() *cobra.Command {
	opts := &estimateOptions{}

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate a count with a confidence interval",
		Long: `Run the level search until it converges and print the edge interval.

Without a configuration file the built-in defaults apply: a synthetic
oracle hiding the count 300 in a universe of 1024, an in-memory store and
the local runner. Flags override the configuration.

Examples:
  # Estimate with defaults
  approxcount estimate

  # Estimate from a configuration file as JSON
  approxcount estimate -c estimate.yaml --format json

  # Override the synthetic oracle and store
  approxcount estimate --count 5000 --universe 65536 --store sqlite -c sqlite.yaml

  # Dispatch trials through the task queue with prefetching
  approxcount estimate --runner queue --prefetch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return a.runEstimate(cmd.Context(), cfg, opts)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format (text, json)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Overall run timeout")

	return cmd
}

// runEstimate builds the run components from cfg and runs the engine.
func (a *App) runEstimate(ctx context.Context, cfg *domainconfig.EstimationConfig, opts *estimateOptions) (err error) {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown output format %q", opts.format)
	}

	builder := infraconfig.NewBuilder(cfg)

	logCfg := builder.LoggingConfig()
	logCfg.Output = a.stderr
	logging.Init(logCfg)

	obsOpts, err := builder.ObservabilityOptions(a.stderr)
	if err != nil {
		return err
	}
	provider, err := observability.New(obsOpts...)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		if shutdownErr := provider.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil && err == nil {
			err = fmt.Errorf("failed to flush telemetry: %w", shutdownErr)
		}
	}()

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	result, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build estimation components: %w", err)
	}
	defer result.Close()

	logging.Info().
		Add(logging.Backend(result.Backend)).
		Add(logging.Component(result.RunnerKind)).
		Msg("components built")

	var metrics runMetrics = telemetry.NewNoopMetricsProvider()
	if cfg.Telemetry.Metrics {
		mp := telemetry.NewMetricsProvider(telemetry.MetricsConfig{
			MeterName:     telemetry.DefaultMetricsConfig().MeterName,
			MeterVersion:  Version,
			MeterProvider: provider.MeterProvider(),
		})
		if err := mp.Error(); err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		metrics = mp
	}

	executor := resilience.NewExecutor(result.Executor)
	local, err := application.NewLocalRunner(result.Store, result.Sampler,
		application.WithConcurrency(result.Concurrency),
		application.WithExecutor(executor),
		application.WithTrialMetrics(metrics),
	)
	if err != nil {
		return err
	}

	var runner application.TrialRunner = local
	if result.RunnerKind == infraconfig.RunnerQueue {
		q := queue.NewMemoryQueue(queue.WithMaxRequeues(3))
		defer q.Close()

		coord := distributed.NewCoordinator(distributed.CoordinatorConfig{
			Queue:   q,
			Handler: local.RunTask,
			Workers: max(result.Workers, 1),
			WorkerOptions: []distributed.WorkerOption{
				distributed.WithErrorHandler(func(err error) {
					logging.Warn().Add(logging.ErrorField(err)).Msg("trial task failed")
				}),
			},
		})
		if err := coord.Start(ctx); err != nil {
			return fmt.Errorf("failed to start workers: %w", err)
		}
		defer func() { _ = coord.Stop() }()
		runner = application.NewQueueRunner(coord)
	}

	engine, err := application.New(
		application.WithStore(result.Store),
		application.WithOracle(result.Oracle),
		application.WithRunner(runner),
		application.WithPasses(result.Passes),
		application.WithMaxYields(result.MaxYields),
		application.WithPrefetch(result.Prefetch),
		application.WithMetrics(metrics),
		application.WithTracer(provider.Tracer(observability.TracerName)),
		application.WithPhaseTracking(true),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	est, err := engine.Estimate(ctx, application.Request{
		Confidence:    result.Params.Confidence,
		Amplification: result.Params.Amplification,
		Replication:   result.Params.Replication,
		Universe:      result.Params.Universe,
	})
	if err != nil {
		return fmt.Errorf("estimation failed: %w", err)
	}

	sampling := newSamplingOutput(executor, result.Sampler)
	if opts.format == "json" {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(newEstimateOutput(est, sampling))
	}
	a.printEstimate(est, sampling)
	return nil
}

// trialCounter is implemented by samplers that count their own trials.
type trialCounter interface {
	Stats() (trials, failures int64)
}

// samplingOutput counts trials as the executor saw them and, when the
// sampler keeps its own count, as the sampler saw them. The two differ by
// retries.
type samplingOutput struct {
	Trials         int64 `json:"trials"`
	Failures       int64 `json:"failures"`
	OracleTrials   int64 `json:"oracle_trials,omitempty"`
	OracleFailures int64 `json:"oracle_failures,omitempty"`
}

func newSamplingOutput(executor trialCounter, sampler any) samplingOutput {
	var out samplingOutput
	out.Trials, out.Failures = executor.Stats()
	if c, ok := sampler.(trialCounter); ok {
		out.OracleTrials, out.OracleFailures = c.Stats()
	}
	return out
}

// estimateOutput is the JSON form of an estimate. Bounds are exact
// rationals.
type estimateOutput struct {
	RunID      string         `json:"run_id"`
	Lower      string         `json:"lower"`
	Upper      string         `json:"upper"`
	Confidence string         `json:"confidence"`
	Bounded    bool           `json:"bounded"`
	Trials     int64          `json:"trials"`
	Duration   string         `json:"duration"`
	Passes     []passOutput   `json:"passes"`
	Sampling   samplingOutput `json:"sampling"`
}

type passOutput struct {
	Pass       int    `json:"pass"`
	Lower      string `json:"lower"`
	Upper      string `json:"upper"`
	Yields     int    `json:"yields"`
	Trials     int64  `json:"trials"`
	Prefetched int64  `json:"prefetched,omitempty"`
	Votes      int    `json:"votes"`
	Decisions  int    `json:"decisions"`
	Positive   string `json:"positive_witness,omitempty"`
	Negative   string `json:"negative_witness,omitempty"`
	Diverged   bool   `json:"diverged,omitempty"`
}

func newEstimateOutput(est *application.Estimate, sampling samplingOutput) estimateOutput {
	out := estimateOutput{
		RunID:      est.RunID,
		Lower:      est.Interval.Lower.RatString(),
		Upper:      est.Interval.Upper.RatString(),
		Confidence: est.Interval.Confidence.RatString(),
		Bounded:    est.Interval.Bounded,
		Trials:     est.Trials(),
		Duration:   est.Duration.String(),
		Sampling:   sampling,
	}
	for _, p := range est.Passes {
		out.Passes = append(out.Passes, passOutput{
			Pass:       p.Pass,
			Lower:      p.Interval.Lower.RatString(),
			Upper:      p.Interval.Upper.RatString(),
			Yields:     p.Yields,
			Trials:     p.Trials,
			Prefetched: p.Prefetched,
			Votes:      p.Votes,
			Decisions:  len(p.Decisions),
			Positive:   levelKey(p.Positive),
			Negative:   levelKey(p.Negative),
			Diverged:   p.Diverged,
		})
	}
	return out
}

func levelKey(l counting.RestrictionLevel) string {
	if l == nil {
		return ""
	}
	return l.Key()
}

func (a *App) printEstimate(est *application.Estimate, sampling samplingOutput) {
	lower, upper, confidence := est.Interval.Float64s()

	_, _ = fmt.Fprintf(a.stdout, "Estimate completed\n")
	_, _ = fmt.Fprintf(a.stdout, "  Run ID: %s\n", est.RunID)
	_, _ = fmt.Fprintf(a.stdout, "  Interval: [%.4g, %.4g]\n", lower, upper)
	_, _ = fmt.Fprintf(a.stdout, "  Confidence: %.6f\n", confidence)
	if !est.Interval.Bounded {
		_, _ = fmt.Fprintf(a.stdout, "  Upper bound: universe fallback\n")
	}
	_, _ = fmt.Fprintf(a.stdout, "  Trials: %d\n", est.Trials())
	_, _ = fmt.Fprintf(a.stdout, "  Sampled: %d trials, %d failed\n", sampling.Trials, sampling.Failures)
	_, _ = fmt.Fprintf(a.stdout, "  Duration: %s\n", est.Duration)
	for _, p := range est.Passes {
		_, _ = fmt.Fprintf(a.stdout, "  Pass %d: %s (%d yields, %d trials, %d votes)\n",
			p.Pass, p.Interval, p.Yields, p.Trials, p.Votes)
		if p.Diverged {
			_, _ = fmt.Fprintf(a.stdout, "    diverged from pass %d\n", p.Pass-1)
		}
	}
}
