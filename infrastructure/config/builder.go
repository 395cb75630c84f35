package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/felixgeelhaar/approxcount/domain/budget"
	"github.com/felixgeelhaar/approxcount/domain/counting"
	domainconfig "github.com/felixgeelhaar/approxcount/domain/config"
	"github.com/felixgeelhaar/approxcount/domain/oracle"
	"github.com/felixgeelhaar/approxcount/domain/tally"
	"github.com/felixgeelhaar/approxcount/infrastructure/logging"
	"github.com/felixgeelhaar/approxcount/infrastructure/observability"
	"github.com/felixgeelhaar/approxcount/infrastructure/oracle/synthetic"
	"github.com/felixgeelhaar/approxcount/infrastructure/resilience"
	badgerstore "github.com/felixgeelhaar/approxcount/infrastructure/storage/badger"
	"github.com/felixgeelhaar/approxcount/infrastructure/storage/memory"
	pgstore "github.com/felixgeelhaar/approxcount/infrastructure/storage/postgres"
	redisstore "github.com/felixgeelhaar/approxcount/infrastructure/storage/redis"
	sqlitestore "github.com/felixgeelhaar/approxcount/infrastructure/storage/sqlite"
)

// Runner kinds.
const (
	RunnerLocal = "local"
	RunnerQueue = "queue"
)

// Builder builds estimation components from configuration.
type Builder struct {
	config *domainconfig.EstimationConfig
}

// NewBuilder creates a new configuration builder.
func NewBuilder(config *domainconfig.EstimationConfig) *Builder {
	return &Builder{config: config}
}

// BuildResult contains the components built from configuration.
type BuildResult struct {
	// Params are the invocation parameters; Universe is always set.
	Params budget.Params
	// Oracle sizes restriction levels.
	Oracle oracle.Oracle
	// Sampler runs single trials.
	Sampler oracle.Sampler
	// Store is the shared tally store.
	Store tally.Store
	// Backend names the store backend.
	Backend string
	// Executor wraps every trial.
	Executor resilience.ExecutorConfig

	RunnerKind  string
	Concurrency int
	Workers     int
	Passes      int
	MaxYields   int
	Prefetch    bool
}

// Close releases the store if it holds external resources.
func (r *BuildResult) Close() error {
	if c, ok := r.Store.(tally.Closer); ok {
		return c.Close()
	}
	return nil
}

// Build builds the run components. The caller closes the result.
func (b *Builder) Build(ctx context.Context) (*BuildResult, error) {
	if b.config == nil {
		return nil, fmt.Errorf("%w: configuration is nil", domainconfig.ErrBuildFailed)
	}

	result := &BuildResult{
		RunnerKind:  b.config.Runner.Kind,
		Concurrency: b.config.Runner.Concurrency,
		Workers:     b.config.Runner.Workers,
		Passes:      b.config.Estimation.Passes,
		MaxYields:   b.config.Estimation.MaxYields,
		Prefetch:    b.config.Estimation.Prefetch,
		Executor:    resilience.ConfigFrom(b.config.Resilience, b.config.Runner.Timeout.Duration()),
	}
	if result.RunnerKind == "" {
		result.RunnerKind = RunnerLocal
	}

	if err := b.buildParams(result); err != nil {
		return nil, fmt.Errorf("building params: %w", err)
	}
	if err := b.buildOracle(result); err != nil {
		return nil, fmt.Errorf("building oracle: %w", err)
	}
	if err := b.buildStore(ctx, result); err != nil {
		return nil, fmt.Errorf("building store: %w", err)
	}
	return result, nil
}

func (b *Builder) buildParams(result *BuildResult) error {
	params, err := b.params()
	if err != nil {
		return err
	}
	result.Params = params
	return nil
}

// Params parses the invocation parameters without building anything. An
// unset universe falls back to the oracle section's.
func (b *Builder) Params() (budget.Params, error) {
	if b.config == nil {
		return budget.Params{}, fmt.Errorf("%w: configuration is nil", domainconfig.ErrBuildFailed)
	}
	params, err := b.params()
	if err != nil {
		return budget.Params{}, err
	}
	if params.Universe == nil {
		universe, err := domainconfig.ParseBigInt(b.config.Oracle.Universe)
		if err != nil {
			return budget.Params{}, errors.Join(domainconfig.ErrBuildFailed, err)
		}
		params.Universe = universe
	}
	return params, nil
}

func (b *Builder) params() (budget.Params, error) {
	est := b.config.Estimation

	confidence, err := est.ConfidenceRat()
	if err != nil {
		return budget.Params{}, errors.Join(domainconfig.ErrBuildFailed, err)
	}
	universe, err := est.UniverseInt()
	if err != nil {
		return budget.Params{}, errors.Join(domainconfig.ErrBuildFailed, err)
	}

	return budget.Params{
		Confidence:    confidence,
		Amplification: est.Amplification,
		Replication:   est.Replication,
		Universe:      universe,
	}, nil
}

func (b *Builder) buildOracle(result *BuildResult) error {
	o := b.config.Oracle

	switch o.Kind {
	case "synthetic":
		count, err := domainconfig.ParseBigInt(o.Count)
		if err != nil {
			return errors.Join(domainconfig.ErrBuildFailed, err)
		}
		if count == nil {
			count = new(big.Int)
		}
		universe, err := domainconfig.ParseBigInt(o.Universe)
		if err != nil {
			return errors.Join(domainconfig.ErrBuildFailed, err)
		}
		if universe == nil {
			universe = result.Params.Universe
		}

		id := o.ID
		if id == "" {
			id = o.Kind
		}
		opts := []synthetic.Option{synthetic.WithSeed(o.Seed)}
		if o.Method != "" {
			opts = append(opts, synthetic.WithMethod(counting.TransformMethod(o.Method)))
		}
		orc, err := synthetic.New(id, count, universe, budget.StrideFor(max(result.Params.Amplification, 1)), opts...)
		if err != nil {
			return errors.Join(domainconfig.ErrBuildFailed, err)
		}
		result.Oracle = orc
		result.Sampler = orc

	default:
		return fmt.Errorf("%w: unknown oracle kind %q", domainconfig.ErrBuildFailed, o.Kind)
	}

	if result.Params.Universe == nil {
		result.Params.Universe = result.Oracle.Universe()
	}
	return nil
}

func (b *Builder) buildStore(ctx context.Context, result *BuildResult) error {
	s := b.config.Store
	result.Backend = s.Backend
	if result.Backend == "" {
		result.Backend = "memory"
	}

	switch result.Backend {
	case "memory":
		result.Store = memory.NewTallyStore()

	case "redis":
		cfg := redisstore.DefaultConfig()
		opts := []redisstore.ConfigOption{
			redisstore.WithAddress(s.Redis.Address),
			redisstore.WithPassword(s.Redis.Password),
			redisstore.WithDB(s.Redis.DB),
		}
		if s.Redis.KeyPrefix != "" {
			opts = append(opts, redisstore.WithKeyPrefix(s.Redis.KeyPrefix))
		}
		store, err := redisstore.NewTallyStore(cfg, opts...)
		if err != nil {
			return err
		}
		result.Store = store

	case "badger":
		var opts []badgerstore.Option
		if s.Badger.InMemory {
			opts = append(opts, badgerstore.WithInMemory())
		} else {
			opts = append(opts, badgerstore.WithDir(s.Badger.Path))
		}
		opts = append(opts, badgerstore.WithSyncWrites(s.Badger.SyncWrites))
		if s.Badger.KeyPrefix != "" {
			opts = append(opts, badgerstore.WithKeyPrefix(s.Badger.KeyPrefix))
		}
		store, err := badgerstore.NewTallyStore(badgerstore.DefaultConfig(), opts...)
		if err != nil {
			return err
		}
		result.Store = store

	case "sqlite":
		store, err := sqlitestore.NewTallyStore(sqlitestore.DefaultConfig(), sqlitestore.WithPath(s.SQLite.Path))
		if err != nil {
			return err
		}
		result.Store = store

	case "postgres":
		pg := s.Postgres
		var opts []pgstore.ConfigOption
		if pg.Host != "" {
			opts = append(opts, pgstore.WithHost(pg.Host))
		}
		if pg.Port != 0 {
			opts = append(opts, pgstore.WithPort(pg.Port))
		}
		if pg.Database != "" {
			opts = append(opts, pgstore.WithDatabase(pg.Database))
		}
		if pg.User != "" || pg.Password != "" {
			opts = append(opts, pgstore.WithCredentials(pg.User, pg.Password))
		}
		if pg.SSLMode != "" {
			opts = append(opts, pgstore.WithSSLMode(pg.SSLMode))
		}
		if pg.MaxConns > 0 {
			opts = append(opts, pgstore.WithPoolSize(1, int32(pg.MaxConns)))
		}

		pool, err := pgstore.NewPool(ctx, pgstore.DefaultConfig(), opts...)
		if err != nil {
			return errors.Join(tally.ErrStoreUnavailable, err)
		}
		store := pgstore.NewTallyStore(pool, pg.Schema)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return err
		}
		result.Store = store

	default:
		return fmt.Errorf("%w: unknown store backend %q", domainconfig.ErrBuildFailed, s.Backend)
	}
	return nil
}

// LoggingConfig maps the logging section onto the logger configuration.
func (b *Builder) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if b.config.Logging.Level != "" {
		cfg.Level = b.config.Logging.Level
	}
	if b.config.Logging.Format != "" {
		cfg.Format = b.config.Logging.Format
	}
	return cfg
}

// ObservabilityOptions maps the telemetry section onto provider options.
// Stdout exporters write to w.
func (b *Builder) ObservabilityOptions(w io.Writer) ([]observability.Option, error) {
	t := b.config.Telemetry
	opts := []observability.Option{
		observability.WithServiceName(b.config.Name),
		observability.WithServiceVersion(b.config.Version),
	}

	if t.Tracing.Enabled {
		exporter, err := observability.ParseExporter(t.Tracing.Exporter)
		if err != nil {
			return nil, errors.Join(domainconfig.ErrBuildFailed, err)
		}
		switch exporter {
		case observability.ExporterStdout:
			opts = append(opts, observability.WithStdoutTracing(w))
		case observability.ExporterOTLP:
			opts = append(opts, observability.WithTracing(exporter, t.Tracing.Endpoint), observability.WithTracingInsecure())
		}
		if t.Tracing.SampleRate > 0 {
			opts = append(opts, observability.WithSampleRate(t.Tracing.SampleRate))
		}
	}
	if t.Metrics {
		opts = append(opts, observability.WithStdoutMetrics(w))
	}
	return opts, nil
}

// Timeout returns the per-trial timeout.
func (b *Builder) Timeout() time.Duration {
	return b.config.Runner.Timeout.Duration()
}
