package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	domainconfig "github.com/felixgeelhaar/approxcount/domain/config"
	infraconfig "github.com/felixgeelhaar/approxcount/infrastructure/config"
)

// estimationFlags override configuration values from the command line.
type estimationFlags struct {
	configPath    string
	strict        bool
	confidence    string
	amplification int
	replication   int
	universe      string
	count         string
	seed          uint64
	store         string
	runner        string
	passes        int
	prefetch      bool
}

func (f *estimationFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "Path to configuration file (defaults apply without one)")
	flags.BoolVar(&f.strict, "strict", false, "Fail on unset environment variables in the configuration")
	flags.StringVar(&f.confidence, "confidence", "", "Confidence in [0, 1), e.g. 0.99 or 99/100")
	flags.IntVar(&f.amplification, "amplification", 0, "Amplification exponent a")
	flags.IntVar(&f.replication, "replication", 0, "Replication count q")
	flags.StringVar(&f.universe, "universe", "", "Upper bound on the count")
	flags.StringVar(&f.count, "count", "", "Hidden count of the synthetic oracle")
	flags.Uint64Var(&f.seed, "seed", 0, "Seed of the synthetic oracle")
	flags.StringVar(&f.store, "store", "", "Tally store backend (memory, redis, badger, sqlite, postgres)")
	flags.StringVar(&f.runner, "runner", "", "Trial runner (local, queue)")
	flags.IntVar(&f.passes, "passes", 0, "Number of search passes")
	flags.BoolVar(&f.prefetch, "prefetch", false, "Run predicted trials alongside required ones")
}

// load reads the configuration file, or the defaults without one, and
// applies every flag the user set. The result is validated.
func (f *estimationFlags) load(cmd *cobra.Command) (*domainconfig.EstimationConfig, error) {
	cfg := domainconfig.Default()
	if f.configPath != "" {
		loader := infraconfig.NewLoaderWithOptions(
			infraconfig.WithStrictEnv(f.strict),
			infraconfig.WithValidation(false),
		)
		loaded, err := loader.LoadFile(f.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("confidence") {
		cfg.Estimation.Confidence = f.confidence
	}
	if changed("amplification") {
		cfg.Estimation.Amplification = f.amplification
	}
	if changed("replication") {
		cfg.Estimation.Replication = f.replication
	}
	if changed("universe") {
		cfg.Estimation.Universe = f.universe
	}
	if changed("count") {
		cfg.Oracle.Count = f.count
	}
	if changed("seed") {
		cfg.Oracle.Seed = f.seed
	}
	if changed("store") {
		cfg.Store.Backend = f.store
	}
	if changed("runner") {
		cfg.Runner.Kind = f.runner
	}
	if changed("passes") {
		cfg.Estimation.Passes = f.passes
	}
	if changed("prefetch") {
		cfg.Estimation.Prefetch = f.prefetch
	}

	if errs := domainconfig.NewValidator().Validate(cfg); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %v", domainconfig.ErrValidationFailed, errs)
	}
	return cfg, nil
}
