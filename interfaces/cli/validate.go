package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/approxcount/domain/budget"
	infraconfig "github.com/felixgeelhaar/approxcount/infrastructure/config"
)

// validateOptions holds options for the validate command.
type validateOptions struct {
	strict bool
}

// newValidateCmd creates the validate command.
func (a *App) newValidateCmd() *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a configuration file",
		Long: `Validate an estimation configuration file for correctness.

This command checks:
  - File format (YAML or JSON)
  - Required fields (name, version)
  - Estimation parameters and the resulting trial budget
  - Oracle, store, runner and telemetry sections
  - Environment variable references (in strict mode)

No store is opened and no trial is run.

Examples:
  # Validate a configuration file
  approxcount validate estimate.yaml

  # Strict validation (fail on missing env vars)
  approxcount validate estimate.yaml --strict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validateConfig(args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Enable strict validation (fail on missing env vars)")

	return cmd
}

// validateConfig validates the configuration file.
func (a *App) validateConfig(path string, opts *validateOptions) error {
	loader := infraconfig.NewLoaderWithOptions(
		infraconfig.WithValidation(true),
		infraconfig.WithStrictEnv(opts.strict),
	)
	config, err := loader.LoadFile(path)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	// Additional validation via the builder
	builder := infraconfig.NewBuilder(config)
	params, err := builder.Params()
	if err != nil {
		return fmt.Errorf("configuration build failed: %w", err)
	}
	plan, err := budget.NewPlan(params)
	if err != nil {
		return fmt.Errorf("configuration build failed: %w", err)
	}
	if _, err := builder.ObservabilityOptions(io.Discard); err != nil {
		return fmt.Errorf("configuration build failed: %w", err)
	}

	fmt.Fprintf(a.stdout, "✓ Configuration is valid\n")
	fmt.Fprintf(a.stdout, "  Name: %s\n", config.Name)
	fmt.Fprintf(a.stdout, "  Version: %s\n", config.Version)
	if config.Description != "" {
		fmt.Fprintf(a.stdout, "  Description: %s\n", config.Description)
	}

	// Summary
	fmt.Fprintf(a.stdout, "\nConfiguration summary:\n")
	fmt.Fprintf(a.stdout, "  Confidence: %s\n", plan.Confidence.RatString())
	fmt.Fprintf(a.stdout, "  Amplification: %d, replication: %d\n", plan.Amplification, plan.Replication)
	fmt.Fprintf(a.stdout, "  Universe: %s\n", plan.Universe)
	fmt.Fprintf(a.stdout, "  Levels: %d (+%d fine), at most %d decisions of %d trials\n",
		plan.LevelCount, plan.MaxExtraLevels, plan.MaxDecisions, plan.TrialsPerDecision)
	fmt.Fprintf(a.stdout, "  Oracle: %s (%s)\n", config.Oracle.Kind, config.Oracle.ID)

	backend := config.Store.Backend
	if backend == "" {
		backend = "memory"
	}
	fmt.Fprintf(a.stdout, "  Store: %s\n", backend)

	runner := config.Runner.Kind
	if runner == "" {
		runner = infraconfig.RunnerLocal
	}
	fmt.Fprintf(a.stdout, "  Runner: %s\n", runner)

	if config.Telemetry.Metrics {
		fmt.Fprintf(a.stdout, "  Metrics: enabled\n")
	}
	if config.Telemetry.Tracing.Enabled {
		fmt.Fprintf(a.stdout, "  Tracing: %s\n", config.Telemetry.Tracing.Exporter)
	}

	return nil
}
