package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/approxcount/domain/budget"
	infraconfig "github.com/felixgeelhaar/approxcount/infrastructure/config"
)

// planOptions holds options for the plan command.
type planOptions struct {
	estimationFlags
	format string
}

// newPlanCmd creates the plan command.
func (a *App) newPlanCmd() *cobra.Command {
	opts := &planOptions{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the trial budget for the estimation parameters",
		Long: `Compute the trial budget without running any trial: the growth factors,
the number of restriction levels, the decision bound and the trials each
decision needs to stay within the confidence.

Examples:
  # Budget for the defaults
  approxcount plan

  # Budget for a tighter confidence and larger universe
  approxcount plan --confidence 0.999 --universe 1048576 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			params, err := infraconfig.NewBuilder(cfg).Params()
			if err != nil {
				return err
			}
			plan, err := budget.NewPlan(params)
			if err != nil {
				return fmt.Errorf("invalid parameters: %w", err)
			}
			return a.printPlan(plan, opts.format)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format (text, json)")

	return cmd
}

// planOutput is the JSON form of a plan.
type planOutput struct {
	Confidence        string `json:"confidence"`
	Amplification     int    `json:"amplification"`
	Replication       int    `json:"replication"`
	Universe          string `json:"universe"`
	Shrink            string `json:"shrink"`
	Grow              string `json:"grow"`
	Stride            int    `json:"stride"`
	Ceiling           string `json:"ceiling"`
	LevelCount        int    `json:"level_count"`
	MaxExtraLevels    int    `json:"max_extra_levels"`
	MaxDecisions      int    `json:"max_decisions"`
	TrialsPerDecision int    `json:"trials_per_decision"`
	DecisionError     string `json:"decision_error"`
}

func (a *App) printPlan(plan *budget.Plan, format string) error {
	switch format {
	case "text":
		_, _ = fmt.Fprintln(a.stdout, plan.String())
		return nil
	case "json":
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(planOutput{
			Confidence:        plan.Confidence.RatString(),
			Amplification:     plan.Amplification,
			Replication:       plan.Replication,
			Universe:          plan.Universe.String(),
			Shrink:            plan.Shrink.RatString(),
			Grow:              plan.Grow.RatString(),
			Stride:            plan.Stride,
			Ceiling:           plan.Ceiling.String(),
			LevelCount:        plan.LevelCount,
			MaxExtraLevels:    plan.MaxExtraLevels,
			MaxDecisions:      plan.MaxDecisions,
			TrialsPerDecision: plan.TrialsPerDecision,
			DecisionError:     plan.DecisionError.FloatString(12),
		})
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
