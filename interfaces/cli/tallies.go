package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/approxcount/domain/budget"
	"github.com/felixgeelhaar/approxcount/domain/counting"
	domainconfig "github.com/felixgeelhaar/approxcount/domain/config"
	"github.com/felixgeelhaar/approxcount/domain/oracle"
	"github.com/felixgeelhaar/approxcount/domain/tally"
	"github.com/felixgeelhaar/approxcount/domain/vote"
	infraconfig "github.com/felixgeelhaar/approxcount/infrastructure/config"
)

// talliesOptions holds options for the tallies command.
type talliesOptions struct {
	estimationFlags
	format string
}

// newTalliesCmd creates the tallies command.
func (a *App) newTalliesCmd() *cobra.Command {
	opts := &talliesOptions{}

	cmd := &cobra.Command{
		Use:   "tallies",
		Short: "List the tallies recorded in the store",
		Long: `List every task the configured store holds trials for, with its tally
and the verdict a vote of the planned size reaches on it.

Tasks of the configured oracle also show the range size of their level.
The in-memory store starts empty on every invocation.

Examples:
  # Tallies left by earlier runs against a SQLite store
  approxcount tallies -c sqlite.yaml

  # The same as JSON
  approxcount tallies -c sqlite.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return a.runTallies(cmd.Context(), cfg, opts.format)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format (text, json)")

	return cmd
}

// tallyOutput is one listed task.
type tallyOutput struct {
	Key       string `json:"key"`
	Oracle    string `json:"oracle"`
	Method    string `json:"method"`
	Level     string `json:"level"`
	Found     int64  `json:"found"`
	NotFound  int64  `json:"not_found"`
	RangeSize string `json:"range_size,omitempty"`
	Verdict   string `json:"verdict"`
}

func (a *App) runTallies(ctx context.Context, cfg *domainconfig.EstimationConfig, format string) error {
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown output format %q", format)
	}

	result, err := infraconfig.NewBuilder(cfg).Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build estimation components: %w", err)
	}
	defer result.Close()

	lister, ok := result.Store.(tally.Lister)
	if !ok {
		return fmt.Errorf("store %s cannot list its tallies", result.Backend)
	}
	plan, err := budget.NewPlan(result.Params)
	if err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}

	tasks, err := lister.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tallies: %w", err)
	}

	rows := make([]tallyOutput, 0, len(tasks))
	for _, task := range tasks {
		t, err := result.Store.Tally(ctx, task)
		if err != nil {
			return fmt.Errorf("failed to read tally: %w", err)
		}
		rows = append(rows, tallyOutput{
			Key:       task.Key(),
			Oracle:    task.Oracle,
			Method:    string(task.Method),
			Level:     task.Level,
			Found:     t.Found,
			NotFound:  t.NotFound,
			RangeSize: rangeSizeOf(result.Oracle, task),
			Verdict:   verdictOf(vote.Evaluate(t, plan.TrialsPerDecision)),
		})
	}

	if format == "json" {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		_, _ = fmt.Fprintf(a.stdout, "No tallies in %s store\n", result.Backend)
		return nil
	}
	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TASK\tFOUND\tNOT FOUND\tRANGE\tVERDICT")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", r.Key, r.Found, r.NotFound, r.RangeSize, r.Verdict)
	}
	return w.Flush()
}

// rangeSizeOf sizes the task's level when orc produced it.
func rangeSizeOf(orc oracle.Oracle, task counting.SamplingTask) string {
	if task.Oracle != orc.ID() || task.Method != orc.Method() {
		return ""
	}
	level, err := task.RestrictionLevel()
	if err != nil {
		return ""
	}
	return orc.RangeSize(level).String()
}

func verdictOf(res vote.Result) string {
	switch {
	case !res.Decided:
		return "open"
	case res.Verdict:
		return "positive"
	default:
		return "negative"
	}
}
