// Package vote decides one restriction level by majority over independent
// trials, stopping early once the outcome can no longer change.
package vote

import (
	"context"
	"fmt"
	"math/big"

	"github.com/felixgeelhaar/approxcount/domain/budget"
	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/tally"
)

// Result is the state of a vote after reading a tally.
type Result struct {
	// Decided is true once the verdict is fixed.
	Decided bool
	// Verdict is true for a ModelFound majority. Only meaningful when Decided.
	Verdict bool
	// Remaining is the number of further trials to request when undecided.
	Remaining int
	// ErrorProbability is P[Bin(total, 1/4) >= winner] for a decided vote.
	ErrorProbability *big.Rat
	// Tally is the tally the result was computed from.
	Tally counting.Tally
}

// Evaluate decides a vote of planned size trials against t.
func Evaluate(t counting.Tally, trials int) Result {
	found, notFound := t.Found, t.NotFound
	total := t.Total()
	remaining := max(int64(0), int64(trials)-total)

	res := Result{Tally: t}
	switch {
	case found > notFound+remaining:
		res.Decided, res.Verdict = true, true
		res.ErrorProbability = budget.MajorityError(int(total), int(found))
	case notFound > found+remaining:
		res.Decided, res.Verdict = true, false
		res.ErrorProbability = budget.MajorityError(int(total), int(notFound))
	case remaining == 0:
		// Tied after the full budget; one more trial breaks it.
		res.Remaining = 1
	default:
		res.Remaining = int(remaining)
	}
	return res
}

// Estimator evaluates votes against a shared tally store.
type Estimator struct {
	store  tally.Store
	trials int
}

// NewEstimator creates an estimator that plans trials per decision.
func NewEstimator(store tally.Store, trials int) *Estimator {
	return &Estimator{store: store, trials: trials}
}

// Trials returns the planned vote size.
func (e *Estimator) Trials() int {
	return e.trials
}

// Estimate reads the task's tally and evaluates the vote.
func (e *Estimator) Estimate(ctx context.Context, task counting.SamplingTask) (Result, error) {
	t, err := e.store.Tally(ctx, task)
	if err != nil {
		return Result{}, fmt.Errorf("read tally for %s: %w", task, err)
	}
	return Evaluate(t, e.trials), nil
}

// Outstanding returns how many trials a vote on task would still request
// from its current tally, or 0 if it is already decided.
func (e *Estimator) Outstanding(ctx context.Context, task counting.SamplingTask) (int, error) {
	res, err := e.Estimate(ctx, task)
	if err != nil {
		return 0, err
	}
	return res.Remaining, nil
}
