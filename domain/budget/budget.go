// Package budget sizes a counting run: bracket factors, search depth and the
// number of trials each majority-vote decision needs.
package budget

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/felixgeelhaar/approxcount/domain/counting"
)

// rootPrecision is the big.Float precision used for square roots.
const rootPrecision = 256

// PerTrialErrorBound is the worst-case probability that one trial reports
// the less likely outcome.
var PerTrialErrorBound = big.NewRat(1, 4)

// Params are the invocation parameters of a run.
type Params struct {
	// Confidence is the target confidence in [0, 1).
	Confidence *big.Rat
	// Amplification is the exponent a >= 1.
	Amplification int
	// Replication is the count q >= 1.
	Replication int
	// Universe bounds the count from above.
	Universe *big.Int
}

// Plan is the pure result of sizing a run.
type Plan struct {
	Params

	// Shrink and Grow are g and G.
	Shrink *big.Rat
	Grow   *big.Rat
	// Ceiling is Universe^Replication.
	Ceiling *big.Int
	// Stride is the exponent step between consecutive coarse levels.
	Stride int

	LevelCount        int
	MaxExtraLevels    int
	MaxDecisions      int
	TrialsPerDecision int

	// DecisionError is delta(TrialsPerDecision), the budget of one decision.
	DecisionError *big.Rat
}

// NewPlan validates params and computes the plan.
func NewPlan(p Params) (*Plan, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	shrink, grow := Factors(p.Amplification)
	ceiling := new(big.Int).Exp(p.Universe, big.NewInt(int64(p.Replication)), nil)
	stride := StrideFor(p.Amplification)

	// 2^k >= ceiling
	k := new(big.Int).Sub(ceiling, big.NewInt(1)).BitLen()
	units := (k + stride - 1) / stride
	coarseDigits := max(1, bitLen(units))

	plan := &Plan{
		Params:         p,
		Shrink:         shrink,
		Grow:           grow,
		Ceiling:        ceiling,
		Stride:         stride,
		LevelCount:     coarseDigits + 1,
		MaxExtraLevels: stride - 1,
	}
	plan.MaxDecisions = plan.LevelCount - 1 + plan.MaxExtraLevels

	failure := new(big.Rat).Sub(big.NewRat(1, 1), p.Confidence)
	plan.TrialsPerDecision = TrialsFor(failure, plan.MaxDecisions)
	plan.DecisionError = Delta(plan.TrialsPerDecision)

	return plan, nil
}

func validate(p Params) error {
	switch {
	case p.Confidence == nil:
		return fmt.Errorf("%w: confidence is required", counting.ErrInvalidParameter)
	case p.Confidence.Sign() < 0:
		return fmt.Errorf("%w: confidence %s is negative", counting.ErrInvalidParameter, p.Confidence.RatString())
	case p.Confidence.Cmp(big.NewRat(1, 1)) >= 0:
		return fmt.Errorf("%w: confidence %s must be below 1", counting.ErrInvalidParameter, p.Confidence.RatString())
	case p.Amplification < 1:
		return fmt.Errorf("%w: amplification %d must be at least 1", counting.ErrInvalidParameter, p.Amplification)
	case p.Replication < 1:
		return fmt.Errorf("%w: replication %d must be at least 1", counting.ErrInvalidParameter, p.Replication)
	case p.Universe == nil || p.Universe.Sign() <= 0:
		return fmt.Errorf("%w: universe bound must be positive", counting.ErrInvalidParameter)
	}
	return nil
}

// Factors returns g = (sqrt(a+1) - 1)^2 and G = (sqrt(a+1) + 1)^2.
func Factors(a int) (shrink, grow *big.Rat) {
	root := sqrtRat(int64(a) + 1)
	one := big.NewRat(1, 1)

	lo := new(big.Rat).Sub(root, one)
	hi := new(big.Rat).Add(root, one)
	return lo.Mul(lo, lo), hi.Mul(hi, hi)
}

// StrideFor returns the smallest s >= 1 with 2^s >= G.
func StrideFor(a int) int {
	_, grow := Factors(a)
	ceil := new(big.Int).Quo(grow.Num(), grow.Denom())
	if !grow.IsInt() {
		ceil.Add(ceil, big.NewInt(1))
	}
	return max(1, new(big.Int).Sub(ceil, big.NewInt(1)).BitLen())
}

func sqrtRat(n int64) *big.Rat {
	r := new(big.Int).Sqrt(big.NewInt(n))
	if new(big.Int).Mul(r, r).Int64() == n {
		return new(big.Rat).SetInt(r)
	}
	f := new(big.Float).SetPrec(rootPrecision).SetInt64(n)
	f.Sqrt(f)
	out, _ := f.Rat(nil)
	return out
}

func bitLen(n int) int {
	return big.NewInt(int64(n)).BitLen()
}

// String renders the plan for display.
func (p *Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "confidence=%s a=%d q=%d universe=%s\n", p.Confidence.RatString(), p.Amplification, p.Replication, p.Universe)
	fmt.Fprintf(&b, "g=%s G=%s stride=%d ceiling=%s\n", p.Shrink.FloatString(6), p.Grow.FloatString(6), p.Stride, p.Ceiling)
	fmt.Fprintf(&b, "levels=%d extra=%d decisions=%d trials/decision=%d decision-error=%s",
		p.LevelCount, p.MaxExtraLevels, p.MaxDecisions, p.TrialsPerDecision, p.DecisionError.FloatString(8))
	return b.String()
}
