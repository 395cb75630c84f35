// Package interval folds search witnesses into an edge interval.
package interval

import (
	"math/big"

	"github.com/felixgeelhaar/approxcount/domain/budget"
	"github.com/felixgeelhaar/approxcount/domain/counting"
)

// Calculator computes edge intervals for one plan.
type Calculator struct {
	plan     *budget.Plan
	universe *big.Rat
}

// NewCalculator creates a calculator for plan.
func NewCalculator(plan *budget.Plan) *Calculator {
	return &Calculator{
		plan:     plan,
		universe: new(big.Rat).SetInt(plan.Universe),
	}
}

// Compute returns the interval for the given witnesses. pos and neg are the
// range sizes of the positive and negative witnesses; nil means absent.
// errs holds the error probability of every vote made so far.
func (c *Calculator) Compute(pos, neg *big.Int, errs []*big.Rat) counting.EdgeInterval {
	q := c.plan.Replication

	lower := new(big.Rat)
	if pos != nil {
		scaled := new(big.Rat).Mul(new(big.Rat).SetInt(pos), c.plan.Shrink)
		lower = Root(scaled, q)
	}

	upper := new(big.Rat).Set(c.universe)
	bounded := false
	if neg != nil {
		bounded = true
		scaled := new(big.Rat).Mul(new(big.Rat).SetInt(neg), c.plan.Grow)
		if r := Root(scaled, q); r.Cmp(upper) < 0 {
			upper = r
		}
	}

	if lower.Cmp(upper) > 0 {
		lower.Set(upper)
	}

	return counting.EdgeInterval{
		Lower:      lower,
		Upper:      upper,
		Confidence: Confidence(errs),
		Bounded:    bounded,
	}
}

// Confidence returns 1 minus the sum of errs, floored at 0. With no votes the
// confidence is exactly 1.
func Confidence(errs []*big.Rat) *big.Rat {
	conf := big.NewRat(1, 1)
	for _, e := range errs {
		conf.Sub(conf, e)
	}
	if conf.Sign() < 0 {
		conf.SetInt64(0)
	}
	return conf
}
