// Package oracle defines the restrictive formula collaborators: sizing a
// restriction level and running single trials.
package oracle

import (
	"context"
	"math/big"

	"github.com/felixgeelhaar/approxcount/domain/counting"
)

// Oracle sizes restriction levels. RangeSize must be pure and must not
// decrease along the scheduler's traversal order.
type Oracle interface {
	// ID identifies the counted object in task keys.
	ID() string
	// Method is the transform used to restrict the space.
	Method() counting.TransformMethod
	// RangeSize returns the size admitted by a restriction at level.
	RangeSize(level counting.RestrictionLevel) *big.Int
	// Universe is the default upper bound on the count.
	Universe() *big.Int
}

// Sampler runs one independent random trial for a task.
type Sampler interface {
	Sample(ctx context.Context, task counting.SamplingTask) (counting.Outcome, error)
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func(ctx context.Context, task counting.SamplingTask) (counting.Outcome, error)

// Sample implements Sampler.
func (f SamplerFunc) Sample(ctx context.Context, task counting.SamplingTask) (counting.Outcome, error) {
	return f(ctx, task)
}

// TaskFor builds the sampling task for a level under the given parameters.
func TaskFor(o Oracle, level counting.RestrictionLevel, amplification, replication int) counting.SamplingTask {
	return counting.SamplingTask{
		Oracle:        o.ID(),
		Method:        o.Method(),
		Level:         level.Key(),
		Amplification: amplification,
		Replication:   replication,
	}
}
