// Package synthetic provides an oracle with a known hidden count, for
// demonstrations and end-to-end checks of the estimator.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/oracle"
)

// Oracle sizes levels geometrically and answers trials as if Count objects
// were hashed uniformly into RangeSize cells: a trial finds a model with
// probability 1 - exp(-Count^q / RangeSize).
type Oracle struct {
	geo   *oracle.Geometric
	count *big.Int

	mu          sync.Mutex
	rng         *rand.Rand
	failureRate float64

	trials   atomic.Int64
	failures atomic.Int64
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithSeed seeds the trial generator.
func WithSeed(seed uint64) Option {
	return func(o *Oracle) {
		o.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithMethod sets the transform tag reported in task keys.
func WithMethod(m counting.TransformMethod) Option {
	return func(o *Oracle) {
		o.geo.Transform = m
	}
}

// WithFailureRate makes each trial fail with probability p.
func WithFailureRate(p float64) Option {
	return func(o *Oracle) {
		o.failureRate = p
	}
}

// New creates a synthetic oracle named id hiding count objects in a space
// bounded by universe. Stride must match the plan's stride.
func New(id string, count, universe *big.Int, stride int, opts ...Option) (*Oracle, error) {
	switch {
	case id == "":
		return nil, fmt.Errorf("%w: oracle id is required", counting.ErrInvalidParameter)
	case count == nil || count.Sign() < 0:
		return nil, fmt.Errorf("%w: hidden count must be non-negative", counting.ErrInvalidParameter)
	case universe == nil || universe.Sign() <= 0:
		return nil, fmt.Errorf("%w: universe must be positive", counting.ErrInvalidParameter)
	case stride < 1:
		return nil, fmt.Errorf("%w: stride must be positive", counting.ErrInvalidParameter)
	}
	if err := counting.ValidateKeyField("oracle id", id); err != nil {
		return nil, err
	}

	o := &Oracle{
		geo:   oracle.NewGeometric(id, stride, universe),
		count: new(big.Int).Set(count),
	}
	WithSeed(1)(o)
	for _, opt := range opts {
		opt(o)
	}
	if err := counting.ValidateKeyField("method", string(o.geo.Transform)); err != nil {
		return nil, err
	}
	if o.failureRate < 0 || o.failureRate >= 1 {
		return nil, fmt.Errorf("%w: failure rate %v outside [0, 1)", counting.ErrInvalidParameter, o.failureRate)
	}
	return o, nil
}

var (
	_ oracle.Oracle  = (*Oracle)(nil)
	_ oracle.Sampler = (*Oracle)(nil)
)

// ID implements oracle.Oracle.
func (o *Oracle) ID() string { return o.geo.ID() }

// Method implements oracle.Oracle.
func (o *Oracle) Method() counting.TransformMethod { return o.geo.Method() }

// RangeSize implements oracle.Oracle.
func (o *Oracle) RangeSize(level counting.RestrictionLevel) *big.Int {
	return o.geo.RangeSize(level)
}

// Universe implements oracle.Oracle.
func (o *Oracle) Universe() *big.Int { return o.geo.Universe() }

// Count returns the hidden count.
func (o *Oracle) Count() *big.Int { return new(big.Int).Set(o.count) }

// Sample implements oracle.Sampler.
func (o *Oracle) Sample(ctx context.Context, task counting.SamplingTask) (counting.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if task.Oracle != o.ID() {
		return 0, fmt.Errorf("%w: %q", oracle.ErrUnknownOracle, task.Oracle)
	}
	level, err := counting.ParseLevel(task.Level)
	if err != nil {
		return 0, err
	}
	p := ModelProbability(o.count, task.Replication, o.RangeSize(level))

	o.trials.Add(1)
	o.mu.Lock()
	fail := o.failureRate > 0 && o.rng.Float64() < o.failureRate
	draw := o.rng.Float64()
	o.mu.Unlock()

	if fail {
		o.failures.Add(1)
		return 0, oracle.ErrTrialFailed
	}
	if draw < p {
		return counting.ModelFound, nil
	}
	return counting.NoModelFound, nil
}

// Stats returns the number of trials run and how many failed.
func (o *Oracle) Stats() (trials, failures int64) {
	return o.trials.Load(), o.failures.Load()
}

// ModelProbability is 1 - exp(-count^q / rangeSize). It is exactly 0 for an
// empty space and exactly 1 for a zero range holding at least one object.
func ModelProbability(count *big.Int, q int, rangeSize *big.Int) float64 {
	if count.Sign() == 0 {
		return 0
	}
	if rangeSize.Sign() == 0 {
		return 1
	}
	mass := new(big.Int).Exp(count, big.NewInt(int64(max(q, 1))), nil)
	ratio, _ := new(big.Rat).SetFrac(mass, rangeSize).Float64()
	return -math.Expm1(-ratio)
}

// Always returns a sampler that reports outcome for every trial.
func Always(outcome counting.Outcome) oracle.Sampler {
	return oracle.SamplerFunc(func(ctx context.Context, _ counting.SamplingTask) (counting.Outcome, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return outcome, nil
	})
}
