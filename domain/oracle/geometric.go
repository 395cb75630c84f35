package oracle

import (
	"math/big"

	"github.com/felixgeelhaar/approxcount/domain/counting"
)

// Geometric sizes levels as 2^(coarse*Stride + fine), the layout the search
// controller walks.
type Geometric struct {
	Name      string
	Transform counting.TransformMethod
	Stride    int
	Bound     *big.Int
}

// NewGeometric creates a geometric oracle.
func NewGeometric(name string, stride int, universe *big.Int) *Geometric {
	return &Geometric{
		Name:      name,
		Transform: counting.MethodXOR,
		Stride:    stride,
		Bound:     universe,
	}
}

// ID implements Oracle.
func (g *Geometric) ID() string { return g.Name }

// Method implements Oracle.
func (g *Geometric) Method() counting.TransformMethod { return g.Transform }

// RangeSize implements Oracle.
func (g *Geometric) RangeSize(level counting.RestrictionLevel) *big.Int {
	return counting.GeometricRangeSize(level, g.Stride)
}

// Universe implements Oracle.
func (g *Geometric) Universe() *big.Int { return new(big.Int).Set(g.Bound) }

var _ Oracle = (*Geometric)(nil)
