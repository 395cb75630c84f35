package counting

import (
	"fmt"
	"math/big"
)

// EdgeInterval brackets the unknown count with a confidence level.
// Bounded is false while no negative witness exists; Upper then holds the
// universe bound.
type EdgeInterval struct {
	Lower      *big.Rat
	Upper      *big.Rat
	Confidence *big.Rat
	Bounded    bool
}

// Width returns Upper - Lower.
func (e EdgeInterval) Width() *big.Rat {
	return new(big.Rat).Sub(e.Upper, e.Lower)
}

// Contains reports whether x lies in [Lower, Upper].
func (e EdgeInterval) Contains(x *big.Rat) bool {
	return e.Lower.Cmp(x) <= 0 && x.Cmp(e.Upper) <= 0
}

// Within reports whether e is contained in other (never wider on either side).
func (e EdgeInterval) Within(other EdgeInterval) bool {
	return e.Lower.Cmp(other.Lower) >= 0 && e.Upper.Cmp(other.Upper) <= 0
}

// Disjoint reports whether e and other share no point.
func (e EdgeInterval) Disjoint(other EdgeInterval) bool {
	return e.Upper.Cmp(other.Lower) < 0 || other.Upper.Cmp(e.Lower) < 0
}

// Equal reports exact equality of all components.
func (e EdgeInterval) Equal(other EdgeInterval) bool {
	return e.Bounded == other.Bounded &&
		ratEqual(e.Lower, other.Lower) &&
		ratEqual(e.Upper, other.Upper) &&
		ratEqual(e.Confidence, other.Confidence)
}

// Float64s returns approximate float values of the bounds and confidence.
func (e EdgeInterval) Float64s() (lower, upper, confidence float64) {
	lower, _ = e.Lower.Float64()
	upper, _ = e.Upper.Float64()
	confidence, _ = e.Confidence.Float64()
	return lower, upper, confidence
}

// String implements fmt.Stringer.
func (e EdgeInterval) String() string {
	upper := e.Upper.FloatString(4)
	if !e.Bounded {
		upper += " (universe)"
	}
	return fmt.Sprintf("[%s, %s] confidence=%s", e.Lower.FloatString(4), upper, e.Confidence.FloatString(6))
}

func ratEqual(a, b *big.Rat) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}
