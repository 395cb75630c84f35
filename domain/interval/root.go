package interval

import (
	"math"
	"math/big"
)

const rootPrecision = 256

// Root returns x^(1/q) for x >= 0. The result is exact for q == 1 and for
// perfect integer powers, and a 256-bit approximation otherwise.
func Root(x *big.Rat, q int) *big.Rat {
	if q <= 1 || x.Sign() == 0 {
		return new(big.Rat).Set(x)
	}

	y := floatRoot(new(big.Float).SetPrec(rootPrecision).SetRat(x), q)

	// Snap to an integer when it is an exact root.
	k, _ := new(big.Float).Add(y, big.NewFloat(0.5)).Int(nil)
	if x.IsInt() && new(big.Int).Exp(k, big.NewInt(int64(q)), nil).Cmp(x.Num()) == 0 {
		return new(big.Rat).SetInt(k)
	}

	r, _ := y.Rat(nil)
	return r
}

// floatRoot runs Newton's iteration y <- ((q-1)y + x/y^(q-1)) / q.
func floatRoot(x *big.Float, q int) *big.Float {
	mant := new(big.Float)
	exp := x.MantExp(mant)
	m, _ := mant.Float64()
	e, rem := exp/q, exp%q
	guess := math.Pow(m, 1/float64(q)) * math.Pow(2, float64(rem)/float64(q))

	y := new(big.Float).SetPrec(rootPrecision).SetFloat64(guess)
	y.SetMantExp(y, e)
	qf := new(big.Float).SetPrec(rootPrecision).SetInt64(int64(q))
	qm1 := new(big.Float).SetPrec(rootPrecision).SetInt64(int64(q - 1))

	for range 100 {
		pow := new(big.Float).SetPrec(rootPrecision).SetInt64(1)
		for range q - 1 {
			pow.Mul(pow, y)
		}
		next := new(big.Float).SetPrec(rootPrecision).Quo(x, pow)
		next.Add(next, new(big.Float).SetPrec(rootPrecision).Mul(qm1, y))
		next.Quo(next, qf)
		if next.Cmp(y) == 0 {
			break
		}
		y = next
	}
	return y
}
