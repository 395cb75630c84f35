package budget

import "math/big"

// Delta returns P[Bin(r, 1/4) >= (r+1)/2], the chance that a vote over r
// trials lands on the wrong side.
func Delta(r int) *big.Rat {
	return MajorityError(r, (r+1)/2)
}

// MajorityError returns P[Bin(total, 1/4) >= winner], the probability that
// the less likely outcome collects at least winner of total votes.
func MajorityError(total, winner int) *big.Rat {
	if winner <= 0 {
		return big.NewRat(1, 1)
	}
	if winner > total {
		return new(big.Rat)
	}

	// Weights 3^(total-k) * C(total, k) over a common denominator 4^total,
	// summed from k = total down, using C(n, k-1) = C(n, k) * k / (n-k+1).
	sum := new(big.Int)
	binom := big.NewInt(1)
	pow := big.NewInt(1)
	three := big.NewInt(3)
	term := new(big.Int)
	for k := total; k >= winner; k-- {
		sum.Add(sum, term.Mul(binom, pow))
		binom.Mul(binom, big.NewInt(int64(k)))
		binom.Quo(binom, big.NewInt(int64(total-k+1)))
		pow.Mul(pow, three)
	}
	denom := new(big.Int).Lsh(big.NewInt(1), uint(2*total))
	return new(big.Rat).SetFrac(sum, denom)
}

// TrialsFor returns the smallest odd r such that decisions * Delta(r) does
// not exceed failure.
func TrialsFor(failure *big.Rat, decisions int) int {
	if decisions <= 0 {
		return 1
	}
	n := big.NewRat(int64(decisions), 1)
	for r := 1; ; r += 2 {
		total := new(big.Rat).Mul(n, Delta(r))
		if total.Cmp(failure) <= 0 {
			return r
		}
	}
}
