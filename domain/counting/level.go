// Package counting provides the core value types shared by the approximate
// counting scheduler and its collaborators.
package counting

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// RestrictionLevel is a fixed-length digit vector addressing one restriction
// of the countable space. The first digits are coarse binary digits (most
// significant first); the last digit counts fine unit steps.
type RestrictionLevel []int

// NewRestrictionLevel returns an all-zero level with n digits.
func NewRestrictionLevel(n int) RestrictionLevel {
	return make(RestrictionLevel, n)
}

// Clone returns an independent copy of the level.
func (l RestrictionLevel) Clone() RestrictionLevel {
	c := make(RestrictionLevel, len(l))
	copy(c, l)
	return c
}

// With returns a copy of the level with digit i set to v.
func (l RestrictionLevel) With(i, v int) RestrictionLevel {
	c := l.Clone()
	c[i] = v
	return c
}

// Key renders the level as a dotted digit string, e.g. "1.0.2".
func (l RestrictionLevel) Key() string {
	var b strings.Builder
	for i, d := range l {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(d))
	}
	return b.String()
}

// String implements fmt.Stringer.
func (l RestrictionLevel) String() string {
	return "[" + l.Key() + "]"
}

// Coarse returns the binary value of all digits except the last.
func (l RestrictionLevel) Coarse() int {
	v := 0
	for i := 0; i < len(l)-1; i++ {
		v = v<<1 | (l[i] & 1)
	}
	return v
}

// Fine returns the last digit, or 0 for an empty level.
func (l RestrictionLevel) Fine() int {
	if len(l) == 0 {
		return 0
	}
	return l[len(l)-1]
}

// ParseLevel parses a key produced by RestrictionLevel.Key.
func ParseLevel(key string) (RestrictionLevel, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidLevel)
	}
	parts := strings.Split(key, ".")
	level := make(RestrictionLevel, len(parts))
	for i, p := range parts {
		d, err := strconv.Atoi(p)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: digit %d of %q", ErrInvalidLevel, i, key)
		}
		level[i] = d
	}
	return level, nil
}

// GeometricRangeSize returns 2^(coarse*stride + fine) for the level.
func GeometricRangeSize(level RestrictionLevel, stride int) *big.Int {
	exp := uint(level.Coarse()*stride + level.Fine())
	return new(big.Int).Lsh(big.NewInt(1), exp)
}
