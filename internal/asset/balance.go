package asset

import (
	"math"
	"math/bits"
	"strconv"
)

// Balance is an unsigned amount of some asset. Arithmetic saturates instead
// of wrapping.
type Balance uint64

// MaxBalance is the largest representable amount
const MaxBalance = Balance(math.MaxUint64)

// SaturatingAdd returns b+o, clamped to MaxBalance
func (b Balance) SaturatingAdd(o Balance) Balance {
	sum, carry := bits.Add64(uint64(b), uint64(o), 0)
	if carry != 0 {
		return MaxBalance
	}
	return Balance(sum)
}

// SaturatingSub returns b-o, clamped to zero
func (b Balance) SaturatingSub(o Balance) Balance {
	if o >= b {
		return 0
	}
	return b - o
}

// IsZero reports whether the amount is zero
func (b Balance) IsZero() bool {
	return b == 0
}

func (b Balance) String() string {
	return strconv.FormatUint(uint64(b), 10)
}

// ParseBalance parses a base-10 amount
func ParseBalance(s string) (Balance, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Balance(v), nil
}

// MulDiv returns floor(a*b/c) computed with a 128-bit intermediate product.
// A zero divisor yields zero. A quotient that does not fit saturates.
func MulDiv(a, b, c Balance) Balance {
	if c == 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return MaxBalance
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	return Balance(q)
}
