package math

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrPrecision is returned when a scale conversion or division cannot be
// performed exactly within the fixed-point representation.
var ErrPrecision = errors.New("fixed-point precision error")

// Protocol-wide decimal scales. All cross-asset value comparisons happen at
// the canonical 18-decimal scale; oracle prices are 30-decimal; rate and
// percentage parameters are parts-per-1e8.
const (
	PercentageDecimals = 8
	CanonicalDecimals  = 18
	PriceDecimals      = 30
)

var (
	// Percentage is the percentage base: 1e8 == 100%.
	Percentage = Pow10(PercentageDecimals)

	// PricePrecision is the canonical price scale: 1e30 per unit of index asset.
	PricePrecision = Pow10(PriceDecimals)
)

// Pow10 returns 10^n as a big.Int.
func Pow10(n uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// MulDiv computes x*y/d with the intermediate product kept exact.
// The quotient is truncated toward zero, matching the floor semantics used
// by all fee and slippage computations. Panics if d is zero; callers must
// validate divisors at their boundary.
func MulDiv(x, y, d *big.Int) *big.Int {
	num := new(big.Int).Mul(x, y)
	return num.Quo(num, d)
}

// ApplyPercent computes x*p/1e8 truncated toward zero.
func ApplyPercent(x *big.Int, p int64) *big.Int {
	return MulDiv(x, big.NewInt(p), Percentage)
}

// Sqrt returns the integer floor square root of n.
// The curve reserves derived from this value determine all downstream
// slippage, so the result must be exact over the full integer representation
// rather than a binary float approximation.
func Sqrt(n *big.Int) (*big.Int, error) {
	if n.Sign() < 0 {
		return nil, fmt.Errorf("sqrt of negative value %s: %w", n, ErrPrecision)
	}
	return new(big.Int).Sqrt(n), nil
}

// ConvertDecimals rescales value from one decimal scale to another using
// exact integer arithmetic. Scaling up multiplies by 10^(to-from); scaling
// down truncates toward zero. Negative scales are not representable.
func ConvertDecimals(value *big.Int, from, to int32) (*big.Int, error) {
	if from < 0 || to < 0 {
		return nil, fmt.Errorf("decimal scale out of range (from=%d, to=%d): %w", from, to, ErrPrecision)
	}
	if from == to {
		return new(big.Int).Set(value), nil
	}
	if to > from {
		return new(big.Int).Mul(value, Pow10(uint32(to-from))), nil
	}
	return new(big.Int).Quo(value, Pow10(uint32(from-to))), nil
}

// MinBig returns the smaller of a and b.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MaxBig returns the larger of a and b.
func MaxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
