// Package amm models a hypothetical constant-product reserve
// reserveA*reserveB = k. The curve is not a tradable pool: it prices the
// cost of rebalancing a liquidity deposit between the index and stable
// sides of a vault.
package amm

import (
	"errors"
	"fmt"
	"math/big"

	fpmath "PerpPool/internal/math"
)

// ErrInvalidCurve is returned for non-positive curve constants, prices,
// or reserves.
var ErrInvalidCurve = errors.New("invalid curve parameters")

// GetReserves derives the virtual reserves implied by the curve constant k
// and the current 30-decimal index price. With reserves at the canonical
// 18-decimal scale:
//
//	reserveB = isqrt(k * price / 1e30)   (stable side)
//	reserveA = k / reserveB              (index side)
//
// so that reserveA*price/1e30 == reserveB, i.e. the virtual pool is
// balanced in value at the current price.
func GetReserves(k, price *big.Int) (reserveA, reserveB *big.Int, err error) {
	if k == nil || k.Sign() <= 0 {
		return nil, nil, fmt.Errorf("curve constant must be positive: %w", ErrInvalidCurve)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, nil, fmt.Errorf("price must be positive: %w", ErrInvalidCurve)
	}

	reserveB, err = fpmath.Sqrt(fpmath.MulDiv(k, price, fpmath.PricePrecision))
	if err != nil {
		return nil, nil, err
	}
	if reserveB.Sign() == 0 {
		return nil, nil, fmt.Errorf("curve constant too small for price: %w", ErrInvalidCurve)
	}
	reserveA = new(big.Int).Quo(k, reserveB)
	return reserveA, reserveB, nil
}

// GetAmountOut computes the constant-product swap output
//
//	amountOut = amountIn * reserveB / (amountIn + reserveA)
//
// with no trading fee applied (fees are charged separately by the
// liquidity accounting). The output is monotonic increasing in amountIn
// and asymptotically bounded by reserveB.
func GetAmountOut(amountIn, reserveA, reserveB *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, fmt.Errorf("amountIn must be non-negative: %w", ErrInvalidCurve)
	}
	if reserveA == nil || reserveA.Sign() <= 0 || reserveB == nil || reserveB.Sign() <= 0 {
		return nil, fmt.Errorf("reserves must be positive: %w", ErrInvalidCurve)
	}
	denom := new(big.Int).Add(amountIn, reserveA)
	return fpmath.MulDiv(amountIn, reserveB, denom), nil
}
