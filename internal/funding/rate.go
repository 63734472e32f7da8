// Package funding computes the periodic funding rate from long/short
// exposure imbalance and accumulates it into a per-pair tracker.
//
// Sign convention (pinned by tests): a negative rate means longs pay
// shorts; positive means shorts pay longs. The per-interval rate is the
// daily rate divided by 86400/fundingInterval.
package funding

import (
	"fmt"
	"math/big"

	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
)

const secondsPerDay = 86_400

// RateInput is the snapshot GetFundingRate computes over. Open interest
// and pool liquidity are index-asset quantities at the canonical scale.
type RateInput struct {
	LongOpenInterest   fpmath.Amount
	ShortOpenInterest  fpmath.Amount
	PoolIndexLiquidity fpmath.Amount
	Config             market.FundingFeeConfig
}

// GetFundingRate returns the signed per-interval funding rate in
// parts-per-1e8.
//
// With U = long OI, V = short OI, L = pool liquidity in index terms:
//
//	S  = |U-V| / (U+V)
//	G1 = min((S + S^2/2)*growthRate + baseRate, maxRate)
//	A  = ((U/(U+V) - 0.5) * max(U,V)/L) * 100
//	rate = sign(V-U) * (G1 + |G1*A/10|) / (86400/interval)
//
// The skew term A is deliberately not clamped by maxRate; its magnitude is
// bounded only by the exposure-to-liquidity ratio.
func GetFundingRate(in RateInput) (*big.Int, error) {
	if err := in.Config.Validate(); err != nil {
		return nil, err
	}
	u := in.LongOpenInterest.BigInt()
	v := in.ShortOpenInterest.BigInt()
	if u.Sign() < 0 || v.Sign() < 0 {
		return nil, fmt.Errorf("open interest must be non-negative: %w", market.ErrInvalidConfiguration)
	}

	intervals := big.NewInt(secondsPerDay / in.Config.FundingInterval)
	baseRate := big.NewInt(in.Config.MinFundingRate)
	maxRate := big.NewInt(in.Config.MaxFundingRate)

	// No directional skew: the base component alone, unsigned.
	if u.Cmp(v) == 0 {
		g1 := fpmath.MinBig(baseRate, maxRate)
		return new(big.Int).Quo(g1, intervals), nil
	}

	sum := new(big.Int).Add(u, v)

	// Imbalance magnitude S in parts-per-1e8.
	s := fpmath.MulDiv(new(big.Int).Sub(fpmath.MaxBig(u, v), fpmath.MinBig(u, v)), fpmath.Percentage, sum)

	// G1 = min((S + S^2/2)*growthRate + baseRate, maxRate).
	curve := new(big.Int).Mul(s, s)
	curve.Quo(curve, new(big.Int).Lsh(fpmath.Percentage, 1)) // S^2 / (2*1e8)
	curve.Add(curve, s)
	g1 := fpmath.MulDiv(curve, big.NewInt(in.Config.FundingWeightFactor), fpmath.Percentage)
	g1.Add(g1, baseRate)
	g1 = fpmath.MinBig(g1, maxRate)

	// Skew premium A, parts-per-1e8 of percentage-points.
	a := new(big.Int)
	l := in.PoolIndexLiquidity.BigInt()
	if l.Sign() > 0 {
		skew := fpmath.MulDiv(u, fpmath.Percentage, sum)
		skew.Sub(skew, new(big.Int).Rsh(fpmath.Percentage, 1)) // U/(U+V) - 0.5
		a = fpmath.MulDiv(skew, fpmath.MaxBig(u, v), l)
		a.Mul(a, big.NewInt(100))
	}

	// rate magnitude = G1 + |G1*A/10|, then per-interval normalization.
	premium := new(big.Int).Mul(g1, new(big.Int).Abs(a))
	premium.Quo(premium, new(big.Int).Mul(big.NewInt(10), fpmath.Percentage))

	rate := new(big.Int).Add(g1, premium)
	rate.Quo(rate, intervals)

	// Longs dominant: longs pay, rate is negative.
	if u.Cmp(v) > 0 {
		rate.Neg(rate)
	}
	return rate, nil
}

// PoolIndexLiquidity converts a vault snapshot into total liquidity
// expressed in index-asset terms at the canonical scale: the index reserve
// plus the stable reserve valued at the current price.
func PoolIndexLiquidity(vault *market.Vault, price fpmath.Amount) fpmath.Amount {
	stableAsIndex := fpmath.MulDiv(
		vault.StableTotalAmount.Canonical().BigInt(),
		fpmath.PricePrecision,
		price.BigInt(),
	)
	total := new(big.Int).Add(vault.IndexTotalAmount.Canonical().BigInt(), stableAsIndex)
	return fpmath.NewAmount(total, fpmath.CanonicalDecimals)
}
