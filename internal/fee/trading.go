// Package fee computes trading fees and their distribution across the
// LP, keeper, staking, referral, and treasury buckets.
package fee

import (
	"fmt"
	"math/big"

	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
)

// VipDiscountP is the fee discount per VIP level, parts-per-1e8.
var VipDiscountP = [6]int64{0, 1_000_000, 2_000_000, 3_000_000, 4_000_000, 5_000_000}

// Distribution is one trading fee split into buckets. The referral amount
// is paid out of the treasury share, so the exact-total invariant is
//
//	UserTradingFee + TreasuryFee + LpAmount + KeeperAmount + StakingAmount == tradingFee
//
// with any integer remainder assigned to the treasury.
type Distribution struct {
	UserTradingFee fpmath.Amount // VIP rebate back to the trader
	TreasuryFee    fpmath.Amount
	ReferralAmount fpmath.Amount // informational; carved out of TreasuryFee
	LpAmount       fpmath.Amount
	KeeperAmount   fpmath.Amount
	StakingAmount  fpmath.Amount
}

// GetPositionTradingFee computes the fee for trading positionAmount
// (index units, canonical scale) at the 30-decimal price. Taker and maker
// roles follow the current net exposure: while net exposure is long-heavy
// (>= 0), longs amplify the imbalance and pay the taker rate while shorts
// reduce it and pay the maker rate; the roles invert when exposure is
// short-heavy. Returns a canonical stable value.
func GetPositionTradingFee(
	cfg *market.TradingFeeConfig,
	positionAmount fpmath.Amount,
	side market.Side,
	exposure fpmath.Amount, // signed long-short imbalance, index units
	price fpmath.Amount,
) (fpmath.Amount, error) {
	if err := cfg.Validate(); err != nil {
		return fpmath.Amount{}, err
	}
	if price.Sign() <= 0 {
		return fpmath.Amount{}, fmt.Errorf("price must be positive: %w", market.ErrInvalidConfiguration)
	}

	notional := fpmath.MulDiv(positionAmount.Abs().BigInt(), price.BigInt(), fpmath.PricePrecision)

	// A trade pointing the same way as the exposure amplifies the
	// imbalance and pays the taker rate; balanced books count as
	// long-heavy.
	rate := cfg.MakerFeeP
	if (exposure.Sign() >= 0) == (side.Sign() > 0) {
		rate = cfg.TakerFeeP
	}

	return fpmath.NewAmount(fpmath.ApplyPercent(notional, rate), fpmath.CanonicalDecimals), nil
}

// GetDistributeTradingFee splits a collected trading fee (canonical stable
// value) across the buckets. vipLevel indexes VipDiscountP (out-of-range
// levels clamp to the table bounds); referenceRate is the referrer's cut of
// the post-VIP surplus, parts-per-1e8, capped at 100%.
func GetDistributeTradingFee(
	cfg *market.TradingFeeConfig,
	tradingFee fpmath.Amount,
	vipLevel int32,
	referenceRate int64,
) (*Distribution, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tradingFee.Sign() < 0 {
		return nil, fmt.Errorf("trading fee must be non-negative: %w", market.ErrInvalidConfiguration)
	}

	if vipLevel < 0 {
		vipLevel = 0
	}
	if int(vipLevel) >= len(VipDiscountP) {
		vipLevel = int32(len(VipDiscountP) - 1)
	}

	feeB := tradingFee.BigInt()
	vipAmount := fpmath.ApplyPercent(feeB, VipDiscountP[vipLevel])
	surplus := new(big.Int).Sub(feeB, vipAmount)

	refRate := referenceRate
	if refRate < 0 {
		refRate = 0
	}
	if refRate > 100_000_000 {
		refRate = 100_000_000
	}
	referral := fpmath.ApplyPercent(surplus, refRate)

	lp := fpmath.ApplyPercent(surplus, cfg.LpFeeDistributeP)
	keeper := fpmath.ApplyPercent(surplus, cfg.KeeperFeeDistributeP)
	staking := fpmath.ApplyPercent(surplus, cfg.StakingFeeDistributeP)

	// Integer remainder lands in the treasury so no dust is lost.
	treasury := new(big.Int).Sub(surplus, lp)
	treasury.Sub(treasury, keeper)
	treasury.Sub(treasury, staking)

	dec := tradingFee.Decimals()
	return &Distribution{
		UserTradingFee: fpmath.NewAmount(vipAmount, dec),
		TreasuryFee:    fpmath.NewAmount(treasury, dec),
		ReferralAmount: fpmath.NewAmount(referral, dec),
		LpAmount:       fpmath.NewAmount(lp, dec),
		KeeperAmount:   fpmath.NewAmount(keeper, dec),
		StakingAmount:  fpmath.NewAmount(staking, dec),
	}, nil
}
