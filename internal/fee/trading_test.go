package fee_test

import (
	"math/big"
	"testing"

	"PerpPool/internal/fee"
	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
)

func feeConfig() *market.TradingFeeConfig {
	return &market.TradingFeeConfig{
		TakerFeeP:             80_000, // 0.08%
		MakerFeeP:             50_000, // 0.05%
		LpFeeDistributeP:      30_000_000,
		KeeperFeeDistributeP:  10_000_000,
		StakingFeeDistributeP: 10_000_000,
	}
}

func canonical(units int64) fpmath.Amount {
	return fpmath.NewAmount(
		new(big.Int).Mul(big.NewInt(units), fpmath.Pow10(fpmath.CanonicalDecimals)),
		fpmath.CanonicalDecimals,
	)
}

func price30(p int64) fpmath.Amount {
	return fpmath.NewAmount(new(big.Int).Mul(big.NewInt(p), fpmath.PricePrecision), fpmath.PriceDecimals)
}

func TestGetPositionTradingFee_TakerMakerByExposure(t *testing.T) {
	cfg := feeConfig()
	size := canonical(1) // 1 index unit
	price := price30(30000)

	// Long-heavy book: longs are takers.
	longHeavy := canonical(10)
	longFee, err := fee.GetPositionTradingFee(cfg, size, market.SideLong, longHeavy, price)
	if err != nil {
		t.Fatalf("long fee: %v", err)
	}
	if longFee.String() != "24.000000000000000000" { // 30000 * 0.08%
		t.Errorf("long taker fee = %s, want 24", longFee)
	}

	shortFee, err := fee.GetPositionTradingFee(cfg, size, market.SideShort, longHeavy, price)
	if err != nil {
		t.Fatalf("short fee: %v", err)
	}
	if shortFee.String() != "15.000000000000000000" { // 30000 * 0.05%
		t.Errorf("short maker fee = %s, want 15", shortFee)
	}

	// Short-heavy book: roles invert.
	shortHeavy := canonical(-10)
	longFee, _ = fee.GetPositionTradingFee(cfg, size, market.SideLong, shortHeavy, price)
	shortFee, _ = fee.GetPositionTradingFee(cfg, size, market.SideShort, shortHeavy, price)
	if longFee.String() != "15.000000000000000000" {
		t.Errorf("inverted long fee = %s, want 15", longFee)
	}
	if shortFee.String() != "24.000000000000000000" {
		t.Errorf("inverted short fee = %s, want 24", shortFee)
	}

	// A balanced book counts as long-heavy: longs pay taker, shorts maker.
	flat := canonical(0)
	longFee, _ = fee.GetPositionTradingFee(cfg, size, market.SideLong, flat, price)
	shortFee, _ = fee.GetPositionTradingFee(cfg, size, market.SideShort, flat, price)
	if longFee.String() != "24.000000000000000000" {
		t.Errorf("balanced long fee = %s, want 24", longFee)
	}
	if shortFee.String() != "15.000000000000000000" {
		t.Errorf("balanced short fee = %s, want 15", shortFee)
	}
}

func TestGetDistributeTradingFee_ExactTotal(t *testing.T) {
	cfg := feeConfig()
	tradingFee := fpmath.NewAmountFromInt64(10_000, fpmath.CanonicalDecimals)

	d, err := fee.GetDistributeTradingFee(cfg, tradingFee, 0, 0)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}

	// vipLevel 0: no rebate; lp 30%, keeper 10%, staking 10%, treasury 50%.
	if d.UserTradingFee.Sign() != 0 {
		t.Errorf("userTradingFee = %s, want 0", d.UserTradingFee)
	}
	if d.LpAmount.BigInt().Int64() != 3_000 {
		t.Errorf("lp = %s, want 3000", d.LpAmount.BigInt())
	}
	if d.KeeperAmount.BigInt().Int64() != 1_000 {
		t.Errorf("keeper = %s, want 1000", d.KeeperAmount.BigInt())
	}
	if d.StakingAmount.BigInt().Int64() != 1_000 {
		t.Errorf("staking = %s, want 1000", d.StakingAmount.BigInt())
	}
	if d.TreasuryFee.BigInt().Int64() != 5_000 {
		t.Errorf("treasury = %s, want 5000", d.TreasuryFee.BigInt())
	}

	assertExactTotal(t, d, tradingFee)
}

func TestGetDistributeTradingFee_VipAndReferral(t *testing.T) {
	cfg := feeConfig()
	tradingFee := fpmath.NewAmountFromInt64(100_000_000, fpmath.CanonicalDecimals)

	d, err := fee.GetDistributeTradingFee(cfg, tradingFee, 3, 10_000_000) // 3% VIP, 10% referral
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}

	// VIP rebate 3% = 3e6; surplus 97e6.
	if d.UserTradingFee.BigInt().Int64() != 3_000_000 {
		t.Errorf("vip rebate = %s, want 3000000", d.UserTradingFee.BigInt())
	}
	if d.ReferralAmount.BigInt().Int64() != 9_700_000 {
		t.Errorf("referral = %s, want 9700000", d.ReferralAmount.BigInt())
	}
	if d.ReferralAmount.Cmp(d.TreasuryFee) > 0 {
		t.Error("referral cut must fit inside the treasury share")
	}

	assertExactTotal(t, d, tradingFee)
}

func TestGetDistributeTradingFee_RemainderToTreasury(t *testing.T) {
	cfg := feeConfig()
	// A fee that does not divide evenly across the percentage buckets.
	tradingFee := fpmath.NewAmountFromInt64(7, fpmath.CanonicalDecimals)

	d, err := fee.GetDistributeTradingFee(cfg, tradingFee, 1, 0)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	assertExactTotal(t, d, tradingFee)
}

func TestGetDistributeTradingFee_LevelClamp(t *testing.T) {
	cfg := feeConfig()
	tradingFee := fpmath.NewAmountFromInt64(100_000_000, fpmath.CanonicalDecimals)

	low, _ := fee.GetDistributeTradingFee(cfg, tradingFee, -5, 0)
	if low.UserTradingFee.Sign() != 0 {
		t.Error("negative level should clamp to no discount")
	}
	high, _ := fee.GetDistributeTradingFee(cfg, tradingFee, 99, 0)
	if high.UserTradingFee.BigInt().Int64() != 5_000_000 {
		t.Errorf("over-range level should clamp to 5%%, got %s", high.UserTradingFee.BigInt())
	}
}

func TestGetDistributeTradingFee_RejectsNegativeFee(t *testing.T) {
	_, err := fee.GetDistributeTradingFee(feeConfig(), canonical(-1), 0, 0)
	if err == nil {
		t.Fatal("negative fee should be rejected")
	}
}

func assertExactTotal(t *testing.T, d *fee.Distribution, tradingFee fpmath.Amount) {
	t.Helper()
	total := d.UserTradingFee.
		Add(d.TreasuryFee).
		Add(d.LpAmount).
		Add(d.KeeperAmount).
		Add(d.StakingAmount)
	if total.Cmp(tradingFee) != 0 {
		t.Errorf("fee split total %s != trading fee %s", total, tradingFee)
	}
}
