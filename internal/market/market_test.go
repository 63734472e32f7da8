package market_test

import (
	"errors"
	"math/big"
	"testing"

	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
)

func TestDefaultPairConfigs_Valid(t *testing.T) {
	for idx, cfg := range market.DefaultPairConfigs() {
		if err := cfg.Pair.Validate(); err != nil {
			t.Errorf("pair %d: %v", idx, err)
		}
		if err := cfg.Trading.Validate(); err != nil {
			t.Errorf("pair %d trading: %v", idx, err)
		}
		if err := cfg.TradingFee.Validate(); err != nil {
			t.Errorf("pair %d fee: %v", idx, err)
		}
		if err := cfg.Funding.Validate(); err != nil {
			t.Errorf("pair %d funding: %v", idx, err)
		}
	}
}

func TestPairValidate_Rejects(t *testing.T) {
	base := market.DefaultPairConfigs()[0].Pair

	p := base
	p.KOfSwap = big.NewInt(0)
	if err := p.Validate(); !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Errorf("zero k: want ErrInvalidConfiguration, got %v", err)
	}

	p = base
	p.ExpectIndexTokenP = 100_000_000
	if err := p.Validate(); !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Errorf("100%% expect: want ErrInvalidConfiguration, got %v", err)
	}
}

func TestTradingFeeConfigValidate_DistributionOver100(t *testing.T) {
	cfg := market.TradingFeeConfig{
		TakerFeeP:             80_000,
		MakerFeeP:             50_000,
		LpFeeDistributeP:      60_000_000,
		KeeperFeeDistributeP:  30_000_000,
		StakingFeeDistributeP: 20_000_000,
	}
	if err := cfg.Validate(); !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Errorf("want ErrInvalidConfiguration, got %v", err)
	}
}

func TestFundingFeeConfigValidate_Interval(t *testing.T) {
	cfg := market.DefaultPairConfigs()[0].Funding

	cfg.FundingInterval = 100_000 // does not divide 86400
	if err := cfg.Validate(); !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Errorf("want ErrInvalidConfiguration, got %v", err)
	}

	cfg.FundingInterval = 3600
	if err := cfg.Validate(); err != nil {
		t.Errorf("1h interval should validate: %v", err)
	}
}

func TestVault_ReservedInvariant(t *testing.T) {
	pair := market.DefaultPairConfigs()[0].Pair
	v := market.NewVault(&pair)

	v.IndexTotalAmount = fpmath.MustParseAmount("10", 8)
	v.IndexReservedAmount = fpmath.MustParseAmount("11", 8)
	if err := v.Validate(); !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Errorf("reserved > total: want ErrInvalidConfiguration, got %v", err)
	}

	v.IndexReservedAmount = fpmath.MustParseAmount("4", 8)
	if err := v.Validate(); err != nil {
		t.Errorf("valid vault rejected: %v", err)
	}
	if got := v.IndexAvailable().String(); got != "6.00000000" {
		t.Errorf("available = %s, want 6.00000000", got)
	}
}

func TestSide(t *testing.T) {
	if market.SideLong.Sign() != 1 || market.SideShort.Sign() != -1 || market.SideFlat.Sign() != 0 {
		t.Error("side signs wrong")
	}
	if market.SideLong.Opposite() != market.SideShort {
		t.Error("opposite of long should be short")
	}
	if s, ok := market.ParseSide("short"); !ok || s != market.SideShort {
		t.Error("parse short failed")
	}
	if _, ok := market.ParseSide("sideways"); ok {
		t.Error("unknown side should not parse")
	}
}
