package market

import (
	"fmt"
	"math/big"

	fpmath "PerpPool/internal/math"
)

// PairConfig bundles a pair with its trading, fee, and funding parameters.
type PairConfig struct {
	Pair       Pair
	Trading    TradingConfig
	TradingFee TradingFeeConfig
	Funding    FundingFeeConfig
}

// DefaultPairConfigs holds the bootstrap configuration. Production values
// arrive via PairConfigUpdate events from governance.
func DefaultPairConfigs() map[uint32]*PairConfig {
	// Curve constant for the BTC/USDT pair: virtual reserves of 1000 BTC
	// and 30M USDT at canonical scale.
	k := new(big.Int).Mul(
		new(big.Int).Mul(big.NewInt(1000), fpmath.Pow10(fpmath.CanonicalDecimals)),
		new(big.Int).Mul(big.NewInt(30_000_000), fpmath.Pow10(fpmath.CanonicalDecimals)),
	)

	return map[uint32]*PairConfig{
		0: {
			Pair: Pair{
				PairIndex:              0,
				IndexToken:             Token{Symbol: "BTC", Decimals: 8},
				StableToken:            Token{Symbol: "USDT", Decimals: 6},
				LpToken:                Token{Symbol: "LP-BTC-USDT", Decimals: 18},
				AddLpFeeP:              100_000, // 0.1%
				KOfSwap:                k,
				ExpectIndexTokenP:      50_000_000, // 50%
				MaxUnbalancedP:         10_000_000, // 10%
				UnbalancedDiscountRate: 1_000_000,  // 1%
				Enable:                 true,
			},
			Trading: TradingConfig{
				MinLeverage:        1,
				MaxLeverage:        100,
				MinTradeAmount:     fpmath.MustParseAmount("0.001", 8),
				MaxTradeAmount:     fpmath.MustParseAmount("100", 8),
				MaintainMarginRate: 1_000_000, // 1%
				PriceSlipP:         100_000,
				MaxPriceDeviationP: 5_000_000,
			},
			TradingFee: TradingFeeConfig{
				TakerFeeP:             80_000, // 0.08%
				MakerFeeP:             50_000, // 0.05%
				LpFeeDistributeP:      30_000_000,
				KeeperFeeDistributeP:  10_000_000,
				StakingFeeDistributeP: 10_000_000,
			},
			Funding: FundingFeeConfig{
				MinFundingRate:         100,
				MaxFundingRate:         10_000,
				FundingWeightFactor:    100,
				FundingInterval:        28_800, // 8h
				LiquidityPremiumFactor: 10_000,
				Interest:               0,
			},
		},
	}
}

// PairManager owns the authoritative pair configuration store.
type PairManager struct {
	configs map[uint32]*PairConfig
}

func NewPairManager() *PairManager {
	return &PairManager{configs: DefaultPairConfigs()}
}

// Get returns the configuration for a pair.
func (pm *PairManager) Get(pairIndex uint32) (*PairConfig, bool) {
	cfg, ok := pm.configs[pairIndex]
	return cfg, ok
}

// All returns every configured pair index.
func (pm *PairManager) All() []uint32 {
	out := make([]uint32, 0, len(pm.configs))
	for idx := range pm.configs {
		out = append(out, idx)
	}
	return out
}

// Update validates and replaces a pair configuration.
func (pm *PairManager) Update(cfg *PairConfig) error {
	if err := cfg.Pair.Validate(); err != nil {
		return fmt.Errorf("pair %d: %w", cfg.Pair.PairIndex, err)
	}
	if err := cfg.Trading.Validate(); err != nil {
		return fmt.Errorf("pair %d trading config: %w", cfg.Pair.PairIndex, err)
	}
	if err := cfg.TradingFee.Validate(); err != nil {
		return fmt.Errorf("pair %d fee config: %w", cfg.Pair.PairIndex, err)
	}
	if err := cfg.Funding.Validate(); err != nil {
		return fmt.Errorf("pair %d funding config: %w", cfg.Pair.PairIndex, err)
	}
	pm.configs[cfg.Pair.PairIndex] = cfg
	return nil
}
