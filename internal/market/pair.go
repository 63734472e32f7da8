package market

import (
	"errors"
	"fmt"
	"math/big"

	fpmath "PerpPool/internal/math"
)

// ErrInvalidConfiguration is returned when a pair or fee configuration is
// internally inconsistent (percentages over 100%, non-positive curve
// constant, and so on).
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Token identifies an asset and its native decimal scale.
type Token struct {
	Symbol   string
	Decimals uint32
}

// Pair is the static configuration for one index/stable combination.
// Rates are parts-per-1e8; KOfSwap is the constant-product curve constant
// over canonical-scale reserves. Immutable except via config-update events.
type Pair struct {
	PairIndex   uint32
	IndexToken  Token
	StableToken Token
	LpToken     Token

	AddLpFeeP              int64    // liquidity deposit/withdrawal fee rate
	KOfSwap                *big.Int // curve constant for rebalancing slippage
	ExpectIndexTokenP      int64    // target index share of pool value
	MaxUnbalancedP         int64    // tolerance band before discount applies
	UnbalancedDiscountRate int64
	Enable                 bool
}

// TradingConfig bounds position sizing and margin safety per pair.
type TradingConfig struct {
	MinLeverage        int64
	MaxLeverage        int64
	MinTradeAmount     fpmath.Amount // index token, native scale
	MaxTradeAmount     fpmath.Amount
	MaintainMarginRate int64 // parts-per-1e8
	PriceSlipP         int64
	MaxPriceDeviationP int64
}

// TradingFeeConfig sets taker/maker rates and how collected fees are
// distributed. Distribution shares must sum to at most 100%; the remainder
// after lp/keeper/staking is the treasury (and referral) share.
type TradingFeeConfig struct {
	TakerFeeP             int64
	MakerFeeP             int64
	LpFeeDistributeP      int64
	KeeperFeeDistributeP  int64
	StakingFeeDistributeP int64
}

// FundingFeeConfig parameterizes the funding rate formula.
// MinFundingRate is the base rate r, MaxFundingRate caps the base component
// G1, FundingWeightFactor is the imbalance growth rate k. Interval is
// seconds between settlements and must divide a day evenly.
type FundingFeeConfig struct {
	MinFundingRate         int64
	MaxFundingRate         int64
	FundingWeightFactor    int64
	FundingInterval        int64
	LiquidityPremiumFactor int64
	Interest               int64
}

const secondsPerDay = 86_400

// Validate checks internal consistency of the pair configuration.
func (p *Pair) Validate() error {
	if p.IndexToken.Symbol == "" || p.StableToken.Symbol == "" {
		return fmt.Errorf("pair %d: missing token identity: %w", p.PairIndex, ErrInvalidConfiguration)
	}
	if p.KOfSwap == nil || p.KOfSwap.Sign() <= 0 {
		return fmt.Errorf("pair %d: kOfSwap must be positive: %w", p.PairIndex, ErrInvalidConfiguration)
	}
	if p.AddLpFeeP < 0 || p.AddLpFeeP >= 100_000_000 {
		return fmt.Errorf("pair %d: addLpFeeP out of range: %w", p.PairIndex, ErrInvalidConfiguration)
	}
	if p.ExpectIndexTokenP <= 0 || p.ExpectIndexTokenP >= 100_000_000 {
		return fmt.Errorf("pair %d: expectIndexTokenP must be in (0, 100%%): %w", p.PairIndex, ErrInvalidConfiguration)
	}
	if p.MaxUnbalancedP < 0 || p.UnbalancedDiscountRate < 0 || p.UnbalancedDiscountRate >= 100_000_000 {
		return fmt.Errorf("pair %d: unbalance parameters out of range: %w", p.PairIndex, ErrInvalidConfiguration)
	}
	return nil
}

// Validate checks leverage and margin bounds.
func (c *TradingConfig) Validate() error {
	if c.MinLeverage <= 0 || c.MaxLeverage < c.MinLeverage {
		return fmt.Errorf("leverage bounds (%d, %d) invalid: %w", c.MinLeverage, c.MaxLeverage, ErrInvalidConfiguration)
	}
	if c.MaintainMarginRate <= 0 || c.MaintainMarginRate >= 100_000_000 {
		return fmt.Errorf("maintainMarginRate %d out of range: %w", c.MaintainMarginRate, ErrInvalidConfiguration)
	}
	return nil
}

// Validate checks fee rates and that the distribution shares sum to <= 100%.
func (c *TradingFeeConfig) Validate() error {
	for _, p := range []int64{c.TakerFeeP, c.MakerFeeP, c.LpFeeDistributeP, c.KeeperFeeDistributeP, c.StakingFeeDistributeP} {
		if p < 0 || p > 100_000_000 {
			return fmt.Errorf("fee rate %d out of range: %w", p, ErrInvalidConfiguration)
		}
	}
	sum := c.LpFeeDistributeP + c.KeeperFeeDistributeP + c.StakingFeeDistributeP
	if sum > 100_000_000 {
		return fmt.Errorf("distribution shares sum to %d > 100%%: %w", sum, ErrInvalidConfiguration)
	}
	return nil
}

// Validate checks funding rate bounds and that the interval divides a day.
func (c *FundingFeeConfig) Validate() error {
	if c.MinFundingRate < 0 || c.MaxFundingRate < c.MinFundingRate {
		return fmt.Errorf("funding rate bounds (%d, %d) invalid: %w", c.MinFundingRate, c.MaxFundingRate, ErrInvalidConfiguration)
	}
	if c.FundingWeightFactor < 0 {
		return fmt.Errorf("fundingWeightFactor must be >= 0: %w", ErrInvalidConfiguration)
	}
	if c.FundingInterval <= 0 || secondsPerDay%c.FundingInterval != 0 {
		return fmt.Errorf("fundingInterval %d must evenly divide 86400: %w", c.FundingInterval, ErrInvalidConfiguration)
	}
	return nil
}
