// Package risk evaluates position health and accounts for the
// protocol reserve that absorbs liquidation surpluses and deficits.
package risk

import (
	"fmt"

	fpmath "PerpPool/internal/math"
	"PerpPool/internal/market"
)

// Input is a snapshot of one position plus the fees accrued against
// it. Monetary fields are canonical 18-decimal stable amounts except
// PositionAmount (canonical index units) and the two prices
// (30-decimal). FundingFee is signed: positive means the position
// receives, negative means it pays.
type Input struct {
	Side           market.Side
	Collateral     fpmath.Amount
	PositionAmount fpmath.Amount
	AveragePrice   fpmath.Amount
	CurrentPrice   fpmath.Amount
	FundingFee     fpmath.Amount
	TradingFee     fpmath.Amount

	// MaintainMarginRate is parts-per-1e8 of the entry notional.
	MaintainMarginRate int64
}

// Result carries the derived health metrics. Evaluation is pure:
// the same Input always yields the same Result.
type Result struct {
	Pnl            fpmath.Amount
	NetAsset       fpmath.Amount
	MaintainMargin fpmath.Amount
	// NeedLiquidation is set when net asset is negative or the
	// maintenance margin exceeds it.
	NeedLiquidation bool
}

// EvaluatePosition computes unrealized PnL, net asset value, and the
// liquidation decision for a position at the given price.
func EvaluatePosition(in Input) (*Result, error) {
	if in.Side != market.SideLong && in.Side != market.SideShort {
		return nil, fmt.Errorf("evaluate: invalid side %s", in.Side)
	}
	if in.PositionAmount.Sign() <= 0 {
		return nil, fmt.Errorf("evaluate: position amount must be positive")
	}
	if in.AveragePrice.Decimals() != fpmath.PriceDecimals ||
		in.CurrentPrice.Decimals() != fpmath.PriceDecimals {
		return nil, fmt.Errorf("evaluate: prices must be %d-decimal", fpmath.PriceDecimals)
	}
	if in.AveragePrice.Sign() <= 0 || in.CurrentPrice.Sign() <= 0 {
		return nil, fmt.Errorf("evaluate: prices must be positive")
	}
	if in.TradingFee.Sign() < 0 {
		return nil, fmt.Errorf("evaluate: trading fee must not be negative")
	}
	if in.MaintainMarginRate <= 0 || in.MaintainMarginRate >= fpmath.Percentage.Int64() {
		return nil, fmt.Errorf("maintain margin rate %d out of range: %w",
			in.MaintainMarginRate, market.ErrInvalidConfiguration)
	}

	// Long gains when price rises, short when it falls.
	diff := in.CurrentPrice.Sub(in.AveragePrice)
	if in.Side == market.SideShort {
		diff = diff.Neg()
	}
	pnl := in.PositionAmount.MulRat(diff.BigInt(), fpmath.PricePrecision)

	netAsset := in.Collateral.
		Add(pnl).
		Add(in.FundingFee.Canonical()).
		Sub(in.TradingFee.Canonical())

	maintainMargin := in.PositionAmount.
		MulRat(in.AveragePrice.BigInt(), fpmath.PricePrecision).
		ApplyRate(in.MaintainMarginRate)

	return &Result{
		Pnl:             pnl,
		NetAsset:        netAsset,
		MaintainMargin:  maintainMargin,
		NeedLiquidation: netAsset.Sign() < 0 || maintainMargin.Cmp(netAsset) > 0,
	}, nil
}

// LiquidationOutcome settles a liquidated position. The trader is
// paid nothing; whatever net asset remains, positive or negative,
// flows into the protocol reserve.
type LiquidationOutcome struct {
	ReserveDelta fpmath.Amount
	PayToTrader  fpmath.Amount
}

// Liquidate derives the settlement for a position flagged by
// EvaluatePosition.
func Liquidate(res *Result) *LiquidationOutcome {
	return &LiquidationOutcome{
		ReserveDelta: res.NetAsset,
		PayToTrader:  fpmath.Zero(fpmath.CanonicalDecimals),
	}
}
