package query

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountSummary aggregates an account's exposure across the pool.
type AccountSummary struct {
	Account uuid.UUID `json:"account"`

	// Position-level
	OpenPositions   int             `json:"open_positions"`
	TotalCollateral decimal.Decimal `json:"total_collateral"`
	TotalNotional   decimal.Decimal `json:"total_notional"` // at mark price
	UnrealizedPnl   decimal.Decimal `json:"unrealized_pnl"`

	// Liquidity-level
	LpBalances []LpBalanceResponse `json:"lp_balances,omitempty"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// GetAccountSummary combines an account's positions and LP holdings
// into one response. Derived values are computed at query time against
// the latest projected prices.
func (qs *QueryService) GetAccountSummary(ctx context.Context, account uuid.UUID) (*AccountSummary, error) {
	positions, err := qs.GetPositions(ctx, account)
	if err != nil {
		return nil, err
	}
	lpBalances, err := qs.GetLpBalances(ctx, account)
	if err != nil {
		return nil, err
	}

	summary := &AccountSummary{
		Account:         account,
		OpenPositions:   len(positions),
		TotalCollateral: decimal.Zero,
		TotalNotional:   decimal.Zero,
		UnrealizedPnl:   decimal.Zero,
		LpBalances:      lpBalances,
	}

	for _, p := range positions {
		summary.TotalCollateral = summary.TotalCollateral.Add(p.Collateral)
		summary.TotalNotional = summary.TotalNotional.Add(p.PositionAmount.Mul(p.AveragePrice).Abs())
		summary.UnrealizedPnl = summary.UnrealizedPnl.Add(p.UnrealizedPnl)
		summary.AsOfSequence = p.AsOfSequence
	}
	if summary.AsOfSequence == 0 && len(lpBalances) > 0 {
		summary.AsOfSequence = lpBalances[0].AsOfSequence
	}

	return summary, nil
}
