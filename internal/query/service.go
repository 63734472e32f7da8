package query

import (
	"context"
	"database/sql"
	"fmt"

	"PerpPool/internal/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QueryService provides read-only access to the projection tables.
// Queries are served over HTTP/JSON from PostgreSQL; every response
// carries as_of_sequence so callers can reason about freshness.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetPositions returns all open positions for an account, with
// unrealized PnL derived against the latest projected oracle price.
func (qs *QueryService) GetPositions(ctx context.Context, account uuid.UUID) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT p.pair_index, p.side, p.collateral, p.position_amount, p.average_price,
		       p.version, COALESCE(pr.price, 0), COALESCE(c.maintain_margin_rate, -1)
		FROM projections.positions p
		LEFT JOIN projections.prices pr ON pr.pair_index = p.pair_index
		LEFT JOIN projections.pair_configs c ON c.pair_index = p.pair_index
		WHERE p.account = $1 AND p.position_amount > 0
		ORDER BY p.pair_index
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		var pairIdx, marginRate int64
		var markPrice decimal.Decimal
		p.Account = account
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&pairIdx, &p.Side, &p.Collateral, &p.PositionAmount, &p.AveragePrice,
			&p.Version, &markPrice, &marginRate,
		); err != nil {
			return nil, err
		}
		p.PairIndex = uint32(pairIdx)
		p.UnrealizedPnl = unrealizedPnl(p.Side, p.PositionAmount, p.AveragePrice, markPrice)
		applyRisk(&p, markPrice, maintainMarginRate(p.PairIndex, marginRate))
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetVault returns the pool vault for a pair.
func (qs *QueryService) GetVault(ctx context.Context, pairIndex uint32) (*VaultResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	v := &VaultResponse{PairIndex: pairIndex, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT index_total, stable_total, index_reserved, stable_reserved, lp_total_supply
		FROM projections.vaults
		WHERE pair_index = $1
	`, int64(pairIndex)).Scan(
		&v.IndexTotal, &v.StableTotal, &v.IndexReserved, &v.StableReserved, &v.LpTotalSupply,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("vault for pair %d not found", pairIndex)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetLpBalances returns an account's LP holdings across pairs.
func (qs *QueryService) GetLpBalances(ctx context.Context, account uuid.UUID) ([]LpBalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT pair_index, balance
		FROM projections.lp_balances
		WHERE account = $1 AND balance != 0
		ORDER BY pair_index
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []LpBalanceResponse
	for rows.Next() {
		var b LpBalanceResponse
		var pairIdx int64
		b.Account = account
		b.AsOfSequence = asOfSeq
		if err := rows.Scan(&pairIdx, &b.Balance); err != nil {
			return nil, err
		}
		b.PairIndex = uint32(pairIdx)
		balances = append(balances, b)
	}

	return balances, rows.Err()
}

// GetFundingHistory returns settled funding epochs for a pair, newest
// first, with cursor-based pagination on epoch_id.
func (qs *QueryService) GetFundingHistory(
	ctx context.Context,
	pairIndex uint32,
	limit int,
	beforeEpoch *int64,
) ([]FundingHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT pair_index, epoch_id, funding_rate, tracker, price, sequence, created_at
		FROM projections.funding_history
		WHERE pair_index = $1
	`
	args := []interface{}{int64(pairIndex)}
	argIdx := 2

	if beforeEpoch != nil {
		query += fmt.Sprintf(" AND epoch_id < $%d", argIdx)
		args = append(args, *beforeEpoch)
		argIdx++
	}

	query += " ORDER BY epoch_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []FundingHistoryResponse
	for rows.Next() {
		var h FundingHistoryResponse
		var pairIdx int64
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&pairIdx, &h.EpochID, &h.FundingRate, &h.Tracker, &h.Price,
			&h.Sequence, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		h.PairIndex = uint32(pairIdx)
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetTradeHistory returns an account's fills, newest first, with
// cursor-based pagination on sequence.
func (qs *QueryService) GetTradeHistory(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]TradeHistoryResponse, error) {
	query := `
		SELECT trade_id, sequence, pair_index, side, amount_delta, collateral_delta,
		       price, trading_fee, funding_fee, realized_pnl, payout, closed, timestamp
		FROM event_log.trades
		WHERE account = $1
	`
	args := []interface{}{account}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeHistoryResponse
	for rows.Next() {
		var t TradeHistoryResponse
		var pairIdx int64
		t.Account = account
		if err := rows.Scan(
			&t.TradeID, &t.Sequence, &pairIdx, &t.Side, &t.AmountDelta,
			&t.CollateralDelta, &t.Price, &t.TradingFee, &t.FundingFee,
			&t.RealizedPnl, &t.Payout, &t.Closed, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		t.PairIndex = uint32(pairIdx)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// GetLiquidations returns an account's liquidations, newest first.
func (qs *QueryService) GetLiquidations(ctx context.Context, account uuid.UUID, limit int) ([]LiquidationResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT liquidation_id, sequence, pair_index, side, amount, price, net_asset, funding_fee, trading_fee, timestamp
		FROM event_log.liquidations
		WHERE account = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LiquidationResponse
	for rows.Next() {
		var r LiquidationResponse
		var pairIdx int64
		r.Account = account
		if err := rows.Scan(
			&r.LiquidationID, &r.Sequence, &pairIdx, &r.Side, &r.Amount,
			&r.Price, &r.NetAsset, &r.FundingFee, &r.TradingFee, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		r.PairIndex = uint32(pairIdx)
		results = append(results, r)
	}

	return results, rows.Err()
}

// GetReserveBalances returns the risk reserve balance of every asset.
func (qs *QueryService) GetReserveBalances(ctx context.Context) ([]ReserveResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT asset, balance FROM projections.reserve ORDER BY asset
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ReserveResponse
	for rows.Next() {
		var r ReserveResponse
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(&r.Asset, &r.Balance); err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// GetPrice returns the latest accepted oracle price for a pair.
func (qs *QueryService) GetPrice(ctx context.Context, pairIndex uint32) (*PriceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	p := &PriceResponse{PairIndex: pairIndex, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT price, price_sequence FROM projections.prices WHERE pair_index = $1
	`, int64(pairIndex)).Scan(&p.Price, &p.PriceSequence)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no price for pair %d", pairIndex)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity over the event log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermarks WHERE projection = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// unrealizedPnl derives mark-to-market PnL from the projected price.
// A zero mark price (no tick yet) yields zero PnL.
func unrealizedPnl(side string, amount, avgPrice, markPrice decimal.Decimal) decimal.Decimal {
	if markPrice.IsZero() {
		return decimal.Zero
	}
	diff := markPrice.Sub(avgPrice)
	if side == "Short" {
		diff = diff.Neg()
	}
	return amount.Mul(diff)
}

// maintainMarginRate resolves a pair's maintenance margin rate. A
// negative projected value means no governance config was applied yet,
// so it falls back to the compiled-in defaults.
func maintainMarginRate(pairIndex uint32, projected int64) int64 {
	if projected >= 0 {
		return projected
	}
	if cfg, ok := market.DefaultPairConfigs()[pairIndex]; ok {
		return cfg.Trading.MaintainMarginRate
	}
	return 0
}

// applyRisk fills the derived risk fields of a position. The margin
// rate is parts-per-1e8 of the mark-price notional.
func applyRisk(p *PositionResponse, markPrice decimal.Decimal, marginRate int64) {
	if markPrice.IsZero() || marginRate <= 0 {
		return
	}
	notional := p.PositionAmount.Mul(markPrice).Abs()
	p.MaintenanceMargin = notional.Mul(decimal.New(marginRate, -8))
	p.NetAsset = p.Collateral.Add(p.UnrealizedPnl)
	p.Liquidatable = p.NetAsset.LessThan(p.MaintenanceMargin)
}
