package projection

import (
	"context"
	"database/sql"
	"time"

	"PerpPool/internal/core"
)

// FundingHistoryEntry is one settled funding epoch as served to queries.
type FundingHistoryEntry struct {
	PairIndex   uint32
	EpochID     int64
	FundingRate int64  // per-interval, parts-per-1e8; negative = longs pay
	Tracker     string // cumulative tracker after settlement
	Price       string
	Sequence    int64
	CreatedAt   time.Time
}

func insertFundingHistory(ctx context.Context, tx *sql.Tx, seq int64, ts time.Time, eff *core.FundingEffect) error {
	var rate int64
	if eff.Rate.IsInt64() {
		rate = eff.Rate.Int64()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.funding_history
			(pair_index, epoch_id, funding_rate, tracker, price, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pair_index, epoch_id) DO NOTHING
	`, int64(eff.PairIndex), eff.Epoch, rate, eff.Tracker.String(), eff.Price.String(), seq, ts)
	return err
}

// QueryFundingHistory returns settled epochs for a pair, newest first.
func QueryFundingHistory(ctx context.Context, db *sql.DB, pairIndex uint32, limit int) ([]FundingHistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT pair_index, epoch_id, funding_rate, tracker, price, sequence, created_at
		FROM projections.funding_history
		WHERE pair_index = $1
		ORDER BY epoch_id DESC
		LIMIT $2
	`, int64(pairIndex), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []FundingHistoryEntry
	for rows.Next() {
		var e FundingHistoryEntry
		var pair int64
		if err := rows.Scan(&pair, &e.EpochID, &e.FundingRate, &e.Tracker, &e.Price, &e.Sequence, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.PairIndex = uint32(pair)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
