package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventLogWriter writes events and trade history to Postgres using batch
// inserts. Multi-row INSERT is used as a portable alternative to the COPY
// protocol; switch to pgx CopyFrom if write throughput becomes the bottleneck.
type EventLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	PairIndex      sql.NullInt64
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// TradeRow represents a row in event_log.trades. One row per position
// open, increase, decrease, or close.
type TradeRow struct {
	TradeID         uuid.UUID
	Sequence        int64
	Account         string
	PairIndex       int64
	Side            string
	AmountDelta     string // decimal text, index units
	CollateralDelta string // decimal text, stable units, signed
	Price           string
	TradingFee      string
	FundingFee      string
	RealizedPnl     string
	Payout          string
	Closed          bool
	Timestamp       time.Time
}

// LiquidationRow represents a row in event_log.liquidations.
type LiquidationRow struct {
	LiquidationID uuid.UUID
	Sequence      int64
	Account       string
	PairIndex     int64
	Side          string
	Amount        string
	Price         string
	NetAsset      string // signed; negative means the reserve absorbed a deficit
	FundingFee    string
	TradingFee    string
	Timestamp     time.Time
}

func NewEventLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *EventLogWriter {
	return &EventLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// WriteEventBatch writes a batch of events to event_log.events inside tx.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, pair_index, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.PairIndex,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteTradeBatch writes a batch of trades to event_log.trades inside tx.
func (w *EventLogWriter) WriteTradeBatch(ctx context.Context, tx *sql.Tx, trades []TradeRow) error {
	if len(trades) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.trades
		(trade_id, sequence, account, pair_index, side, amount_delta, collateral_delta,
		 price, trading_fee, funding_fee, realized_pnl, payout, closed, timestamp)
		VALUES `

	values := make([]string, 0, len(trades))
	args := make([]interface{}, 0, len(trades)*14)

	for i, t := range trades {
		base := i * 14
		ph := make([]string, 14)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			t.TradeID, t.Sequence, t.Account, t.PairIndex, t.Side,
			t.AmountDelta, t.CollateralDelta, t.Price, t.TradingFee,
			t.FundingFee, t.RealizedPnl, t.Payout, t.Closed, t.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (trade_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteLiquidationBatch writes a batch of liquidations to
// event_log.liquidations inside tx.
func (w *EventLogWriter) WriteLiquidationBatch(ctx context.Context, tx *sql.Tx, liqs []LiquidationRow) error {
	if len(liqs) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.liquidations
		(liquidation_id, sequence, account, pair_index, side, amount, price, net_asset, funding_fee, trading_fee, timestamp)
		VALUES `

	values := make([]string, 0, len(liqs))
	args := make([]interface{}, 0, len(liqs)*11)

	for i, l := range liqs {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args,
			l.LiquidationID, l.Sequence, l.Account, l.PairIndex, l.Side,
			l.Amount, l.Price, l.NetAsset, l.FundingFee, l.TradingFee, l.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (liquidation_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarshalEventPayload serializes an event payload to JSON for storage.
func MarshalEventPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
