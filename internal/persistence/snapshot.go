package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"PerpPool/internal/core"
	"PerpPool/internal/funding"
	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/state"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots capture positions, vaults, oracle prices, funding trackers, the
// risk reserve, sequence counters, recent idempotency keys, and the last
// state hash. Pair configs are NOT snapshotted; they are rebuilt by
// replaying PairConfigUpdate events on top of the built-in defaults.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON-serializable form of core.SnapshotState.
// Amounts are stored as {value, decimals} scaled-integer pairs so
// arbitrary precision survives the round trip.
type SnapshotData struct {
	Sequence        int64                   `json:"sequence"`
	StateHash       []byte                  `json:"state_hash"`
	Positions       []positionSnap          `json:"positions"`
	Vaults          map[uint32]vaultSnap    `json:"vaults"`
	Prices          map[uint32]priceSnap    `json:"prices"`
	Trackers        map[uint32]trackerSnap  `json:"trackers"`
	ReserveBalances map[string]string       `json:"reserve_balances"`
	SequenceState   map[string]int64        `json:"sequence_state"`
	IdempotencyKeys []string                `json:"idempotency_keys"`
	CreatedAt       time.Time               `json:"created_at"`
}

type amountSnap struct {
	Value    string `json:"value"`
	Decimals uint32 `json:"decimals"`
}

type positionSnap struct {
	Account           string     `json:"account"`
	PairIndex         uint32     `json:"pair_index"`
	Side              int32      `json:"side"`
	Collateral        amountSnap `json:"collateral"`
	PositionAmount    amountSnap `json:"position_amount"`
	AveragePrice      amountSnap `json:"average_price"`
	FundingFeeTracker string     `json:"funding_fee_tracker"`
	ReservedIndex     amountSnap `json:"reserved_index"`
	ReservedStable    amountSnap `json:"reserved_stable"`
	Version           int64      `json:"version"`
}

type vaultSnap struct {
	IndexTotal     amountSnap `json:"index_total"`
	StableTotal    amountSnap `json:"stable_total"`
	IndexReserved  amountSnap `json:"index_reserved"`
	StableReserved amountSnap `json:"stable_reserved"`
	LpTotalSupply  amountSnap `json:"lp_total_supply"`
}

type priceSnap struct {
	Price     amountSnap `json:"price"`
	Sequence  int64      `json:"sequence"`
	Timestamp int64      `json:"timestamp"`
}

type trackerSnap struct {
	PairIndex uint32     `json:"pair_index"`
	EpochID   int64      `json:"epoch_id"`
	Tracker   string     `json:"tracker"`
	LastRate  string     `json:"last_rate"`
	LastPrice amountSnap `json:"last_price"`
	Timestamp int64      `json:"timestamp"`
}

func snapAmount(a fpmath.Amount) amountSnap {
	return amountSnap{Value: a.BigInt().String(), Decimals: a.Decimals()}
}

func (s amountSnap) toAmount() (fpmath.Amount, error) {
	v, ok := new(big.Int).SetString(s.Value, 10)
	if !ok {
		return fpmath.Amount{}, fmt.Errorf("parse amount %q", s.Value)
	}
	return fpmath.NewAmount(v, s.Decimals), nil
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse integer %q", s)
	}
	return v, nil
}

// SnapshotFromState converts the core's in-memory snapshot to the
// serializable form.
func SnapshotFromState(st *core.SnapshotState, createdAt time.Time) *SnapshotData {
	sd := &SnapshotData{
		Sequence:        st.Sequence,
		StateHash:       st.StateHash[:],
		Vaults:          make(map[uint32]vaultSnap, len(st.Vaults)),
		Prices:          make(map[uint32]priceSnap, len(st.Prices)),
		Trackers:        make(map[uint32]trackerSnap, len(st.Trackers)),
		ReserveBalances: make(map[string]string, len(st.ReserveBalances)),
		SequenceState:   st.SequenceState,
		IdempotencyKeys: st.IdempotencyKeys,
		CreatedAt:       createdAt,
	}

	for _, pos := range st.Positions {
		sd.Positions = append(sd.Positions, positionSnap{
			Account:           pos.Account.String(),
			PairIndex:         pos.PairIndex,
			Side:              int32(pos.Side),
			Collateral:        snapAmount(pos.Collateral),
			PositionAmount:    snapAmount(pos.PositionAmount),
			AveragePrice:      snapAmount(pos.AveragePrice),
			FundingFeeTracker: pos.FundingFeeTracker.String(),
			ReservedIndex:     snapAmount(pos.ReservedIndex),
			ReservedStable:    snapAmount(pos.ReservedStable),
			Version:           pos.Version,
		})
	}
	for idx, v := range st.Vaults {
		sd.Vaults[idx] = vaultSnap{
			IndexTotal:     snapAmount(v.IndexTotalAmount),
			StableTotal:    snapAmount(v.StableTotalAmount),
			IndexReserved:  snapAmount(v.IndexReservedAmount),
			StableReserved: snapAmount(v.StableReservedAmount),
			LpTotalSupply:  snapAmount(v.LpTotalSupply),
		}
	}
	for idx, p := range st.Prices {
		sd.Prices[idx] = priceSnap{
			Price:     snapAmount(p.Price),
			Sequence:  p.Sequence,
			Timestamp: p.Timestamp,
		}
	}
	for idx, t := range st.Trackers {
		sd.Trackers[idx] = trackerSnap{
			PairIndex: t.PairIndex,
			EpochID:   t.EpochID,
			Tracker:   t.Tracker.String(),
			LastRate:  t.LastRate.String(),
			LastPrice: snapAmount(t.LastPrice),
			Timestamp: t.Timestamp,
		}
	}
	for asset, bal := range st.ReserveBalances {
		sd.ReserveBalances[asset] = bal.String()
	}

	return sd
}

// ToState converts the serializable form back into the core's snapshot.
func (sd *SnapshotData) ToState() (*core.SnapshotState, error) {
	st := &core.SnapshotState{
		Sequence:        sd.Sequence,
		Vaults:          make(map[uint32]*market.Vault, len(sd.Vaults)),
		Prices:          make(map[uint32]*state.OraclePrice, len(sd.Prices)),
		Trackers:        make(map[uint32]*funding.PairTracker, len(sd.Trackers)),
		ReserveBalances: make(map[string]*big.Int, len(sd.ReserveBalances)),
		SequenceState:   sd.SequenceState,
		IdempotencyKeys: sd.IdempotencyKeys,
	}
	if len(sd.StateHash) != len(st.StateHash) {
		return nil, fmt.Errorf("state hash length %d", len(sd.StateHash))
	}
	copy(st.StateHash[:], sd.StateHash)

	for _, ps := range sd.Positions {
		account, err := uuid.Parse(ps.Account)
		if err != nil {
			return nil, fmt.Errorf("position account: %w", err)
		}
		collateral, err := ps.Collateral.toAmount()
		if err != nil {
			return nil, err
		}
		amount, err := ps.PositionAmount.toAmount()
		if err != nil {
			return nil, err
		}
		avgPrice, err := ps.AveragePrice.toAmount()
		if err != nil {
			return nil, err
		}
		tracker, err := parseBig(ps.FundingFeeTracker)
		if err != nil {
			return nil, err
		}
		reservedIdx, err := ps.ReservedIndex.toAmount()
		if err != nil {
			return nil, err
		}
		reservedStable, err := ps.ReservedStable.toAmount()
		if err != nil {
			return nil, err
		}
		st.Positions = append(st.Positions, &state.Position{
			Account:           account,
			PairIndex:         ps.PairIndex,
			Side:              market.Side(ps.Side),
			Collateral:        collateral,
			PositionAmount:    amount,
			AveragePrice:      avgPrice,
			FundingFeeTracker: tracker,
			ReservedIndex:     reservedIdx,
			ReservedStable:    reservedStable,
			Version:           ps.Version,
		})
	}

	for idx, vs := range sd.Vaults {
		indexTotal, err := vs.IndexTotal.toAmount()
		if err != nil {
			return nil, err
		}
		stableTotal, err := vs.StableTotal.toAmount()
		if err != nil {
			return nil, err
		}
		indexReserved, err := vs.IndexReserved.toAmount()
		if err != nil {
			return nil, err
		}
		stableReserved, err := vs.StableReserved.toAmount()
		if err != nil {
			return nil, err
		}
		lpSupply, err := vs.LpTotalSupply.toAmount()
		if err != nil {
			return nil, err
		}
		st.Vaults[idx] = &market.Vault{
			IndexTotalAmount:     indexTotal,
			StableTotalAmount:    stableTotal,
			IndexReservedAmount:  indexReserved,
			StableReservedAmount: stableReserved,
			LpTotalSupply:        lpSupply,
		}
	}

	for idx, ps := range sd.Prices {
		price, err := ps.Price.toAmount()
		if err != nil {
			return nil, err
		}
		st.Prices[idx] = &state.OraclePrice{
			Price:     price,
			Sequence:  ps.Sequence,
			Timestamp: ps.Timestamp,
		}
	}

	for idx, ts := range sd.Trackers {
		tracker, err := parseBig(ts.Tracker)
		if err != nil {
			return nil, err
		}
		lastRate, err := parseBig(ts.LastRate)
		if err != nil {
			return nil, err
		}
		lastPrice, err := ts.LastPrice.toAmount()
		if err != nil {
			return nil, err
		}
		st.Trackers[idx] = &funding.PairTracker{
			PairIndex: ts.PairIndex,
			EpochID:   ts.EpochID,
			Tracker:   tracker,
			LastRate:  lastRate,
			LastPrice: lastPrice,
			Timestamp: ts.Timestamp,
		}
	}

	for asset, bal := range sd.ReserveBalances {
		v, err := parseBig(bal)
		if err != nil {
			return nil, err
		}
		st.ReserveBalances[asset] = v
	}

	return st, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying events forward from the
// snapshot sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart the caller restores it and replays events from sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot, cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay. Used for
// warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, pair_index, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.PairIndex,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
