package funding

import (
	"fmt"
	"math/big"

	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
)

// GetFundingFeeTracker accumulates the signed per-interval rate,
// price-weighted, into the pair's global tracker:
//
//	tracker' = tracker + rate * openPrice / 1e30
//
// Multiplying a later tracker difference by a position's index amount
// yields an absolute stable-value fee regardless of the price path.
func GetFundingFeeTracker(previous *big.Int, rate *big.Int, openPrice fpmath.Amount) *big.Int {
	delta := fpmath.MulDiv(rate, openPrice.BigInt(), fpmath.PricePrecision)
	if previous == nil {
		return delta
	}
	return delta.Add(delta, previous)
}

// GetPositionFundingFee computes the funding fee accrued by one position
// since its tracker was last stamped. positionAmount is the position size
// in index-asset units at the canonical scale; the tracker difference
// already carries the price weighting.
//
// The returned amount is a signed canonical stable value: negative means
// the position pays, positive means it receives. Under the protocol's sign
// convention a long pays while the tracker is falling (longs dominant) and
// a short pays while it is rising.
func GetPositionFundingFee(
	globalTracker, positionTracker *big.Int,
	positionAmount fpmath.Amount,
	side market.Side,
) fpmath.Amount {
	if side == market.SideFlat || positionAmount.IsZero() {
		return fpmath.Zero(fpmath.CanonicalDecimals)
	}
	diff := new(big.Int).Sub(globalTracker, positionTracker)
	if diff.Sign() == 0 {
		return fpmath.Zero(fpmath.CanonicalDecimals)
	}

	magnitude := fpmath.MulDiv(positionAmount.BigInt(), new(big.Int).Abs(diff), fpmath.Percentage)

	pays := (side == market.SideLong && diff.Sign() < 0) ||
		(side == market.SideShort && diff.Sign() > 0)
	if pays {
		magnitude.Neg(magnitude)
	}
	return fpmath.NewAmount(magnitude, fpmath.CanonicalDecimals)
}

// PairTracker is the stored funding state for one pair.
type PairTracker struct {
	PairIndex uint32
	EpochID   int64
	Tracker   *big.Int // accumulated price-weighted rate
	LastRate  *big.Int // per-interval rate of the latest settlement
	LastPrice fpmath.Amount
	Timestamp int64
}

// TrackerStore tracks the global funding tracker and settlement epochs per
// pair. Epochs must arrive in order; duplicates are ignored so replays are
// idempotent.
type TrackerStore struct {
	trackers map[uint32]*PairTracker
}

func NewTrackerStore() *TrackerStore {
	return &TrackerStore{trackers: make(map[uint32]*PairTracker)}
}

// Settle applies one funding settlement: validates the epoch, accumulates
// the tracker, and records the rate. Returns the updated tracker value.
func (ts *TrackerStore) Settle(
	pairIndex uint32,
	epochID int64,
	rate *big.Int,
	price fpmath.Amount,
	timestamp int64,
) (*big.Int, error) {
	cur := ts.trackers[pairIndex]
	var expected int64
	var prev *big.Int
	if cur != nil {
		expected = cur.EpochID + 1
		prev = cur.Tracker
	}

	if cur != nil && epochID <= cur.EpochID {
		// Duplicate settlement - skip (idempotent).
		return new(big.Int).Set(cur.Tracker), nil
	}
	if cur != nil && epochID > expected {
		return nil, fmt.Errorf("funding epoch gap for pair %d: expected=%d, got=%d",
			pairIndex, expected, epochID)
	}

	next := GetFundingFeeTracker(prev, rate, price)
	ts.trackers[pairIndex] = &PairTracker{
		PairIndex: pairIndex,
		EpochID:   epochID,
		Tracker:   next,
		LastRate:  new(big.Int).Set(rate),
		LastPrice: price,
		Timestamp: timestamp,
	}
	return new(big.Int).Set(next), nil
}

// Tracker returns the current global tracker for a pair (zero if the pair
// has never settled).
func (ts *TrackerStore) Tracker(pairIndex uint32) *big.Int {
	if cur := ts.trackers[pairIndex]; cur != nil {
		return new(big.Int).Set(cur.Tracker)
	}
	return new(big.Int)
}

// Get returns the stored tracker state for a pair.
func (ts *TrackerStore) Get(pairIndex uint32) (*PairTracker, bool) {
	cur, ok := ts.trackers[pairIndex]
	return cur, ok
}

// Restore directly sets a pair tracker (snapshot restore).
func (ts *TrackerStore) Restore(t *PairTracker) {
	ts.trackers[t.PairIndex] = t
}

// All returns every pair tracker (snapshot creation).
func (ts *TrackerStore) All() map[uint32]*PairTracker {
	out := make(map[uint32]*PairTracker, len(ts.trackers))
	for k, v := range ts.trackers {
		out[k] = v
	}
	return out
}
