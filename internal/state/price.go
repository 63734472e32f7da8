package state

import (
	fpmath "PerpPool/internal/math"
)

// OraclePrice tracks the latest oracle price per trading pair.
type OraclePrice struct {
	Price     fpmath.Amount // price scale
	Sequence  int64
	Timestamp int64
}

// PriceStore applies oracle price updates with per-pair sequence
// ordering. Stale or duplicate updates are ignored; gaps are
// tolerated, since a missed price tick does not corrupt state the
// way a missed fill would.
type PriceStore struct {
	prices map[uint32]*OraclePrice
}

func NewPriceStore() *PriceStore {
	return &PriceStore{prices: make(map[uint32]*OraclePrice)}
}

// Update applies an oracle price update. Returns true if the price
// was accepted, false if it was stale and ignored.
func (ps *PriceStore) Update(pairIndex uint32, price fpmath.Amount, sequence int64, timestamp int64) bool {
	current := ps.prices[pairIndex]
	if current != nil && sequence <= current.Sequence {
		return false
	}

	ps.prices[pairIndex] = &OraclePrice{
		Price:     price,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
	return true
}

// Get returns the current price for a pair.
func (ps *PriceStore) Get(pairIndex uint32) (fpmath.Amount, bool) {
	current := ps.prices[pairIndex]
	if current == nil {
		return fpmath.Amount{}, false
	}
	return current.Price, true
}

// Restore installs a price during snapshot recovery.
func (ps *PriceStore) Restore(pairIndex uint32, p *OraclePrice) {
	ps.prices[pairIndex] = p
}

// All returns the full price map for snapshotting.
func (ps *PriceStore) All() map[uint32]*OraclePrice {
	result := make(map[uint32]*OraclePrice, len(ps.prices))
	for k, v := range ps.prices {
		result[k] = v
	}
	return result
}
