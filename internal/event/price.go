package event

import (
	"fmt"

	fpmath "PerpPool/internal/math"
)

// OraclePriceUpdate is an index price tick from the oracle feed.
// Idempotency key: "{pair}:price:{sequence}".
type OraclePriceUpdate struct {
	PairIdx        uint32
	Price          fpmath.Amount // 30-decimal price scale
	PriceSequence  int64         // Monotonic per pair
	PriceTimestamp int64         // Epoch microseconds (versioned input)
}

func (o *OraclePriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%d:price:%d", o.PairIdx, o.PriceSequence)
}

func (o *OraclePriceUpdate) EventType() EventType  { return EventTypeOraclePriceUpdate }
func (o *OraclePriceUpdate) Pair() *uint32         { p := o.PairIdx; return &p }
func (o *OraclePriceUpdate) SourceSequence() int64 { return o.PriceSequence }

// FundingSettle closes a funding epoch for a pair: the core computes
// the rate from current open interest, folds it into the cumulative
// tracker, and settles every open position against the new value.
// Idempotency key: "{pair}:{epoch}:settle".
type FundingSettle struct {
	PairIdx uint32
	Epoch   int64 // Monotonic per pair
	EpochTs int64 // Epoch boundary timestamp in microseconds
}

func (f *FundingSettle) IdempotencyKey() string {
	return fmt.Sprintf("%d:%d:settle", f.PairIdx, f.Epoch)
}

func (f *FundingSettle) EventType() EventType  { return EventTypeFundingSettle }
func (f *FundingSettle) Pair() *uint32         { p := f.PairIdx; return &p }
func (f *FundingSettle) SourceSequence() int64 { return f.Epoch }
