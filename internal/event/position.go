package event

import (
	"time"

	fpmath "PerpPool/internal/math"
	"PerpPool/internal/market"

	"github.com/google/uuid"
)

// IncreasePosition opens or grows a position.
// Idempotency key: request_id (UUID from the gateway).
type IncreasePosition struct {
	RequestID       uuid.UUID // Idempotency key
	Account         uuid.UUID
	PairIdx         uint32
	Side            market.Side
	CollateralDelta fpmath.Amount // stable token, canonical scale
	AmountDelta     fpmath.Amount // index token, canonical scale
	VipLevel        int32
	ReferenceRate   int64     // referral rebate, parts-per-1e8
	ReqSequence     int64     // Source sequence from the gateway
	Timestamp       time.Time // Versioned input timestamp (NOT wall-clock)
}

func (i *IncreasePosition) IdempotencyKey() string { return i.RequestID.String() }
func (i *IncreasePosition) EventType() EventType   { return EventTypeIncreasePosition }
func (i *IncreasePosition) Pair() *uint32          { p := i.PairIdx; return &p }
func (i *IncreasePosition) SourceSequence() int64  { return i.ReqSequence }

// DecreasePosition shrinks or closes a position.
// Idempotency key: request_id.
type DecreasePosition struct {
	RequestID       uuid.UUID
	Account         uuid.UUID
	PairIdx         uint32
	AmountDelta     fpmath.Amount // index token, canonical scale
	CollateralDelta fpmath.Amount // stable token, canonical scale
	VipLevel        int32
	ReferenceRate   int64
	ReqSequence     int64
	Timestamp       time.Time
}

func (d *DecreasePosition) IdempotencyKey() string { return d.RequestID.String() }
func (d *DecreasePosition) EventType() EventType   { return EventTypeDecreasePosition }
func (d *DecreasePosition) Pair() *uint32          { p := d.PairIdx; return &p }
func (d *DecreasePosition) SourceSequence() int64  { return d.ReqSequence }
