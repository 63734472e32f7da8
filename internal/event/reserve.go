package event

import (
	"time"

	fpmath "PerpPool/internal/math"

	"github.com/google/uuid"
)

// ReserveRecharge credits the protocol risk reserve. Anyone may
// recharge. Idempotency key: request_id.
type ReserveRecharge struct {
	RequestID   uuid.UUID
	Principal   string
	Asset       string
	Amount      fpmath.Amount // canonical 18-decimal
	ReqSequence int64
	Timestamp   time.Time
}

func (r *ReserveRecharge) IdempotencyKey() string { return r.RequestID.String() }
func (r *ReserveRecharge) EventType() EventType   { return EventTypeReserveRecharge }
func (r *ReserveRecharge) Pair() *uint32          { return nil }
func (r *ReserveRecharge) SourceSequence() int64  { return r.ReqSequence }

// ReserveWithdraw debits the risk reserve. Authorization against the
// DAO principal happens in the core. Idempotency key: request_id.
type ReserveWithdraw struct {
	RequestID   uuid.UUID
	Principal   string
	Asset       string
	Amount      fpmath.Amount
	ReqSequence int64
	Timestamp   time.Time
}

func (r *ReserveWithdraw) IdempotencyKey() string { return r.RequestID.String() }
func (r *ReserveWithdraw) EventType() EventType   { return EventTypeReserveWithdraw }
func (r *ReserveWithdraw) Pair() *uint32          { return nil }
func (r *ReserveWithdraw) SourceSequence() int64  { return r.ReqSequence }
