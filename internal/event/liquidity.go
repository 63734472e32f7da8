package event

import (
	"time"

	fpmath "PerpPool/internal/math"

	"github.com/google/uuid"
)

// AddLiquidity is an LP deposit of index and/or stable tokens.
// Idempotency key: request_id (UUID from the gateway).
type AddLiquidity struct {
	RequestID    uuid.UUID // Idempotency key
	Account      uuid.UUID
	PairIdx      uint32
	IndexAmount  fpmath.Amount // index token native scale
	StableAmount fpmath.Amount // stable token native scale
	ReqSequence  int64         // Source sequence from the gateway
	Timestamp    time.Time     // Versioned input timestamp (NOT wall-clock)
}

func (a *AddLiquidity) IdempotencyKey() string { return a.RequestID.String() }
func (a *AddLiquidity) EventType() EventType   { return EventTypeAddLiquidity }
func (a *AddLiquidity) Pair() *uint32          { p := a.PairIdx; return &p }
func (a *AddLiquidity) SourceSequence() int64  { return a.ReqSequence }

// RemoveLiquidity burns LP tokens for the underlying pair tokens.
// Idempotency key: request_id.
type RemoveLiquidity struct {
	RequestID   uuid.UUID
	Account     uuid.UUID
	PairIdx     uint32
	LpAmount    fpmath.Amount // canonical 18-decimal LP units
	ReqSequence int64
	Timestamp   time.Time
}

func (r *RemoveLiquidity) IdempotencyKey() string { return r.RequestID.String() }
func (r *RemoveLiquidity) EventType() EventType   { return EventTypeRemoveLiquidity }
func (r *RemoveLiquidity) Pair() *uint32          { p := r.PairIdx; return &p }
func (r *RemoveLiquidity) SourceSequence() int64  { return r.ReqSequence }
