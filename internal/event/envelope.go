package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeAddLiquidity
	EventTypeRemoveLiquidity
	EventTypeIncreasePosition
	EventTypeDecreasePosition
	EventTypeOraclePriceUpdate
	EventTypeFundingSettle
	EventTypeReserveRecharge
	EventTypeReserveWithdraw
	EventTypePairConfigUpdate
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Trading pair context (nullable for global events)
	PairIndex *uint32

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Pair returns the trading pair context (nil for global events)
	Pair() *uint32

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeAddLiquidity:
		return "AddLiquidity"
	case EventTypeRemoveLiquidity:
		return "RemoveLiquidity"
	case EventTypeIncreasePosition:
		return "IncreasePosition"
	case EventTypeDecreasePosition:
		return "DecreasePosition"
	case EventTypeOraclePriceUpdate:
		return "OraclePriceUpdate"
	case EventTypeFundingSettle:
		return "FundingSettle"
	case EventTypeReserveRecharge:
		return "ReserveRecharge"
	case EventTypeReserveWithdraw:
		return "ReserveWithdraw"
	case EventTypePairConfigUpdate:
		return "PairConfigUpdate"
	default:
		return "Unknown"
	}
}
