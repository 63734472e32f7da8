package event

import (
	"fmt"
	"time"

	"PerpPool/internal/market"
)

// PairConfigUpdate replaces a pair's full configuration. The core
// validates before applying; an invalid config is rejected whole.
// Idempotency key: "{pair}:config:{version}".
type PairConfigUpdate struct {
	PairIdx   uint32
	Version   int64 // Monotonic per pair
	Config    market.PairConfig
	Timestamp time.Time
}

func (c *PairConfigUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%d:config:%d", c.PairIdx, c.Version)
}

func (c *PairConfigUpdate) EventType() EventType  { return EventTypePairConfigUpdate }
func (c *PairConfigUpdate) Pair() *uint32         { p := c.PairIdx; return &p }
func (c *PairConfigUpdate) SourceSequence() int64 { return c.Version }
