package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PerpPool/internal/event"
	fpmath "PerpPool/internal/math"
)

// GRPCIngestService provides admin/manual event injection via gRPC.
// gRPC ingest is for admin operations and manual event injection, not
// for high-throughput ingestion (use NATS for that).
type GRPCIngestService struct {
	eventChan chan<- event.Event
}

func NewGRPCIngestService(eventChan chan<- event.Event) *GRPCIngestService {
	return &GRPCIngestService{eventChan: eventChan}
}

// InjectOraclePrice manually injects an OraclePriceUpdate event.
func (s *GRPCIngestService) InjectOraclePrice(
	ctx context.Context,
	pairIndex uint32,
	price fpmath.Amount,
	priceSequence int64,
) error {
	if price.Sign() <= 0 {
		return fmt.Errorf("price must be positive")
	}
	if price.Decimals() != fpmath.PriceDecimals {
		return fmt.Errorf("price scale %d: oracle prices are %d-decimal", price.Decimals(), fpmath.PriceDecimals)
	}

	evt := &event.OraclePriceUpdate{
		PairIdx:        pairIndex,
		Price:          price,
		PriceSequence:  priceSequence,
		PriceTimestamp: time.Now().UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectFundingSettle manually injects a FundingSettle event.
func (s *GRPCIngestService) InjectFundingSettle(
	ctx context.Context,
	pairIndex uint32,
	epochID int64,
) error {
	evt := &event.FundingSettle{
		PairIdx: pairIndex,
		Epoch:   epochID,
		EpochTs: time.Now().UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectReserveRecharge manually injects a ReserveRecharge event.
func (s *GRPCIngestService) InjectReserveRecharge(
	ctx context.Context,
	principal, asset string,
	amount fpmath.Amount,
) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	evt := &event.ReserveRecharge{
		RequestID:   uuid.New(),
		Principal:   principal,
		Asset:       asset,
		Amount:      amount,
		ReqSequence: time.Now().UnixMicro(), // Admin-injected: use timestamp as sequence
		Timestamp:   time.Now(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectReserveWithdraw manually injects a ReserveWithdraw event.
func (s *GRPCIngestService) InjectReserveWithdraw(
	ctx context.Context,
	principal, asset string,
	amount fpmath.Amount,
) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	evt := &event.ReserveWithdraw{
		RequestID:   uuid.New(),
		Principal:   principal,
		Asset:       asset,
		Amount:      amount,
		ReqSequence: time.Now().UnixMicro(),
		Timestamp:   time.Now(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectPairConfig manually injects a PairConfigUpdate event.
func (s *GRPCIngestService) InjectPairConfig(
	ctx context.Context,
	evt *event.PairConfigUpdate,
) error {
	if evt.Config.Pair.PairIndex != evt.PairIdx {
		return fmt.Errorf("pair index mismatch: %d vs %d", evt.PairIdx, evt.Config.Pair.PairIndex)
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
