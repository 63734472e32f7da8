package ingestion_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"PerpPool/internal/event"
	"PerpPool/internal/ingestion"
	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
)

// The event log stores encoded payloads, so every encoded event must parse
// back through ParseRawEvent during replay.

func reparse(t *testing.T, evt event.Event) event.Event {
	t.Helper()
	data, err := ingestion.EncodeEvent(evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw := ingestion.RawEvent{
		Subject:   "replay",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
	out, err := ingestion.ParseRawEvent(raw, evt.EventType().String())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	return out
}

func TestCodecRoundTripAddLiquidity(t *testing.T) {
	in := &event.AddLiquidity{
		RequestID:    uuid.New(),
		Account:      uuid.New(),
		PairIdx:      0,
		IndexAmount:  fpmath.MustParseAmount("1.5", 8),
		StableAmount: fpmath.MustParseAmount("45000", 6),
		ReqSequence:  11,
		Timestamp:    time.UnixMicro(1700000000000000),
	}

	out := reparse(t, in).(*event.AddLiquidity)

	if out.RequestID != in.RequestID || out.Account != in.Account {
		t.Error("identity fields did not survive the round trip")
	}
	if out.IndexAmount.Cmp(in.IndexAmount) != 0 || out.StableAmount.Cmp(in.StableAmount) != 0 {
		t.Errorf("amounts changed: got %s / %s", out.IndexAmount, out.StableAmount)
	}
	if out.IdempotencyKey() != in.IdempotencyKey() {
		t.Errorf("idempotency key changed: %s vs %s", out.IdempotencyKey(), in.IdempotencyKey())
	}
}

func TestCodecRoundTripIncreasePosition(t *testing.T) {
	in := &event.IncreasePosition{
		RequestID:       uuid.New(),
		Account:         uuid.New(),
		PairIdx:         0,
		Side:            market.SideShort,
		CollateralDelta: fpmath.MustParseAmount("2000", 18),
		AmountDelta:     fpmath.MustParseAmount("0.25", 18),
		VipLevel:        3,
		ReferenceRate:   5_000_000,
		ReqSequence:     99,
		Timestamp:       time.UnixMicro(1700000000000000),
	}

	out := reparse(t, in).(*event.IncreasePosition)

	if out.Side != market.SideShort {
		t.Errorf("side: got %s, want Short", out.Side)
	}
	if out.VipLevel != 3 || out.ReferenceRate != 5_000_000 {
		t.Error("vip level or reference rate changed")
	}
	if out.AmountDelta.Cmp(in.AmountDelta) != 0 {
		t.Errorf("amount delta changed: got %s", out.AmountDelta)
	}
}

func TestCodecRoundTripDecreasePosition(t *testing.T) {
	in := &event.DecreasePosition{
		RequestID:       uuid.New(),
		Account:         uuid.New(),
		PairIdx:         0,
		CollateralDelta: fpmath.Zero(18),
		AmountDelta:     fpmath.MustParseAmount("0.25", 18),
		ReqSequence:     100,
		Timestamp:       time.UnixMicro(1700000000000000),
	}

	out := reparse(t, in).(*event.DecreasePosition)

	if out.AmountDelta.Cmp(in.AmountDelta) != 0 {
		t.Errorf("amount delta changed: got %s", out.AmountDelta)
	}
	if out.ReqSequence != 100 {
		t.Errorf("sequence changed: got %d", out.ReqSequence)
	}
}

func TestCodecRoundTripOraclePrice(t *testing.T) {
	in := &event.OraclePriceUpdate{
		PairIdx:        0,
		Price:          fpmath.MustParseAmount("64123.55", 30),
		PriceSequence:  7001,
		PriceTimestamp: 1700000000000000,
	}

	out := reparse(t, in).(*event.OraclePriceUpdate)

	if out.Price.Cmp(in.Price) != 0 {
		t.Errorf("price changed: got %s", out.Price)
	}
	if out.PriceSequence != 7001 || out.PriceTimestamp != in.PriceTimestamp {
		t.Error("sequence or timestamp changed")
	}
}

func TestCodecRoundTripFundingSettle(t *testing.T) {
	in := &event.FundingSettle{
		PairIdx: 0,
		Epoch:   42,
		EpochTs: 1700000000000000,
	}

	out := reparse(t, in).(*event.FundingSettle)

	if out.Epoch != 42 || out.EpochTs != in.EpochTs {
		t.Error("epoch fields changed")
	}
	if out.IdempotencyKey() != in.IdempotencyKey() {
		t.Error("idempotency key changed")
	}
}

func TestCodecRoundTripReserveFlows(t *testing.T) {
	recharge := &event.ReserveRecharge{
		RequestID:   uuid.New(),
		Principal:   "treasury-ops",
		Asset:       "USDT",
		Amount:      fpmath.MustParseAmount("5000", 18),
		ReqSequence: 5,
		Timestamp:   time.UnixMicro(1700000000000000),
	}
	withdraw := &event.ReserveWithdraw{
		RequestID:   uuid.New(),
		Principal:   "treasury-ops",
		Asset:       "USDT",
		Amount:      fpmath.MustParseAmount("1000", 18),
		ReqSequence: 6,
		Timestamp:   time.UnixMicro(1700000000000000),
	}

	outR := reparse(t, recharge).(*event.ReserveRecharge)
	if outR.Principal != "treasury-ops" || outR.Amount.Cmp(recharge.Amount) != 0 {
		t.Error("recharge fields changed")
	}

	outW := reparse(t, withdraw).(*event.ReserveWithdraw)
	if outW.Asset != "USDT" || outW.Amount.Cmp(withdraw.Amount) != 0 {
		t.Error("withdraw fields changed")
	}
}

func TestCodecRoundTripPairConfig(t *testing.T) {
	cfg := market.DefaultPairConfigs()[0]
	in := &event.PairConfigUpdate{
		PairIdx:   0,
		Version:   3,
		Config:    *cfg,
		Timestamp: time.UnixMicro(1700000000000000),
	}

	out := reparse(t, in).(*event.PairConfigUpdate)

	if out.Version != 3 {
		t.Errorf("version: got %d, want 3", out.Version)
	}
	if out.Config.Pair.KOfSwap.Cmp(cfg.Pair.KOfSwap) != 0 {
		t.Error("swap constant changed")
	}
	if out.Config.Trading.MinTradeAmount.Cmp(cfg.Trading.MinTradeAmount) != 0 {
		t.Error("min trade amount changed")
	}
	if out.Config.Funding.FundingInterval != cfg.Funding.FundingInterval {
		t.Error("funding interval changed")
	}
}

func TestCodecRejectsUnknownEvent(t *testing.T) {
	if _, err := ingestion.EncodeEvent(nil); err == nil {
		t.Fatal("expected error for nil event, got nil")
	}
}
