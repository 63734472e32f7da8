package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"PerpPool/internal/event"
	"PerpPool/internal/ingestion"
	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func amountField(value string, decimals uint32) map[string]interface{} {
	return map[string]interface{}{"value": value, "decimals": decimals}
}

func TestParseAddLiquidity(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":    "550e8400-e29b-41d4-a716-446655440000",
		"account":       "660e8400-e29b-41d4-a716-446655440001",
		"pair_index":    uint32(0),
		"index_amount":  amountField("1000000000", 8), // 10 BTC
		"stable_amount": amountField("300000000000", 6),
		"sequence":      int64(42),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "AddLiquidity")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	al, ok := evt.(*event.AddLiquidity)
	if !ok {
		t.Fatalf("expected *event.AddLiquidity, got %T", evt)
	}

	if al.PairIdx != 0 {
		t.Errorf("pair_index: got %d, want 0", al.PairIdx)
	}
	if al.IndexAmount.Cmp(fpmath.MustParseAmount("10", 8)) != 0 {
		t.Errorf("index_amount: got %s, want 10", al.IndexAmount)
	}
	if al.StableAmount.Cmp(fpmath.MustParseAmount("300000", 6)) != 0 {
		t.Errorf("stable_amount: got %s, want 300000", al.StableAmount)
	}
	if al.ReqSequence != 42 {
		t.Errorf("sequence: got %d, want 42", al.ReqSequence)
	}
	if al.EventType() != event.EventTypeAddLiquidity {
		t.Errorf("event type: got %v, want AddLiquidity", al.EventType())
	}
}

func TestParseRemoveLiquidity(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"account":      "660e8400-e29b-41d4-a716-446655440001",
		"pair_index":   uint32(0),
		"lp_amount":    amountField("5000000000000000000", 18), // 5 LP
		"sequence":     int64(7),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "RemoveLiquidity")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rl, ok := evt.(*event.RemoveLiquidity)
	if !ok {
		t.Fatalf("expected *event.RemoveLiquidity, got %T", evt)
	}
	if rl.LpAmount.Cmp(fpmath.MustParseAmount("5", 18)) != 0 {
		t.Errorf("lp_amount: got %s, want 5", rl.LpAmount)
	}
}

func TestParseIncreasePosition(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":       "550e8400-e29b-41d4-a716-446655440000",
		"account":          "660e8400-e29b-41d4-a716-446655440001",
		"pair_index":       uint32(0),
		"side":             "long",
		"collateral_delta": amountField("10000000000000000000000", 18), // 10000
		"amount_delta":     amountField("500000000000000000", 18),      // 0.5
		"vip_level":        int32(2),
		"reference_rate":   int64(10_000_000),
		"sequence":         int64(9),
		"timestamp_us":     int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "IncreasePosition")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ip, ok := evt.(*event.IncreasePosition)
	if !ok {
		t.Fatalf("expected *event.IncreasePosition, got %T", evt)
	}
	if ip.Side != market.SideLong {
		t.Errorf("side: got %s, want long", ip.Side)
	}
	if ip.CollateralDelta.Cmp(fpmath.MustParseAmount("10000", 18)) != 0 {
		t.Errorf("collateral_delta: got %s, want 10000", ip.CollateralDelta)
	}
	if ip.AmountDelta.Cmp(fpmath.MustParseAmount("0.5", 18)) != 0 {
		t.Errorf("amount_delta: got %s, want 0.5", ip.AmountDelta)
	}
	if ip.VipLevel != 2 {
		t.Errorf("vip_level: got %d, want 2", ip.VipLevel)
	}
}

func TestParseIncreasePosition_BadSide(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":       "550e8400-e29b-41d4-a716-446655440000",
		"account":          "660e8400-e29b-41d4-a716-446655440001",
		"pair_index":       uint32(0),
		"side":             "sideways",
		"collateral_delta": amountField("1", 18),
		"amount_delta":     amountField("1", 18),
		"sequence":         int64(0),
		"timestamp_us":     int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "IncreasePosition"); err == nil {
		t.Fatal("expected error for invalid side, got nil")
	}
}

func TestParseDecreasePosition(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":       "550e8400-e29b-41d4-a716-446655440000",
		"account":          "660e8400-e29b-41d4-a716-446655440001",
		"pair_index":       uint32(0),
		"collateral_delta": amountField("0", 18),
		"amount_delta":     amountField("500000000000000000", 18),
		"sequence":         int64(10),
		"timestamp_us":     int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "DecreasePosition")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dp, ok := evt.(*event.DecreasePosition)
	if !ok {
		t.Fatalf("expected *event.DecreasePosition, got %T", evt)
	}
	if dp.AmountDelta.Cmp(fpmath.MustParseAmount("0.5", 18)) != 0 {
		t.Errorf("amount_delta: got %s, want 0.5", dp.AmountDelta)
	}
}

func TestParseOraclePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"pair_index":         uint32(0),
		"price":              amountField("30000000000000000000000000000000000", 30), // 30000
		"price_sequence":     int64(17),
		"price_timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "OraclePriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu, ok := evt.(*event.OraclePriceUpdate)
	if !ok {
		t.Fatalf("expected *event.OraclePriceUpdate, got %T", evt)
	}
	if pu.Price.Cmp(fpmath.MustParseAmount("30000", 30)) != 0 {
		t.Errorf("price: got %s, want 30000", pu.Price)
	}
	if pu.PriceSequence != 17 {
		t.Errorf("price_sequence: got %d, want 17", pu.PriceSequence)
	}
}

func TestParseOraclePriceUpdate_NativeScaleNormalized(t *testing.T) {
	// A feed quoting at the stable token's 6-decimal scale is up-scaled
	// to the 30-decimal protocol price.
	payload := map[string]interface{}{
		"pair_index":         uint32(0),
		"price":              amountField("30000000000", 6), // 30000
		"price_sequence":     int64(1),
		"price_timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "OraclePriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	pu := evt.(*event.OraclePriceUpdate)
	if pu.Price.Decimals() != fpmath.PriceDecimals {
		t.Errorf("price scale: got %d, want %d", pu.Price.Decimals(), fpmath.PriceDecimals)
	}
	if pu.Price.Cmp(fpmath.MustParseAmount("30000", 30)) != 0 {
		t.Errorf("price: got %s, want 30000", pu.Price)
	}
}

func TestParseOraclePriceUpdate_TooFineScale_Rejected(t *testing.T) {
	payload := map[string]interface{}{
		"pair_index":         uint32(0),
		"price":              amountField("30000", 31),
		"price_sequence":     int64(1),
		"price_timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "OraclePriceUpdate"); err == nil {
		t.Fatal("expected error for a finer-than-30-decimal price, got nil")
	}
}

func TestParseFundingSettle(t *testing.T) {
	payload := map[string]interface{}{
		"pair_index":  uint32(0),
		"epoch_id":    int64(12),
		"epoch_ts_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "FundingSettle")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	fs, ok := evt.(*event.FundingSettle)
	if !ok {
		t.Fatalf("expected *event.FundingSettle, got %T", evt)
	}
	if fs.Epoch != 12 {
		t.Errorf("epoch: got %d, want 12", fs.Epoch)
	}
}

func TestParseReserveRecharge(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"principal":    "treasury-ops",
		"asset":        "USDT",
		"amount":       amountField("5000000000000000000000", 18), // 5000
		"sequence":     int64(3),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "ReserveRecharge")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rr, ok := evt.(*event.ReserveRecharge)
	if !ok {
		t.Fatalf("expected *event.ReserveRecharge, got %T", evt)
	}
	if rr.Amount.Cmp(fpmath.MustParseAmount("5000", 18)) != 0 {
		t.Errorf("amount: got %s, want 5000", rr.Amount)
	}
	if rr.Pair() != nil {
		t.Error("reserve events should not carry a pair index")
	}
}

func TestParsePairConfigUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"pair_index":   uint32(0),
		"version":      int64(2),
		"timestamp_us": int64(1700000000000000),

		"index_token":  map[string]interface{}{"symbol": "BTC", "decimals": 8},
		"stable_token": map[string]interface{}{"symbol": "USDT", "decimals": 6},
		"lp_token":     map[string]interface{}{"symbol": "LP-BTC-USDT", "decimals": 18},

		"add_lp_fee_p":             int64(100_000),
		"k_of_swap":                "30000000000000000000000000000000000000000000000",
		"expect_index_token_p":     int64(50_000_000),
		"max_unbalanced_p":         int64(10_000_000),
		"unbalanced_discount_rate": int64(1_000_000),
		"enable":                   true,

		"min_leverage":          int64(1),
		"max_leverage":          int64(50),
		"min_trade_amount":      amountField("100000", 8),
		"max_trade_amount":      amountField("10000000000", 8),
		"maintain_margin_rate":  int64(1_000_000),
		"price_slip_p":          int64(100_000),
		"max_price_deviation_p": int64(5_000_000),

		"taker_fee_p":              int64(80_000),
		"maker_fee_p":              int64(50_000),
		"lp_fee_distribute_p":      int64(30_000_000),
		"keeper_fee_distribute_p":  int64(10_000_000),
		"staking_fee_distribute_p": int64(10_000_000),

		"min_funding_rate":      int64(100),
		"max_funding_rate":      int64(10_000),
		"funding_weight_factor": int64(100),
		"funding_interval":      int64(28_800),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PairConfigUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cu, ok := evt.(*event.PairConfigUpdate)
	if !ok {
		t.Fatalf("expected *event.PairConfigUpdate, got %T", evt)
	}
	if cu.Version != 2 {
		t.Errorf("version: got %d, want 2", cu.Version)
	}
	if cu.Config.Trading.MaxLeverage != 50 {
		t.Errorf("max_leverage: got %d, want 50", cu.Config.Trading.MaxLeverage)
	}
	if cu.Config.Pair.KOfSwap == nil || cu.Config.Pair.KOfSwap.Sign() <= 0 {
		t.Error("k_of_swap should parse to a positive integer")
	}
	if cu.SourceSequence() != 2 {
		t.Errorf("source sequence should be the config version, got %d", cu.SourceSequence())
	}
}

func TestParseUnknownEventType(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{})
	if _, err := ingestion.ParseRawEvent(raw, "Teleport"); err == nil {
		t.Fatal("expected error for unknown event type, got nil")
	}
}

func TestParseMalformedAmount(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"account":      "660e8400-e29b-41d4-a716-446655440001",
		"pair_index":   uint32(0),
		"lp_amount":    amountField("five", 18),
		"sequence":     int64(0),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "RemoveLiquidity"); err == nil {
		t.Fatal("expected error for non-integer amount, got nil")
	}
}
