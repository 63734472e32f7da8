package state

import (
	"errors"
	"math/big"
	"testing"

	fpmath "PerpPool/internal/math"
	"PerpPool/internal/market"

	"github.com/google/uuid"
)

func canonical(s string) fpmath.Amount {
	return fpmath.MustParseAmount(s, fpmath.CanonicalDecimals)
}

func price(s string) fpmath.Amount {
	return fpmath.MustParseAmount(s, fpmath.PriceDecimals)
}

// ============================================================
// Position manager
// ============================================================

func TestIncreaseOpensPosition(t *testing.T) {
	pm := NewPositionManager()
	account := uuid.New()
	tracker := big.NewInt(-500)

	pos, err := pm.Increase(account, 0, market.SideLong,
		canonical("1000"), canonical("1"), price("30000"), tracker)
	if err != nil {
		t.Fatalf("increase: %v", err)
	}

	if pos.Side != market.SideLong {
		t.Errorf("side = %s, want long", pos.Side)
	}
	if got := pos.AveragePrice.String(); got != "30000."+zeros(30) {
		t.Errorf("avg price = %s", got)
	}
	if pos.FundingFeeTracker.Cmp(tracker) != 0 {
		t.Errorf("tracker = %s, want %s", pos.FundingFeeTracker, tracker)
	}
	if pos.Version != 1 {
		t.Errorf("version = %d, want 1", pos.Version)
	}

	// Tracker is stamped by value, not shared.
	tracker.SetInt64(99)
	if pos.FundingFeeTracker.Int64() != -500 {
		t.Errorf("tracker aliased to caller's big.Int")
	}
}

func TestIncreaseWeightedAveragePrice(t *testing.T) {
	pm := NewPositionManager()
	account := uuid.New()
	tracker := big.NewInt(0)

	if _, err := pm.Increase(account, 0, market.SideLong,
		canonical("1000"), canonical("1"), price("30000"), tracker); err != nil {
		t.Fatalf("open: %v", err)
	}

	// 1 unit at 30000 plus 1 unit at 32000 averages to 31000.
	pos, err := pm.Increase(account, 0, market.SideLong,
		canonical("500"), canonical("1"), price("32000"), tracker)
	if err != nil {
		t.Fatalf("increase: %v", err)
	}

	if got := pos.AveragePrice.String(); got != "31000."+zeros(30) {
		t.Errorf("avg price = %s, want 31000", got)
	}
	if got := pos.PositionAmount.String(); got != "2."+zeros(18) {
		t.Errorf("amount = %s, want 2", got)
	}
	if got := pos.Collateral.String(); got != "1500."+zeros(18) {
		t.Errorf("collateral = %s, want 1500", got)
	}
}

func TestIncreaseOppositeSideRejected(t *testing.T) {
	pm := NewPositionManager()
	account := uuid.New()
	tracker := big.NewInt(0)

	if _, err := pm.Increase(account, 0, market.SideLong,
		canonical("1000"), canonical("1"), price("30000"), tracker); err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err := pm.Increase(account, 0, market.SideShort,
		canonical("1000"), canonical("1"), price("30000"), tracker)
	if !errors.Is(err, ErrSideConflict) {
		t.Errorf("err = %v, want ErrSideConflict", err)
	}
}

func TestDecreaseAndClose(t *testing.T) {
	pm := NewPositionManager()
	account := uuid.New()
	tracker := big.NewInt(0)

	if _, err := pm.Increase(account, 0, market.SideLong,
		canonical("1000"), canonical("2"), price("30000"), tracker); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Partial reduction keeps the entry price and re-stamps the tracker.
	tracker.SetInt64(-7)
	pos, err := pm.Decrease(account, 0, canonical("1"), canonical("400"), tracker)
	if err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if got := pos.PositionAmount.String(); got != "1."+zeros(18) {
		t.Errorf("amount = %s, want 1", got)
	}
	if got := pos.AveragePrice.String(); got != "30000."+zeros(30) {
		t.Errorf("avg price changed on decrease: %s", got)
	}
	if pos.FundingFeeTracker.Int64() != -7 {
		t.Errorf("tracker not re-stamped: %s", pos.FundingFeeTracker)
	}

	// Reducing past the open amount is rejected.
	if _, err := pm.Decrease(account, 0, canonical("5"), canonical("0"), tracker); err == nil {
		t.Errorf("oversized decrease accepted")
	}

	// Full close removes the position.
	pos, err = pm.Decrease(account, 0, canonical("1"), canonical("600"), tracker)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !pos.IsEmpty() {
		t.Errorf("position not empty after full close")
	}
	if pm.Get(account, 0) != nil {
		t.Errorf("closed position still present")
	}
}

func TestOpenInterestAggregates(t *testing.T) {
	pm := NewPositionManager()
	long1, long2, short1 := uuid.New(), uuid.New(), uuid.New()
	tracker := big.NewInt(0)

	mustIncrease(t, pm, long1, market.SideLong, "3", "30000", tracker)
	mustIncrease(t, pm, long2, market.SideLong, "2", "31000", tracker)
	mustIncrease(t, pm, short1, market.SideShort, "4", "30000", tracker)

	if got := pm.LongOpenInterest(0).String(); got != "5."+zeros(18) {
		t.Errorf("long OI = %s, want 5", got)
	}
	if got := pm.ShortOpenInterest(0).String(); got != "4."+zeros(18) {
		t.Errorf("short OI = %s, want 4", got)
	}

	if _, err := pm.Remove(short1, 0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := pm.ShortOpenInterest(0).String(); got != "0."+zeros(18) {
		t.Errorf("short OI after remove = %s, want 0", got)
	}
}

func TestRestoreRebuildsOpenInterest(t *testing.T) {
	pm := NewPositionManager()
	account := uuid.New()
	tracker := big.NewInt(-3)
	mustIncrease(t, pm, account, market.SideLong, "2", "30000", tracker)

	restored := NewPositionManager()
	for _, pos := range pm.All() {
		restored.Restore(pos.Clone())
	}

	if got := restored.LongOpenInterest(0).String(); got != "2."+zeros(18) {
		t.Errorf("restored long OI = %s, want 2", got)
	}
	if restored.Get(account, 0).FundingFeeTracker.Int64() != -3 {
		t.Errorf("restored tracker mismatch")
	}
}

// ============================================================
// Price store
// ============================================================

func TestPriceStoreOrdering(t *testing.T) {
	ps := NewPriceStore()

	if !ps.Update(0, price("30000"), 10, 1000) {
		t.Fatalf("initial update rejected")
	}

	// Stale and duplicate sequences are ignored.
	if ps.Update(0, price("29000"), 10, 1001) {
		t.Errorf("duplicate sequence accepted")
	}
	if ps.Update(0, price("29000"), 9, 1001) {
		t.Errorf("stale sequence accepted")
	}

	// Gaps are tolerated.
	if !ps.Update(0, price("31000"), 15, 1002) {
		t.Errorf("gapped sequence rejected")
	}

	got, ok := ps.Get(0)
	if !ok || got.String() != "31000."+zeros(30) {
		t.Errorf("price = %s, ok=%v", got, ok)
	}
}

// ============================================================
// Vault manager
// ============================================================

func TestVaultMintBurnAndReserve(t *testing.T) {
	cfg := market.DefaultPairConfigs()[0]
	vm := NewVaultManager()
	vm.Ensure(&cfg.Pair)

	indexIn := fpmath.MustParseAmount("10", cfg.Pair.IndexToken.Decimals)
	stableIn := fpmath.MustParseAmount("300000", cfg.Pair.StableToken.Decimals)
	if err := vm.ApplyMint(0, indexIn, stableIn, canonical("600000")); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Longs reserve index tokens.
	reserve := fpmath.MustParseAmount("4", cfg.Pair.IndexToken.Decimals)
	zeroStable := fpmath.Zero(cfg.Pair.StableToken.Decimals)
	if err := vm.Reserve(0, market.SideLong, reserve, zeroStable); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := vm.Get(0).IndexAvailable().String(); got != "6."+zeros(int(cfg.Pair.IndexToken.Decimals)) {
		t.Errorf("index available = %s, want 6", got)
	}

	// Burn may not dip into reserved balance.
	indexOut := fpmath.MustParseAmount("7", cfg.Pair.IndexToken.Decimals)
	err := vm.ApplyBurn(0, indexOut, zeroStable, canonical("1"))
	if !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Errorf("burn into reserve: err = %v", err)
	}

	// Releasing makes it withdrawable again.
	if err := vm.Release(0, market.SideLong, reserve, zeroStable); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := vm.ApplyBurn(0, indexOut, zeroStable, canonical("1")); err != nil {
		t.Errorf("burn after release: %v", err)
	}
}

func TestVaultSettleStableCannotGoNegative(t *testing.T) {
	cfg := market.DefaultPairConfigs()[0]
	vm := NewVaultManager()
	vm.Ensure(&cfg.Pair)

	credit := fpmath.MustParseAmount("100", cfg.Pair.StableToken.Decimals)
	if err := vm.SettleStable(0, credit); err != nil {
		t.Fatalf("credit: %v", err)
	}

	debit := fpmath.MustParseAmount("-250", cfg.Pair.StableToken.Decimals)
	if err := vm.SettleStable(0, debit); err == nil {
		t.Errorf("overdraft accepted")
	}
	if got := vm.Get(0).StableTotalAmount.String(); got != "100."+zeros(int(cfg.Pair.StableToken.Decimals)) {
		t.Errorf("failed settle mutated vault: %s", got)
	}
}

// ============================================================
// Helpers
// ============================================================

func mustIncrease(t *testing.T, pm *PositionManager, account uuid.UUID, side market.Side, amount, px string, tracker *big.Int) {
	t.Helper()
	if _, err := pm.Increase(account, 0, side, canonical("1000"), canonical(amount), price(px), tracker); err != nil {
		t.Fatalf("increase: %v", err)
	}
}

func zeros(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}
