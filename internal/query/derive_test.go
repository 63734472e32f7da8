package query

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestUnrealizedPnl_LongAndShort(t *testing.T) {
	amount := dec("2")
	avg := dec("30000")

	long := unrealizedPnl("Long", amount, avg, dec("31000"))
	if !long.Equal(dec("2000")) {
		t.Errorf("long pnl = %s, want 2000", long)
	}

	short := unrealizedPnl("Short", amount, avg, dec("31000"))
	if !short.Equal(dec("-2000")) {
		t.Errorf("short pnl = %s, want -2000", short)
	}
}

func TestUnrealizedPnl_ZeroMarkPrice(t *testing.T) {
	got := unrealizedPnl("Long", dec("2"), dec("30000"), decimal.Zero)
	if !got.IsZero() {
		t.Errorf("pnl without a price tick = %s, want 0", got)
	}
}

func TestMaintainMarginRate_FallsBackToDefaults(t *testing.T) {
	// Projected value wins when present.
	if got := maintainMarginRate(0, 2_000_000); got != 2_000_000 {
		t.Errorf("projected rate = %d, want 2000000", got)
	}

	// Pair 0 defaults to 1% when no config was projected.
	if got := maintainMarginRate(0, -1); got != 1_000_000 {
		t.Errorf("default rate = %d, want 1000000", got)
	}

	// Unknown pairs have no rate.
	if got := maintainMarginRate(999, -1); got != 0 {
		t.Errorf("unknown pair rate = %d, want 0", got)
	}
}

func TestApplyRisk_MarksLiquidatable(t *testing.T) {
	// 1 unit at mark 30000, 1% maintenance rate: margin floor is 300.
	p := PositionResponse{
		Side:           "Long",
		Collateral:     dec("500"),
		PositionAmount: dec("1"),
		AveragePrice:   dec("30300"),
	}
	mark := dec("30000")
	p.UnrealizedPnl = unrealizedPnl(p.Side, p.PositionAmount, p.AveragePrice, mark)

	applyRisk(&p, mark, 1_000_000)

	if !p.MaintenanceMargin.Equal(dec("300")) {
		t.Errorf("maintenance margin = %s, want 300", p.MaintenanceMargin)
	}
	if !p.NetAsset.Equal(dec("200")) { // 500 collateral - 300 loss
		t.Errorf("net asset = %s, want 200", p.NetAsset)
	}
	if !p.Liquidatable {
		t.Error("position below margin floor should be liquidatable")
	}
}

func TestApplyRisk_HealthyPosition(t *testing.T) {
	p := PositionResponse{
		Side:           "Long",
		Collateral:     dec("500"),
		PositionAmount: dec("1"),
		AveragePrice:   dec("29000"),
	}
	mark := dec("30000")
	p.UnrealizedPnl = unrealizedPnl(p.Side, p.PositionAmount, p.AveragePrice, mark)

	applyRisk(&p, mark, 1_000_000)

	if p.Liquidatable {
		t.Error("profitable position should not be liquidatable")
	}
	if !p.NetAsset.Equal(dec("1500")) {
		t.Errorf("net asset = %s, want 1500", p.NetAsset)
	}
}

func TestApplyRisk_NoPriceTick(t *testing.T) {
	p := PositionResponse{Side: "Long", Collateral: dec("500"), PositionAmount: dec("1")}
	applyRisk(&p, decimal.Zero, 1_000_000)
	if p.Liquidatable || !p.MaintenanceMargin.IsZero() {
		t.Error("risk fields must stay zero without a price tick")
	}
}
