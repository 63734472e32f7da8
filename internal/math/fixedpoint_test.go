package math_test

import (
	"errors"
	"math/big"
	"testing"

	fpmath "PerpPool/internal/math"
)

func TestConvertDecimals_ScaleUpExact(t *testing.T) {
	// 1.5 USDT at 6 decimals -> 18 decimals
	v := big.NewInt(1_500_000)
	got, err := fpmath.ConvertDecimals(v, 6, 18)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestConvertDecimals_ScaleDownTruncatesTowardZero(t *testing.T) {
	// 1.999999 at 6 decimals -> 0 decimals is 1, not 2
	got, err := fpmath.ConvertDecimals(big.NewInt(1_999_999), 6, 0)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.Int64() != 1 {
		t.Errorf("got %d, want 1", got.Int64())
	}

	// Negative values also truncate toward zero, not toward -inf
	got, _ = fpmath.ConvertDecimals(big.NewInt(-1_999_999), 6, 0)
	if got.Int64() != -1 {
		t.Errorf("got %d, want -1", got.Int64())
	}
}

func TestConvertDecimals_NegativeScaleRejected(t *testing.T) {
	_, err := fpmath.ConvertDecimals(big.NewInt(1), 6, -1)
	if !errors.Is(err, fpmath.ErrPrecision) {
		t.Errorf("want ErrPrecision, got %v", err)
	}
}

func TestMulDiv_TruncatesTowardZero(t *testing.T) {
	cases := []struct {
		x, y, d int64
		want    int64
	}{
		{7, 3, 2, 10},    // 21/2
		{-7, 3, 2, -10},  // -21/2 truncates to -10, not -11
		{1, 1, 3, 0},     // 1/3
		{100, 30, 100, 30},
	}
	for _, c := range cases {
		got := fpmath.MulDiv(big.NewInt(c.x), big.NewInt(c.y), big.NewInt(c.d))
		if got.Int64() != c.want {
			t.Errorf("MulDiv(%d,%d,%d) = %d, want %d", c.x, c.y, c.d, got.Int64(), c.want)
		}
	}
}

func TestSqrt_Floor(t *testing.T) {
	cases := []struct{ in, want int64 }{
		{0, 0}, {1, 1}, {2, 1}, {3, 1}, {4, 2}, {8, 2}, {9, 3}, {99, 9}, {100, 10},
	}
	for _, c := range cases {
		got, err := fpmath.Sqrt(big.NewInt(c.in))
		if err != nil {
			t.Fatalf("sqrt(%d): %v", c.in, err)
		}
		if got.Int64() != c.want {
			t.Errorf("sqrt(%d) = %d, want %d", c.in, got.Int64(), c.want)
		}
	}
}

func TestSqrt_LargeExact(t *testing.T) {
	// (10^21)^2 = 10^42; a float64 sqrt would lose the low digits
	base, _ := new(big.Int).SetString("1000000000000000000001", 10)
	sq := new(big.Int).Mul(base, base)

	got, err := fpmath.Sqrt(sq)
	if err != nil {
		t.Fatalf("sqrt: %v", err)
	}
	if got.Cmp(base) != 0 {
		t.Errorf("got %s, want %s", got, base)
	}

	// One below a perfect square floors down
	sq.Sub(sq, big.NewInt(1))
	got, _ = fpmath.Sqrt(sq)
	want := new(big.Int).Sub(base, big.NewInt(1))
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestSqrt_NegativeRejected(t *testing.T) {
	_, err := fpmath.Sqrt(big.NewInt(-1))
	if !errors.Is(err, fpmath.ErrPrecision) {
		t.Errorf("want ErrPrecision, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	a := fpmath.MustParseAmount("30000", fpmath.PriceDecimals)
	want := new(big.Int).Mul(big.NewInt(30000), fpmath.PricePrecision)
	if a.BigInt().Cmp(want) != 0 {
		t.Errorf("got %s, want %s", a.BigInt(), want)
	}

	b := fpmath.MustParseAmount("-1.5", 6)
	if b.BigInt().Int64() != -1_500_000 {
		t.Errorf("got %d, want -1500000", b.BigInt().Int64())
	}

	if _, err := fpmath.ParseAmount("0.1234567", 6); !errors.Is(err, fpmath.ErrPrecision) {
		t.Errorf("excess fractional digits: want ErrPrecision, got %v", err)
	}
}

func TestAmount_String(t *testing.T) {
	cases := []struct {
		in   string
		dec  uint32
		want string
	}{
		{"1000", 6, "1000.000000"},
		{"-0.5", 6, "-0.500000"},
		{"0", 0, "0"},
	}
	for _, c := range cases {
		a := fpmath.MustParseAmount(c.in, c.dec)
		if got := a.String(); got != c.want {
			t.Errorf("String(%s@%d) = %q, want %q", c.in, c.dec, got, c.want)
		}
	}
}

func TestAmount_MismatchedScalePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("adding mismatched scales should panic")
		}
	}()
	a := fpmath.NewAmountFromInt64(1, 6)
	b := fpmath.NewAmountFromInt64(1, 18)
	a.Add(b)
}

func TestAmount_ApplyRate(t *testing.T) {
	// 0.1% of 1000.000000
	a := fpmath.MustParseAmount("1000", 6)
	got := a.ApplyRate(100_000)
	if got.String() != "1.000000" {
		t.Errorf("got %s, want 1.000000", got)
	}
}

func TestAmount_FixedPriceRoundTrip(t *testing.T) {
	// A price quoted at the stable token's native scale up-scales
	// exactly to the 30-decimal protocol scale and back.
	native := fpmath.MustParseAmount("64123.55", 6)

	fixed := native.ToFixedPrice()
	if fixed.Decimals() != fpmath.PriceDecimals {
		t.Fatalf("got scale %d, want %d", fixed.Decimals(), fpmath.PriceDecimals)
	}
	if fixed.Cmp(fpmath.MustParseAmount("64123.55", fpmath.PriceDecimals)) != 0 {
		t.Errorf("fixed price: got %s, want 64123.55", fixed)
	}

	back := fixed.FromFixedPrice(6)
	if back.Cmp(native) != 0 {
		t.Errorf("round trip: got %s, want %s", back, native)
	}
}

func TestAmount_FromFixedPrice_TruncatesSubScale(t *testing.T) {
	fixed := fpmath.MustParseAmount("0.123456789", fpmath.PriceDecimals)
	got := fixed.FromFixedPrice(6)
	if got.String() != "0.123456" {
		t.Errorf("got %s, want 0.123456", got)
	}
}
