package math

import (
	"fmt"
	"math/big"
	"strings"
)

// Amount is a signed, arbitrary-precision fixed-point quantity tagged with
// its decimal scale. Arithmetic between two Amounts requires equal scales;
// mixing scales without an explicit Convert is a programming error and
// panics rather than silently producing a wrong magnitude.
type Amount struct {
	value    *big.Int
	decimals uint32
}

// NewAmount creates an Amount from a raw scaled integer. The value is copied.
func NewAmount(value *big.Int, decimals uint32) Amount {
	if value == nil {
		return Amount{value: new(big.Int), decimals: decimals}
	}
	return Amount{value: new(big.Int).Set(value), decimals: decimals}
}

// NewAmountFromInt64 creates an Amount from a raw scaled int64.
func NewAmountFromInt64(value int64, decimals uint32) Amount {
	return Amount{value: big.NewInt(value), decimals: decimals}
}

// Zero returns the zero Amount at the given scale.
func Zero(decimals uint32) Amount {
	return Amount{value: new(big.Int), decimals: decimals}
}

// MustParseAmount parses a decimal string like "1000.5" into an Amount at
// the given scale. Digits beyond the scale are rejected, not rounded.
// Panics on malformed input; intended for constants and tests.
func MustParseAmount(s string, decimals uint32) Amount {
	a, err := ParseAmount(s, decimals)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAmount parses a decimal string into an Amount at the given scale.
func ParseAmount(s string, decimals uint32) (Amount, error) {
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimPrefix(s, "-")

	intPart := body
	fracPart := ""
	if i := strings.IndexByte(body, '.'); i >= 0 {
		intPart, fracPart = body[:i], body[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if uint32(len(fracPart)) > decimals {
		return Amount{}, fmt.Errorf("parse %q: %d fractional digits exceed scale %d: %w",
			s, len(fracPart), decimals, ErrPrecision)
	}
	fracPart += strings.Repeat("0", int(decimals)-len(fracPart))

	v, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return Amount{}, fmt.Errorf("parse %q: not a decimal number", s)
	}
	if neg {
		v.Neg(v)
	}
	return Amount{value: v, decimals: decimals}, nil
}

// BigInt returns a copy of the raw scaled integer value.
func (a Amount) BigInt() *big.Int {
	if a.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.value)
}

// Decimals returns the decimal scale.
func (a Amount) Decimals() uint32 { return a.decimals }

// IsZero reports whether the value is zero.
func (a Amount) IsZero() bool { return a.value == nil || a.value.Sign() == 0 }

// Sign returns -1, 0, or +1.
func (a Amount) Sign() int {
	if a.value == nil {
		return 0
	}
	return a.value.Sign()
}

// Cmp compares two Amounts of the same scale.
func (a Amount) Cmp(b Amount) int {
	a.mustMatch(b)
	return a.BigInt().Cmp(b.BigInt())
}

// Add returns a+b. Scales must match.
func (a Amount) Add(b Amount) Amount {
	a.mustMatch(b)
	return Amount{value: new(big.Int).Add(a.BigInt(), b.BigInt()), decimals: a.decimals}
}

// Sub returns a-b. Scales must match.
func (a Amount) Sub(b Amount) Amount {
	a.mustMatch(b)
	return Amount{value: new(big.Int).Sub(a.BigInt(), b.BigInt()), decimals: a.decimals}
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{value: new(big.Int).Neg(a.BigInt()), decimals: a.decimals}
}

// Abs returns |a|.
func (a Amount) Abs() Amount {
	return Amount{value: new(big.Int).Abs(a.BigInt()), decimals: a.decimals}
}

// MulRat returns a*num/den at a's scale, truncated toward zero.
func (a Amount) MulRat(num, den *big.Int) Amount {
	return Amount{value: MulDiv(a.BigInt(), num, den), decimals: a.decimals}
}

// ApplyRate returns a*p/1e8 truncated toward zero, for parts-per-1e8 rates.
func (a Amount) ApplyRate(p int64) Amount {
	return Amount{value: ApplyPercent(a.BigInt(), p), decimals: a.decimals}
}

// Convert rescales to a different decimal scale, truncating toward zero
// when scaling down.
func (a Amount) Convert(to uint32) Amount {
	v, err := ConvertDecimals(a.BigInt(), int32(a.decimals), int32(to))
	if err != nil {
		// Unreachable with uint32 scales; ConvertDecimals only rejects
		// negative scales.
		panic(err)
	}
	return Amount{value: v, decimals: to}
}

// Canonical rescales to the canonical 18-decimal value scale.
func (a Amount) Canonical() Amount { return a.Convert(CanonicalDecimals) }

// ToFixedPrice rescales a price quoted at the token's native scale to the
// protocol's 30-decimal price scale.
func (a Amount) ToFixedPrice() Amount { return a.Convert(PriceDecimals) }

// FromFixedPrice rescales a 30-decimal price to the given native scale.
func (a Amount) FromFixedPrice(decimals uint32) Amount { return a.Convert(decimals) }

// String renders the amount as a plain decimal string.
func (a Amount) String() string {
	v := a.BigInt()
	neg := v.Sign() < 0
	v.Abs(v)

	s := v.String()
	if uint32(len(s)) <= a.decimals {
		s = strings.Repeat("0", int(a.decimals)-len(s)+1) + s
	}
	out := s
	if a.decimals > 0 {
		cut := len(s) - int(a.decimals)
		out = s[:cut] + "." + s[cut:]
	}
	if neg {
		out = "-" + out
	}
	return out
}

func (a Amount) mustMatch(b Amount) {
	if a.decimals != b.decimals {
		panic(fmt.Sprintf("amount scale mismatch: %d vs %d (convert first)", a.decimals, b.decimals))
	}
}
