package market

// Side represents position direction. Funding and fee sign logic switches
// exhaustively on this rather than on a boolean so that every call site is
// reviewable.
type Side int32

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "Long"
	case SideShort:
		return "Short"
	case SideFlat:
		return "Flat"
	default:
		return "Unknown"
	}
}

// Sign returns +1 for long, -1 for short, 0 for flat.
func (s Side) Sign() int64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// Opposite returns the opposing side; flat maps to flat.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// ParseSide converts a wire string into a Side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "long":
		return SideLong, true
	case "short":
		return SideShort, true
	case "flat":
		return SideFlat, true
	default:
		return SideFlat, false
	}
}
