package state

import (
	"math/big"

	fpmath "PerpPool/internal/math"
	"PerpPool/internal/market"

	"github.com/google/uuid"
)

// PositionKey identifies one account's position on one trading pair.
// An account holds at most one position per pair.
type PositionKey struct {
	Account   uuid.UUID
	PairIndex uint32
}

// Position represents an account's open position on a trading pair.
// All monetary fields are canonical 18-decimal amounts except
// AveragePrice, which carries the 30-decimal price scale.
type Position struct {
	Account        uuid.UUID
	PairIndex      uint32
	Side           market.Side
	Collateral     fpmath.Amount // stable token, canonical scale
	PositionAmount fpmath.Amount // index token, canonical scale
	AveragePrice   fpmath.Amount // price scale
	// FundingFeeTracker is the global per-pair funding tracker value
	// stamped at the last open/increase/settlement touching this
	// position. The owed funding fee is derived from the difference
	// against the current global tracker.
	FundingFeeTracker *big.Int

	// ReservedIndex and ReservedStable are the vault balances locked
	// against this position, at each token's native scale. Longs lock
	// index tokens, shorts lock stable at the open notional. The core
	// maintains these so the full remainder is released on close.
	ReservedIndex  fpmath.Amount
	ReservedStable fpmath.Amount

	Version int64
}

func (p *Position) Key() PositionKey {
	return PositionKey{Account: p.Account, PairIndex: p.PairIndex}
}

// IsEmpty returns true if the position has no exposure.
func (p *Position) IsEmpty() bool {
	return p.Side == market.SideFlat || p.PositionAmount.IsZero()
}

// Notional returns the position value at its average entry price,
// as a canonical stable amount.
func (p *Position) Notional() fpmath.Amount {
	return p.PositionAmount.MulRat(p.AveragePrice.BigInt(), fpmath.PricePrecision)
}

// Clone returns a deep copy safe for snapshotting.
func (p *Position) Clone() *Position {
	cp := *p
	cp.FundingFeeTracker = new(big.Int).Set(p.FundingFeeTracker)
	return &cp
}

// CanonicalBytes returns a deterministic serialization used for
// state hashing.
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 160)

	buf = append(buf, p.Account[:]...)
	buf = appendUint32BE(buf, p.PairIndex)
	buf = append(buf, byte(p.Side))
	buf = appendBig(buf, p.Collateral.BigInt())
	buf = appendBig(buf, p.PositionAmount.BigInt())
	buf = appendBig(buf, p.AveragePrice.BigInt())
	buf = appendBig(buf, p.FundingFeeTracker)
	buf = appendBig(buf, p.ReservedIndex.BigInt())
	buf = appendBig(buf, p.ReservedStable.BigInt())

	return buf
}

func appendUint32BE(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// appendBig encodes a big.Int as sign byte + 2-byte length + magnitude.
func appendBig(buf []byte, v *big.Int) []byte {
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	mag := v.Bytes()
	buf = append(buf, sign, byte(len(mag)>>8), byte(len(mag)))
	return append(buf, mag...)
}
