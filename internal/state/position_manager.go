package state

import (
	"errors"
	"fmt"
	"math/big"

	fpmath "PerpPool/internal/math"
	"PerpPool/internal/market"

	"github.com/google/uuid"
)

var (
	// ErrPositionNotFound is returned when an operation targets a
	// position that does not exist.
	ErrPositionNotFound = errors.New("position not found")

	// ErrSideConflict is returned when an increase targets a position
	// held on the opposite side. Reductions go through Decrease.
	ErrSideConflict = errors.New("position side conflict")
)

// PositionManager holds all open positions and the per-pair open
// interest aggregates the funding engine reads.
type PositionManager struct {
	positions map[PositionKey]*Position
	longOI    map[uint32]*big.Int // canonical index units
	shortOI   map[uint32]*big.Int
}

func NewPositionManager() *PositionManager {
	return &PositionManager{
		positions: make(map[PositionKey]*Position),
		longOI:    make(map[uint32]*big.Int),
		shortOI:   make(map[uint32]*big.Int),
	}
}

// Get returns the existing position or nil.
func (pm *PositionManager) Get(account uuid.UUID, pairIndex uint32) *Position {
	return pm.positions[PositionKey{Account: account, PairIndex: pairIndex}]
}

// Increase opens or grows a position. The average entry price is the
// amount-weighted mean of the old entry and the fill price. The
// funding tracker is stamped with the current global value; the
// caller settles any funding owed on the prior amount first.
func (pm *PositionManager) Increase(
	account uuid.UUID,
	pairIndex uint32,
	side market.Side,
	collateralDelta fpmath.Amount,
	amountDelta fpmath.Amount,
	price fpmath.Amount,
	globalTracker *big.Int,
) (*Position, error) {
	if side != market.SideLong && side != market.SideShort {
		return nil, fmt.Errorf("increase: invalid side %s", side)
	}
	if amountDelta.Sign() <= 0 {
		return nil, fmt.Errorf("increase: position amount delta must be positive")
	}
	if price.Decimals() != fpmath.PriceDecimals || price.Sign() <= 0 {
		return nil, fmt.Errorf("increase: invalid price")
	}

	key := PositionKey{Account: account, PairIndex: pairIndex}
	pos := pm.positions[key]

	// A fee debit may net the delta negative on an existing position,
	// but the resulting collateral must stay non-negative.
	if pos == nil && collateralDelta.Sign() < 0 {
		return nil, fmt.Errorf("increase: collateral delta must not be negative")
	}
	if pos != nil && pos.Collateral.Add(collateralDelta).Sign() < 0 {
		return nil, fmt.Errorf("increase: collateral would go negative")
	}

	if pos == nil {
		pos = &Position{
			Account:           account,
			PairIndex:         pairIndex,
			Side:              side,
			Collateral:        collateralDelta,
			PositionAmount:    amountDelta,
			AveragePrice:      price,
			FundingFeeTracker: new(big.Int).Set(globalTracker),
			Version:           1,
		}
		pm.positions[key] = pos
		pm.addOI(pairIndex, side, amountDelta.BigInt())
		return pos, nil
	}

	if pos.Side != side {
		return nil, fmt.Errorf("%w: have %s, got %s", ErrSideConflict, pos.Side, side)
	}

	pos.AveragePrice = WeightedEntryPrice(pos.PositionAmount, pos.AveragePrice, amountDelta, price)
	pos.Collateral = pos.Collateral.Add(collateralDelta)
	pos.PositionAmount = pos.PositionAmount.Add(amountDelta)
	pos.FundingFeeTracker = new(big.Int).Set(globalTracker)
	pos.Version++
	pm.addOI(pairIndex, side, amountDelta.BigInt())

	return pos, nil
}

// Decrease shrinks a position by amountDelta and withdraws
// collateralDelta. A reduction to zero removes the position. The
// entry price is unchanged; realized PnL settlement is the caller's
// concern. The funding tracker is re-stamped on partial reductions.
func (pm *PositionManager) Decrease(
	account uuid.UUID,
	pairIndex uint32,
	amountDelta fpmath.Amount,
	collateralDelta fpmath.Amount,
	globalTracker *big.Int,
) (*Position, error) {
	key := PositionKey{Account: account, PairIndex: pairIndex}
	pos := pm.positions[key]
	if pos == nil {
		return nil, fmt.Errorf("%w: account=%s pair=%d", ErrPositionNotFound, account, pairIndex)
	}

	if amountDelta.Sign() < 0 || amountDelta.Cmp(pos.PositionAmount) > 0 {
		return nil, fmt.Errorf("decrease: amount delta %s exceeds position %s",
			amountDelta, pos.PositionAmount)
	}
	if collateralDelta.Sign() < 0 || collateralDelta.Cmp(pos.Collateral) > 0 {
		return nil, fmt.Errorf("decrease: collateral delta %s exceeds collateral %s",
			collateralDelta, pos.Collateral)
	}

	pm.subOI(pairIndex, pos.Side, amountDelta.BigInt())

	pos.PositionAmount = pos.PositionAmount.Sub(amountDelta)
	pos.Collateral = pos.Collateral.Sub(collateralDelta)
	pos.Version++

	if pos.PositionAmount.IsZero() {
		delete(pm.positions, key)
		pos.Side = market.SideFlat
		return pos, nil
	}

	pos.FundingFeeTracker = new(big.Int).Set(globalTracker)
	return pos, nil
}

// Remove deletes a position outright, releasing its open interest.
// Used by liquidation, where the whole position is torn down.
func (pm *PositionManager) Remove(account uuid.UUID, pairIndex uint32) (*Position, error) {
	key := PositionKey{Account: account, PairIndex: pairIndex}
	pos := pm.positions[key]
	if pos == nil {
		return nil, fmt.Errorf("%w: account=%s pair=%d", ErrPositionNotFound, account, pairIndex)
	}

	pm.subOI(pairIndex, pos.Side, pos.PositionAmount.BigInt())
	delete(pm.positions, key)
	return pos, nil
}

// LongOpenInterest returns the summed long position amount for a pair
// in canonical index units.
func (pm *PositionManager) LongOpenInterest(pairIndex uint32) fpmath.Amount {
	return fpmath.NewAmount(pm.oi(pm.longOI, pairIndex), fpmath.CanonicalDecimals)
}

// ShortOpenInterest returns the summed short position amount for a
// pair in canonical index units.
func (pm *PositionManager) ShortOpenInterest(pairIndex uint32) fpmath.Amount {
	return fpmath.NewAmount(pm.oi(pm.shortOI, pairIndex), fpmath.CanonicalDecimals)
}

// Exposure returns the signed long-short imbalance for a pair in
// canonical index units.
func (pm *PositionManager) Exposure(pairIndex uint32) fpmath.Amount {
	diff := pm.oi(pm.longOI, pairIndex)
	diff.Sub(diff, pm.oi(pm.shortOI, pairIndex))
	return fpmath.NewAmount(diff, fpmath.CanonicalDecimals)
}

// ForPair returns all open positions on a pair.
func (pm *PositionManager) ForPair(pairIndex uint32) []*Position {
	result := make([]*Position, 0)
	for key, pos := range pm.positions {
		if key.PairIndex == pairIndex {
			result = append(result, pos)
		}
	}
	return result
}

// ForAccount returns all open positions held by an account.
func (pm *PositionManager) ForAccount(account uuid.UUID) []*Position {
	result := make([]*Position, 0)
	for key, pos := range pm.positions {
		if key.Account == account {
			result = append(result, pos)
		}
	}
	return result
}

// All returns every open position.
func (pm *PositionManager) All() []*Position {
	result := make([]*Position, 0, len(pm.positions))
	for _, pos := range pm.positions {
		result = append(result, pos)
	}
	return result
}

// Restore installs a position during snapshot recovery, rebuilding
// the open interest aggregates. Only valid on a fresh manager.
func (pm *PositionManager) Restore(pos *Position) {
	pm.positions[pos.Key()] = pos
	if !pos.IsEmpty() {
		pm.addOI(pos.PairIndex, pos.Side, pos.PositionAmount.BigInt())
	}
}

func (pm *PositionManager) addOI(pairIndex uint32, side market.Side, delta *big.Int) {
	m := pm.longOI
	if side == market.SideShort {
		m = pm.shortOI
	}
	cur, ok := m[pairIndex]
	if !ok {
		cur = new(big.Int)
		m[pairIndex] = cur
	}
	cur.Add(cur, delta)
}

func (pm *PositionManager) subOI(pairIndex uint32, side market.Side, delta *big.Int) {
	m := pm.longOI
	if side == market.SideShort {
		m = pm.shortOI
	}
	cur, ok := m[pairIndex]
	if !ok {
		cur = new(big.Int)
		m[pairIndex] = cur
	}
	cur.Sub(cur, delta)
}

func (pm *PositionManager) oi(m map[uint32]*big.Int, pairIndex uint32) *big.Int {
	cur, ok := m[pairIndex]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(cur)
}

// WeightedEntryPrice computes the amount-weighted average of the old
// entry price and the new fill price, truncating toward zero.
func WeightedEntryPrice(oldAmount fpmath.Amount, oldPrice fpmath.Amount, deltaAmount fpmath.Amount, fillPrice fpmath.Amount) fpmath.Amount {
	oldNotional := new(big.Int).Mul(oldAmount.BigInt(), oldPrice.BigInt())
	newNotional := new(big.Int).Mul(deltaAmount.BigInt(), fillPrice.BigInt())
	total := new(big.Int).Add(oldAmount.BigInt(), deltaAmount.BigInt())

	avg := new(big.Int).Add(oldNotional, newNotional)
	avg.Quo(avg, total)
	return fpmath.NewAmount(avg, fpmath.PriceDecimals)
}
