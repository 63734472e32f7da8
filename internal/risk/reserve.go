package risk

import (
	"errors"
	"fmt"
	"math/big"

	fpmath "PerpPool/internal/math"
)

var (
	// ErrInsufficientBalance is returned when a withdrawal exceeds
	// the reserve balance for an asset.
	ErrInsufficientBalance = errors.New("insufficient reserve balance")

	// ErrUnauthorized is returned when a principal other than the
	// DAO attempts a withdrawal.
	ErrUnauthorized = errors.New("unauthorized")
)

// Reserve is the protocol's per-asset risk buffer. Liquidation
// settlements push signed deltas into it, so a balance can go
// negative when liquidations land late; recharges top it back up.
// Only the DAO principal may withdraw. Balances are canonical
// 18-decimal amounts keyed by stable asset symbol.
type Reserve struct {
	dao      string
	balances map[string]*big.Int
}

func NewReserve(daoPrincipal string) *Reserve {
	return &Reserve{
		dao:      daoPrincipal,
		balances: make(map[string]*big.Int),
	}
}

// Balance returns the current reserve balance for an asset.
func (r *Reserve) Balance(asset string) fpmath.Amount {
	return fpmath.NewAmount(r.balances[asset], fpmath.CanonicalDecimals)
}

// Recharge credits the reserve. Anyone may recharge.
func (r *Reserve) Recharge(asset string, amount fpmath.Amount) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("recharge: amount must be positive")
	}
	r.add(asset, amount.Canonical().BigInt())
	return nil
}

// ApplyLiquidation folds a liquidation's signed net asset into the
// reserve. A surplus grows it; a deficit drives it down, possibly
// below zero.
func (r *Reserve) ApplyLiquidation(asset string, delta fpmath.Amount) {
	r.add(asset, delta.Canonical().BigInt())
}

// Withdraw debits the reserve. Only the DAO principal is authorized,
// and the balance must cover the full amount.
func (r *Reserve) Withdraw(principal, asset string, amount fpmath.Amount) error {
	if principal != r.dao {
		return fmt.Errorf("withdraw by %q: %w", principal, ErrUnauthorized)
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("withdraw: amount must be positive")
	}

	want := amount.Canonical().BigInt()
	cur, ok := r.balances[asset]
	if !ok || cur.Cmp(want) < 0 {
		return fmt.Errorf("withdraw %s %s: %w", amount, asset, ErrInsufficientBalance)
	}

	cur.Sub(cur, want)
	return nil
}

// Restore installs a balance during snapshot recovery.
func (r *Reserve) Restore(asset string, balance *big.Int) {
	r.balances[asset] = new(big.Int).Set(balance)
}

// All returns a copy of every balance for snapshotting.
func (r *Reserve) All() map[string]*big.Int {
	result := make(map[string]*big.Int, len(r.balances))
	for k, v := range r.balances {
		result[k] = new(big.Int).Set(v)
	}
	return result
}

func (r *Reserve) add(asset string, delta *big.Int) {
	cur, ok := r.balances[asset]
	if !ok {
		cur = new(big.Int)
		r.balances[asset] = cur
	}
	cur.Add(cur, delta)
}
