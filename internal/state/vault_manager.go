package state

import (
	"fmt"

	fpmath "PerpPool/internal/math"
	"PerpPool/internal/market"
)

// VaultManager holds the per-pair vault reserves. Every mutation is
// applied to a clone and validated before commit, so a rejected
// operation leaves the vault untouched.
type VaultManager struct {
	vaults map[uint32]*market.Vault
}

func NewVaultManager() *VaultManager {
	return &VaultManager{vaults: make(map[uint32]*market.Vault)}
}

// Ensure returns the pair's vault, creating an empty one if needed.
func (vm *VaultManager) Ensure(pair *market.Pair) *market.Vault {
	v, ok := vm.vaults[pair.PairIndex]
	if !ok {
		v = market.NewVault(pair)
		vm.vaults[pair.PairIndex] = v
	}
	return v
}

// Get returns the pair's vault or nil.
func (vm *VaultManager) Get(pairIndex uint32) *market.Vault {
	return vm.vaults[pairIndex]
}

// ApplyMint credits an LP deposit: the deposited token amounts enter
// the pool and LP tokens are minted. The deposit fee stays in the pool
// as LP yield, so the full deposit is credited while the mint reflects
// only after-fee value.
func (vm *VaultManager) ApplyMint(pairIndex uint32, indexIn, stableIn, lpMint fpmath.Amount) error {
	v := vm.vaults[pairIndex]
	if v == nil {
		return fmt.Errorf("apply mint: no vault for pair %d", pairIndex)
	}

	next := v.Clone()
	next.IndexTotalAmount = next.IndexTotalAmount.Add(indexIn)
	next.StableTotalAmount = next.StableTotalAmount.Add(stableIn)
	next.LpTotalSupply = next.LpTotalSupply.Add(lpMint)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("apply mint: %w", err)
	}

	vm.vaults[pairIndex] = next
	return nil
}

// ApplyBurn debits an LP withdrawal: token amounts leave the pool and
// LP tokens are burned.
func (vm *VaultManager) ApplyBurn(pairIndex uint32, indexOut, stableOut, lpBurn fpmath.Amount) error {
	v := vm.vaults[pairIndex]
	if v == nil {
		return fmt.Errorf("apply burn: no vault for pair %d", pairIndex)
	}

	next := v.Clone()
	next.IndexTotalAmount = next.IndexTotalAmount.Sub(indexOut)
	next.StableTotalAmount = next.StableTotalAmount.Sub(stableOut)
	next.LpTotalSupply = next.LpTotalSupply.Sub(lpBurn)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("apply burn: %w", err)
	}

	vm.vaults[pairIndex] = next
	return nil
}

// Reserve locks pool balance against an opened position. Longs
// reserve index tokens for their potential payout; shorts reserve
// stable tokens at the open notional.
func (vm *VaultManager) Reserve(pairIndex uint32, side market.Side, indexDelta, stableDelta fpmath.Amount) error {
	return vm.adjustReserved(pairIndex, side, indexDelta, stableDelta, false)
}

// Release unlocks reserved balance when a position shrinks or closes.
func (vm *VaultManager) Release(pairIndex uint32, side market.Side, indexDelta, stableDelta fpmath.Amount) error {
	return vm.adjustReserved(pairIndex, side, indexDelta, stableDelta, true)
}

func (vm *VaultManager) adjustReserved(pairIndex uint32, side market.Side, indexDelta, stableDelta fpmath.Amount, release bool) error {
	v := vm.vaults[pairIndex]
	if v == nil {
		return fmt.Errorf("adjust reserved: no vault for pair %d", pairIndex)
	}

	next := v.Clone()
	switch side {
	case market.SideLong:
		if release {
			next.IndexReservedAmount = next.IndexReservedAmount.Sub(indexDelta)
		} else {
			next.IndexReservedAmount = next.IndexReservedAmount.Add(indexDelta)
		}
	case market.SideShort:
		if release {
			next.StableReservedAmount = next.StableReservedAmount.Sub(stableDelta)
		} else {
			next.StableReservedAmount = next.StableReservedAmount.Add(stableDelta)
		}
	default:
		return fmt.Errorf("adjust reserved: invalid side %s", side)
	}

	if err := next.Validate(); err != nil {
		return fmt.Errorf("adjust reserved: %w", err)
	}

	vm.vaults[pairIndex] = next
	return nil
}

// SettleStable applies a signed stable-token flow into or out of the
// pool, for trader PnL settlement and fee credits.
func (vm *VaultManager) SettleStable(pairIndex uint32, delta fpmath.Amount) error {
	v := vm.vaults[pairIndex]
	if v == nil {
		return fmt.Errorf("settle stable: no vault for pair %d", pairIndex)
	}

	next := v.Clone()
	next.StableTotalAmount = next.StableTotalAmount.Add(delta)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("settle stable: %w", err)
	}

	vm.vaults[pairIndex] = next
	return nil
}

// Restore installs a vault during snapshot recovery.
func (vm *VaultManager) Restore(pairIndex uint32, v *market.Vault) {
	vm.vaults[pairIndex] = v
}

// All returns the full vault map for snapshotting.
func (vm *VaultManager) All() map[uint32]*market.Vault {
	result := make(map[uint32]*market.Vault, len(vm.vaults))
	for k, v := range vm.vaults {
		result[k] = v
	}
	return result
}
