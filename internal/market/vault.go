package market

import (
	"fmt"

	fpmath "PerpPool/internal/math"
)

// Vault is the mutable per-pair reserve snapshot. Total amounts are the
// full reserves; reserved amounts back open positions and are unavailable
// for LP withdrawal. Invariant: reserved <= total on each side.
// Amounts are at each token's native scale; LpTotalSupply is 18-decimal.
type Vault struct {
	IndexTotalAmount     fpmath.Amount
	StableTotalAmount    fpmath.Amount
	IndexReservedAmount  fpmath.Amount
	StableReservedAmount fpmath.Amount
	LpTotalSupply        fpmath.Amount
}

// NewVault returns an empty vault at the pair's token scales.
func NewVault(p *Pair) *Vault {
	return &Vault{
		IndexTotalAmount:     fpmath.Zero(p.IndexToken.Decimals),
		StableTotalAmount:    fpmath.Zero(p.StableToken.Decimals),
		IndexReservedAmount:  fpmath.Zero(p.IndexToken.Decimals),
		StableReservedAmount: fpmath.Zero(p.StableToken.Decimals),
		LpTotalSupply:        fpmath.Zero(fpmath.CanonicalDecimals),
	}
}

// IndexAvailable returns the index balance not reserved against positions.
func (v *Vault) IndexAvailable() fpmath.Amount {
	return v.IndexTotalAmount.Sub(v.IndexReservedAmount)
}

// StableAvailable returns the stable balance not reserved against positions.
func (v *Vault) StableAvailable() fpmath.Amount {
	return v.StableTotalAmount.Sub(v.StableReservedAmount)
}

// Validate checks the reserved-within-total invariant.
func (v *Vault) Validate() error {
	if v.IndexTotalAmount.Sign() < 0 || v.StableTotalAmount.Sign() < 0 {
		return fmt.Errorf("negative vault total: %w", ErrInvalidConfiguration)
	}
	if v.IndexReservedAmount.Sign() < 0 || v.StableReservedAmount.Sign() < 0 {
		return fmt.Errorf("negative vault reserve: %w", ErrInvalidConfiguration)
	}
	if v.IndexReservedAmount.Cmp(v.IndexTotalAmount) > 0 {
		return fmt.Errorf("index reserved %s exceeds total %s: %w",
			v.IndexReservedAmount, v.IndexTotalAmount, ErrInvalidConfiguration)
	}
	if v.StableReservedAmount.Cmp(v.StableTotalAmount) > 0 {
		return fmt.Errorf("stable reserved %s exceeds total %s: %w",
			v.StableReservedAmount, v.StableTotalAmount, ErrInvalidConfiguration)
	}
	if v.LpTotalSupply.Sign() < 0 {
		return fmt.Errorf("negative LP supply: %w", ErrInvalidConfiguration)
	}
	return nil
}

// Clone returns an independent copy, used to keep read-compute-write atomic
// around multi-step accounting.
func (v *Vault) Clone() *Vault {
	cp := *v
	return &cp
}
