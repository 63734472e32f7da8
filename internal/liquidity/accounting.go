// Package liquidity computes LP token mint and burn amounts for the pool
// vault: deposit/withdrawal fees, curve-based rebalancing slippage, and the
// unbalance discount incentive. Every function is a pure computation over
// snapshots; the caller applies the resulting deltas atomically.
package liquidity

import (
	"errors"
	"fmt"
	"math/big"

	"PerpPool/internal/amm"
	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
)

// ErrInsufficientLiquidity is returned when a burn requests more of an
// asset than the vault's unreserved balance holds, or more LP than the
// circulating supply.
var ErrInsufficientLiquidity = errors.New("insufficient liquidity")

// SlipToken identifies which asset absorbed rebalancing slippage.
type SlipToken int32

const (
	SlipNone SlipToken = iota
	SlipIndex
	SlipStable
)

func (s SlipToken) String() string {
	switch s {
	case SlipIndex:
		return "index"
	case SlipStable:
		return "stable"
	default:
		return "none"
	}
}

// MintResult is the full accounting of one liquidity deposit.
type MintResult struct {
	MintAmount fpmath.Amount // LP tokens, 18-decimal

	IndexFeeAmount       fpmath.Amount // index token, native scale
	StableFeeAmount      fpmath.Amount // stable token, native scale
	AfterFeeIndexAmount  fpmath.Amount
	AfterFeeStableAmount fpmath.Amount

	SlipToken  SlipToken
	SlipAmount fpmath.Amount // native units of the slip token
	SlipDelta  fpmath.Amount // canonical (18-dec) value lost to slippage

	DiscountApplied bool
}

// BurnResult is the full accounting of one liquidity withdrawal.
type BurnResult struct {
	ReceiveIndexAmount  fpmath.Amount // net of fee, native scale
	ReceiveStableAmount fpmath.Amount
	IndexFeeAmount      fpmath.Amount
	StableFeeAmount     fpmath.Amount
}

// LpFairPrice returns the LP token fair price at the 30-decimal price
// scale: pool value (canonical) divided by circulating supply. An empty
// pool bootstraps at exactly 1e30 (1:1) regardless of index price.
func LpFairPrice(pair *market.Pair, vault *market.Vault, price fpmath.Amount) (*big.Int, error) {
	if err := checkPrice(price); err != nil {
		return nil, err
	}
	if vault.LpTotalSupply.IsZero() {
		return new(big.Int).Set(fpmath.PricePrecision), nil
	}

	poolValue := new(big.Int).Add(
		indexValue(pair, vault.IndexTotalAmount, price),
		vault.StableTotalAmount.Canonical().BigInt(),
	)
	return fpmath.MulDiv(poolValue, fpmath.PricePrecision, vault.LpTotalSupply.BigInt()), nil
}

// GetMintLpAmount computes the LP amount minted for depositing indexAmount
// and stableAmount (native scales) at the given 30-decimal oracle price.
//
// The deposit pays the add-liquidity fee, then the side pushing the pool
// past its expected value split is notionally swapped through the
// constant-product curve and charged the implied slippage. If the pool was
// already unbalanced beyond the tolerance band, the under-supplied side's
// deposit leg is minted at a discounted LP price as a rebalancing bonus.
func GetMintLpAmount(
	pair *market.Pair,
	vault *market.Vault,
	indexAmount, stableAmount fpmath.Amount,
	price fpmath.Amount,
) (*MintResult, error) {
	if err := checkPrice(price); err != nil {
		return nil, err
	}
	if indexAmount.Sign() < 0 || stableAmount.Sign() < 0 {
		return nil, fmt.Errorf("deposit amounts must be non-negative: %w", market.ErrInvalidConfiguration)
	}

	res := &MintResult{
		IndexFeeAmount:  indexAmount.ApplyRate(pair.AddLpFeeP),
		StableFeeAmount: stableAmount.ApplyRate(pair.AddLpFeeP),
		SlipToken:       SlipNone,
		SlipAmount:      fpmath.Zero(pair.IndexToken.Decimals),
		SlipDelta:       fpmath.Zero(fpmath.CanonicalDecimals),
		MintAmount:      fpmath.Zero(fpmath.CanonicalDecimals),
	}
	res.AfterFeeIndexAmount = indexAmount.Sub(res.IndexFeeAmount)
	res.AfterFeeStableAmount = stableAmount.Sub(res.StableFeeAmount)

	// Pool and deposit values at the canonical scale.
	indexTotalDelta := indexValue(pair, vault.IndexTotalAmount, price)
	stableTotalDelta := vault.StableTotalAmount.Canonical().BigInt()
	indexDepositDelta := indexValue(pair, res.AfterFeeIndexAmount, price)
	stableDepositDelta := res.AfterFeeStableAmount.Canonical().BigInt()

	totalIndexDelta := new(big.Int).Add(indexTotalDelta, indexDepositDelta)
	totalStableDelta := new(big.Int).Add(stableTotalDelta, stableDepositDelta)
	totalDelta := new(big.Int).Add(totalIndexDelta, totalStableDelta)
	if totalDelta.Sign() == 0 {
		return res, nil
	}

	expectIndexDelta := fpmath.ApplyPercent(totalDelta, pair.ExpectIndexTokenP)
	expectStableDelta := new(big.Int).Sub(totalDelta, expectIndexDelta)

	// Slippage leg selection: only the over-supplied side of the post-deposit
	// pool can be in slippage, and only up to the amount actually deposited
	// on that side.
	slipDelta := new(big.Int)
	switch {
	case totalIndexDelta.Cmp(expectIndexDelta) > 0:
		needSwapDelta := new(big.Int).Sub(totalIndexDelta, expectIndexDelta)
		swapDelta := fpmath.MinBig(indexDepositDelta, needSwapDelta)
		if swapDelta.Sign() > 0 {
			// Index -> stable through the curve: amountIn in index units.
			swapIn := fpmath.MulDiv(swapDelta, fpmath.PricePrecision, price.BigInt())
			reserveIndex, reserveStable, err := amm.GetReserves(pair.KOfSwap, price.BigInt())
			if err != nil {
				return nil, err
			}
			out, err := amm.GetAmountOut(swapIn, reserveIndex, reserveStable)
			if err != nil {
				return nil, err
			}
			slipDelta.Sub(swapDelta, out)
			if slipDelta.Sign() > 0 {
				res.SlipToken = SlipIndex
				res.SlipDelta = fpmath.NewAmount(slipDelta, fpmath.CanonicalDecimals)
				slipIndex := fpmath.MulDiv(slipDelta, fpmath.PricePrecision, price.BigInt())
				res.SlipAmount = fpmath.NewAmount(slipIndex, fpmath.CanonicalDecimals).
					Convert(pair.IndexToken.Decimals)
			}
		}
	case totalStableDelta.Cmp(expectStableDelta) > 0:
		needSwapDelta := new(big.Int).Sub(totalStableDelta, expectStableDelta)
		swapDelta := fpmath.MinBig(stableDepositDelta, needSwapDelta)
		if swapDelta.Sign() > 0 {
			// Stable -> index through the curve: amountIn in stable units.
			reserveIndex, reserveStable, err := amm.GetReserves(pair.KOfSwap, price.BigInt())
			if err != nil {
				return nil, err
			}
			out, err := amm.GetAmountOut(swapDelta, reserveStable, reserveIndex)
			if err != nil {
				return nil, err
			}
			outValue := fpmath.MulDiv(out, price.BigInt(), fpmath.PricePrecision)
			slipDelta.Sub(swapDelta, outValue)
			if slipDelta.Sign() > 0 {
				res.SlipToken = SlipStable
				res.SlipDelta = fpmath.NewAmount(slipDelta, fpmath.CanonicalDecimals)
				res.SlipAmount = fpmath.NewAmount(slipDelta, fpmath.CanonicalDecimals).
					Convert(pair.StableToken.Decimals)
			}
		}
	}
	if slipDelta.Sign() < 0 {
		slipDelta.SetInt64(0)
	}

	// Unbalance discount: judged on the pre-deposit pool. Deposits into the
	// under-supplied side of a pool already past the tolerance band mint at
	// a cheaper effective LP price.
	discountSide := discountSideFor(pair, indexTotalDelta, stableTotalDelta)

	fair, err := LpFairPrice(pair, vault, price)
	if err != nil {
		return nil, err
	}
	if fair.Sign() <= 0 {
		return nil, fmt.Errorf("lp fair price is zero with non-zero supply: %w", fpmath.ErrPrecision)
	}

	mintDelta := new(big.Int).Add(indexDepositDelta, stableDepositDelta)
	mintDelta.Sub(mintDelta, slipDelta)

	discountDelta := new(big.Int)
	switch discountSide {
	case SlipIndex:
		// Index side under-supplied: the index deposit leg gets the bonus.
		discountDelta.Set(indexDepositDelta)
	case SlipStable:
		discountDelta.Set(stableDepositDelta)
	}
	if discountDelta.Cmp(mintDelta) > 0 {
		discountDelta.Set(mintDelta)
	}
	normalDelta := new(big.Int).Sub(mintDelta, discountDelta)

	mint := fpmath.MulDiv(normalDelta, fpmath.PricePrecision, fair)
	if discountDelta.Sign() > 0 {
		discountedFair := fpmath.ApplyPercent(fair, 100_000_000-pair.UnbalancedDiscountRate)
		if discountedFair.Sign() > 0 {
			mint.Add(mint, fpmath.MulDiv(discountDelta, fpmath.PricePrecision, discountedFair))
			res.DiscountApplied = true
		}
	}

	res.MintAmount = fpmath.NewAmount(mint, fpmath.CanonicalDecimals)
	return res, nil
}

// GetReceivedAmount computes the index/stable amounts returned for burning
// lpAmount, drawing from the over-supplied side first so that withdrawals
// move the pool toward its expected split. A symmetric fee is charged; no
// curve slippage applies on the withdrawal path.
func GetReceivedAmount(
	pair *market.Pair,
	vault *market.Vault,
	lpAmount fpmath.Amount,
	price fpmath.Amount,
) (*BurnResult, error) {
	if err := checkPrice(price); err != nil {
		return nil, err
	}
	if lpAmount.Sign() <= 0 {
		return nil, fmt.Errorf("lp amount must be positive: %w", market.ErrInvalidConfiguration)
	}
	if lpAmount.Cmp(vault.LpTotalSupply) > 0 {
		return nil, fmt.Errorf("burn %s exceeds circulating supply %s: %w",
			lpAmount, vault.LpTotalSupply, ErrInsufficientLiquidity)
	}

	fair, err := LpFairPrice(pair, vault, price)
	if err != nil {
		return nil, err
	}
	withdrawDelta := fpmath.MulDiv(lpAmount.BigInt(), fair, fpmath.PricePrecision)

	indexTotalDelta := indexValue(pair, vault.IndexTotalAmount, price)
	stableTotalDelta := vault.StableTotalAmount.Canonical().BigInt()
	totalDelta := new(big.Int).Add(indexTotalDelta, stableTotalDelta)
	if totalDelta.Sign() == 0 {
		return nil, fmt.Errorf("empty pool: %w", ErrInsufficientLiquidity)
	}
	expectIndexDelta := fpmath.ApplyPercent(totalDelta, pair.ExpectIndexTokenP)
	expectStableDelta := new(big.Int).Sub(totalDelta, expectIndexDelta)

	receiveIndexDelta := new(big.Int)
	receiveStableDelta := new(big.Int)
	rest := new(big.Int).Set(withdrawDelta)

	// Over-supplied side pays out first, down to the expected split.
	if indexTotalDelta.Cmp(expectIndexDelta) > 0 {
		excess := new(big.Int).Sub(indexTotalDelta, expectIndexDelta)
		take := fpmath.MinBig(excess, rest)
		receiveIndexDelta.Set(take)
		rest.Sub(rest, take)
	} else if stableTotalDelta.Cmp(expectStableDelta) > 0 {
		excess := new(big.Int).Sub(stableTotalDelta, expectStableDelta)
		take := fpmath.MinBig(excess, rest)
		receiveStableDelta.Set(take)
		rest.Sub(rest, take)
	}

	// Remainder at the expected ratio.
	restIndex := fpmath.ApplyPercent(rest, pair.ExpectIndexTokenP)
	receiveIndexDelta.Add(receiveIndexDelta, restIndex)
	receiveStableDelta.Add(receiveStableDelta, new(big.Int).Sub(rest, restIndex))

	grossIndex := fpmath.NewAmount(
		fpmath.MulDiv(receiveIndexDelta, fpmath.PricePrecision, price.BigInt()),
		fpmath.CanonicalDecimals,
	).Convert(pair.IndexToken.Decimals)
	grossStable := fpmath.NewAmount(receiveStableDelta, fpmath.CanonicalDecimals).
		Convert(pair.StableToken.Decimals)

	if grossIndex.Cmp(vault.IndexAvailable()) > 0 {
		return nil, fmt.Errorf("index payout %s exceeds unreserved balance %s: %w",
			grossIndex, vault.IndexAvailable(), ErrInsufficientLiquidity)
	}
	if grossStable.Cmp(vault.StableAvailable()) > 0 {
		return nil, fmt.Errorf("stable payout %s exceeds unreserved balance %s: %w",
			grossStable, vault.StableAvailable(), ErrInsufficientLiquidity)
	}

	res := &BurnResult{
		IndexFeeAmount:  grossIndex.ApplyRate(pair.AddLpFeeP),
		StableFeeAmount: grossStable.ApplyRate(pair.AddLpFeeP),
	}
	res.ReceiveIndexAmount = grossIndex.Sub(res.IndexFeeAmount)
	res.ReceiveStableAmount = grossStable.Sub(res.StableFeeAmount)
	return res, nil
}

// discountSideFor returns the under-supplied side eligible for the mint
// discount, judged on pre-deposit pool values, or SlipNone when the pool
// is inside the tolerance band.
func discountSideFor(pair *market.Pair, indexTotalDelta, stableTotalDelta *big.Int) SlipToken {
	preTotal := new(big.Int).Add(indexTotalDelta, stableTotalDelta)
	if preTotal.Sign() == 0 || pair.UnbalancedDiscountRate <= 0 {
		return SlipNone
	}

	expectStableP := int64(100_000_000) - pair.ExpectIndexTokenP
	if unbalanceP(indexTotalDelta, preTotal, pair.ExpectIndexTokenP) > pair.MaxUnbalancedP {
		// Index over-supplied past the band: stable deposits rebalance.
		return SlipStable
	}
	if unbalanceP(stableTotalDelta, preTotal, expectStableP) > pair.MaxUnbalancedP {
		return SlipIndex
	}
	return SlipNone
}

// unbalanceP computes ratio*1e8/expectP - 1e8 where ratio = side/total,
// in parts-per-1e8.
func unbalanceP(sideDelta, totalDelta *big.Int, expectP int64) int64 {
	if expectP <= 0 {
		return 0
	}
	ratio := fpmath.MulDiv(sideDelta, fpmath.Percentage, totalDelta)
	u := new(big.Int).Quo(new(big.Int).Mul(ratio, fpmath.Percentage), big.NewInt(expectP))
	u.Sub(u, fpmath.Percentage)
	return u.Int64()
}

// indexValue converts a native-scale index amount into canonical stable
// value at the 30-decimal price.
func indexValue(pair *market.Pair, amount fpmath.Amount, price fpmath.Amount) *big.Int {
	canonical := amount.Canonical().BigInt()
	return fpmath.MulDiv(canonical, price.BigInt(), fpmath.PricePrecision)
}

func checkPrice(price fpmath.Amount) error {
	if price.Decimals() != fpmath.PriceDecimals {
		return fmt.Errorf("price must be at the 30-decimal scale, got %d: %w",
			price.Decimals(), fpmath.ErrPrecision)
	}
	if price.Sign() <= 0 {
		return fmt.Errorf("price must be positive: %w", market.ErrInvalidConfiguration)
	}
	return nil
}
