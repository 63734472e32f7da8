package liquidity_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"PerpPool/internal/amm"
	"PerpPool/internal/liquidity"
	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
)

func testPair(t *testing.T) *market.Pair {
	t.Helper()
	cfg := market.DefaultPairConfigs()[0]
	require.NotNil(t, cfg)
	p := cfg.Pair
	return &p
}

func price30(p int64) fpmath.Amount {
	return fpmath.NewAmount(new(big.Int).Mul(big.NewInt(p), fpmath.PricePrecision), fpmath.PriceDecimals)
}

func canonical(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), fpmath.Pow10(fpmath.CanonicalDecimals))
}

func TestLpFairPrice_BootstrapIsOne(t *testing.T) {
	pair := testPair(t)
	vault := market.NewVault(pair)

	for _, p := range []int64{1, 30000, 99_999} {
		fair, err := liquidity.LpFairPrice(pair, vault, price30(p))
		require.NoError(t, err)
		require.Zero(t, fair.Cmp(fpmath.PricePrecision),
			"empty pool fair price must be exactly 1e30 at price %d", p)
	}
}

func TestLpFairPrice_TracksPoolValue(t *testing.T) {
	pair := testPair(t)
	vault := market.NewVault(pair)
	vault.IndexTotalAmount = fpmath.MustParseAmount("100", 8)       // 100 BTC
	vault.StableTotalAmount = fpmath.MustParseAmount("3000000", 6)  // 3M USDT
	vault.LpTotalSupply = fpmath.MustParseAmount("6000000", 18)     // minted at par

	fair, err := liquidity.LpFairPrice(pair, vault, price30(30000))
	require.NoError(t, err)
	// Pool value 6M over 6M supply: exactly 1e30.
	require.Zero(t, fair.Cmp(fpmath.PricePrecision))

	// Price doubles: index side is worth 6M, pool 9M over 6M supply = 1.5e30.
	fair, err = liquidity.LpFairPrice(pair, vault, price30(60000))
	require.NoError(t, err)
	want := new(big.Int).Mul(big.NewInt(15), fpmath.Pow10(29))
	require.Zero(t, fair.Cmp(want))
}

func TestGetMintLpAmount_BalancedBootstrapDeposit(t *testing.T) {
	pair := testPair(t)
	vault := market.NewVault(pair)

	res, err := liquidity.GetMintLpAmount(pair, vault,
		fpmath.MustParseAmount("1", 8),      // 1 BTC
		fpmath.MustParseAmount("30000", 6),  // 30000 USDT
		price30(30000))
	require.NoError(t, err)

	// 0.1% deposit fee on each leg.
	require.Equal(t, "0.00100000", res.IndexFeeAmount.String())
	require.Equal(t, "30.000000", res.StableFeeAmount.String())
	require.Equal(t, "0.99900000", res.AfterFeeIndexAmount.String())
	require.Equal(t, "29970.000000", res.AfterFeeStableAmount.String())

	// Deposit sits exactly at the 50% expected split: no slippage.
	require.Equal(t, liquidity.SlipNone, res.SlipToken)
	require.True(t, res.SlipDelta.IsZero())
	require.False(t, res.DiscountApplied)

	// Bootstrap fair price 1e30: mint equals after-fee canonical value.
	require.Zero(t, res.MintAmount.BigInt().Cmp(canonical(59940)))
}

func TestGetMintLpAmount_Conservation(t *testing.T) {
	// after-fee deposit value == mint*fairPrice + slip value, exactly,
	// on the no-discount path.
	pair := testPair(t)
	vault := market.NewVault(pair)
	vault.IndexTotalAmount = fpmath.MustParseAmount("100", 8)
	vault.StableTotalAmount = fpmath.MustParseAmount("3000000", 6)
	vault.LpTotalSupply = fpmath.MustParseAmount("6000000", 18)

	pair.AddLpFeeP = 0 // isolate the slippage leg

	price := price30(30000)
	res, err := liquidity.GetMintLpAmount(pair, vault,
		fpmath.Zero(8),
		fpmath.MustParseAmount("600000", 6), // one-sided stable deposit
		price)
	require.NoError(t, err)

	require.Equal(t, liquidity.SlipStable, res.SlipToken)
	require.Positive(t, res.SlipDelta.Sign())

	fair, err := liquidity.LpFairPrice(pair, vault, price)
	require.NoError(t, err)

	mintValue := fpmath.MulDiv(res.MintAmount.BigInt(), fair, fpmath.PricePrecision)
	total := new(big.Int).Add(mintValue, res.SlipDelta.BigInt())
	require.Zero(t, total.Cmp(canonical(600_000)),
		"deposit value must split exactly into mint value + slippage")
}

func TestGetMintLpAmount_SlippageMatchesCurve(t *testing.T) {
	pair := testPair(t)
	vault := market.NewVault(pair)
	vault.IndexTotalAmount = fpmath.MustParseAmount("100", 8)
	vault.StableTotalAmount = fpmath.MustParseAmount("3000000", 6)
	vault.LpTotalSupply = fpmath.MustParseAmount("6000000", 18)
	pair.AddLpFeeP = 0

	price := price30(30000)
	res, err := liquidity.GetMintLpAmount(pair, vault,
		fpmath.Zero(8), fpmath.MustParseAmount("600000", 6), price)
	require.NoError(t, err)

	// Excess over the expected split: deposit pushes stable from 3.0M to
	// 3.6M against a 3.3M expectation, so 300k is notionally swapped.
	swapDelta := canonical(300_000)
	rIdx, rStable, err := amm.GetReserves(pair.KOfSwap, price.BigInt())
	require.NoError(t, err)
	out, err := amm.GetAmountOut(swapDelta, rStable, rIdx)
	require.NoError(t, err)
	outValue := fpmath.MulDiv(out, price.BigInt(), fpmath.PricePrecision)
	wantSlip := new(big.Int).Sub(swapDelta, outValue)

	require.Zero(t, res.SlipDelta.BigInt().Cmp(wantSlip))
}

func TestGetMintLpAmount_DepositOnUnderSuppliedSideNoSlip(t *testing.T) {
	pair := testPair(t)
	vault := market.NewVault(pair)
	// Index-heavy pool: 140 BTC (4.2M) vs 3.0M stable.
	vault.IndexTotalAmount = fpmath.MustParseAmount("140", 8)
	vault.StableTotalAmount = fpmath.MustParseAmount("3000000", 6)
	vault.LpTotalSupply = fpmath.MustParseAmount("7200000", 18)
	pair.AddLpFeeP = 0

	res, err := liquidity.GetMintLpAmount(pair, vault,
		fpmath.Zero(8), fpmath.MustParseAmount("100000", 6), price30(30000))
	require.NoError(t, err)

	// The deposit reduces the imbalance: no slippage, and since the pool is
	// past the 10% band, the stable leg mints at the discounted LP price.
	require.Equal(t, liquidity.SlipNone, res.SlipToken)
	require.True(t, res.DiscountApplied)

	// Discounted price means strictly more LP than value/fair.
	fair, err := liquidity.LpFairPrice(pair, vault, price30(30000))
	require.NoError(t, err)
	plain := fpmath.MulDiv(canonical(100_000), fpmath.PricePrecision, fair)
	require.Positive(t, res.MintAmount.BigInt().Cmp(plain))
}

func TestGetMintLpAmount_WorseningDepositGetsNoDiscount(t *testing.T) {
	pair := testPair(t)
	vault := market.NewVault(pair)
	vault.IndexTotalAmount = fpmath.MustParseAmount("140", 8)
	vault.StableTotalAmount = fpmath.MustParseAmount("3000000", 6)
	vault.LpTotalSupply = fpmath.MustParseAmount("7200000", 18)
	pair.AddLpFeeP = 0

	// Depositing more index into an index-heavy pool: slippage, no bonus.
	res, err := liquidity.GetMintLpAmount(pair, vault,
		fpmath.MustParseAmount("10", 8), fpmath.Zero(6), price30(30000))
	require.NoError(t, err)

	require.Equal(t, liquidity.SlipIndex, res.SlipToken)
	require.Positive(t, res.SlipDelta.Sign())
	require.False(t, res.DiscountApplied)
}

func TestGetReceivedAmount_OverSuppliedSideFirst(t *testing.T) {
	pair := testPair(t)
	vault := market.NewVault(pair)
	// 120 BTC (3.6M) vs 3.0M stable: index over-supplied by 300k.
	vault.IndexTotalAmount = fpmath.MustParseAmount("120", 8)
	vault.StableTotalAmount = fpmath.MustParseAmount("3000000", 6)
	vault.LpTotalSupply = fpmath.MustParseAmount("6600000", 18)

	res, err := liquidity.GetReceivedAmount(pair, vault,
		fpmath.MustParseAmount("400000", 18), price30(30000))
	require.NoError(t, err)

	// 400k withdrawal: 300k from the index excess, remaining 100k split
	// 50/50. Index leg = 350k value = 11.66666666 BTC gross, stable leg 50k.
	require.Equal(t, "0.01166666", res.IndexFeeAmount.String())
	require.Equal(t, "11.65500000", res.ReceiveIndexAmount.String())
	require.Equal(t, "50.000000", res.StableFeeAmount.String())
	require.Equal(t, "49950.000000", res.ReceiveStableAmount.String())
}

func TestGetReceivedAmount_BurnExceedsSupply(t *testing.T) {
	pair := testPair(t)
	vault := market.NewVault(pair)
	vault.IndexTotalAmount = fpmath.MustParseAmount("100", 8)
	vault.StableTotalAmount = fpmath.MustParseAmount("3000000", 6)
	vault.LpTotalSupply = fpmath.MustParseAmount("6000000", 18)

	_, err := liquidity.GetReceivedAmount(pair, vault,
		fpmath.MustParseAmount("6000001", 18), price30(30000))
	require.ErrorIs(t, err, liquidity.ErrInsufficientLiquidity)
}

func TestGetReceivedAmount_ReservedBalanceBlocksPayout(t *testing.T) {
	pair := testPair(t)
	vault := market.NewVault(pair)
	vault.IndexTotalAmount = fpmath.MustParseAmount("100", 8)
	vault.StableTotalAmount = fpmath.MustParseAmount("3000000", 6)
	vault.LpTotalSupply = fpmath.MustParseAmount("6000000", 18)
	// Nearly everything on the stable side backs open positions.
	vault.StableReservedAmount = fpmath.MustParseAmount("2999000", 6)

	_, err := liquidity.GetReceivedAmount(pair, vault,
		fpmath.MustParseAmount("3000000", 18), price30(30000))
	require.ErrorIs(t, err, liquidity.ErrInsufficientLiquidity)
}

func TestGetMintLpAmount_RejectsBadInputs(t *testing.T) {
	pair := testPair(t)
	vault := market.NewVault(pair)

	_, err := liquidity.GetMintLpAmount(pair, vault,
		fpmath.MustParseAmount("-1", 8), fpmath.Zero(6), price30(30000))
	require.ErrorIs(t, err, market.ErrInvalidConfiguration)

	_, err = liquidity.GetMintLpAmount(pair, vault,
		fpmath.MustParseAmount("1", 8), fpmath.Zero(6),
		fpmath.Zero(fpmath.PriceDecimals))
	require.ErrorIs(t, err, market.ErrInvalidConfiguration)
}
