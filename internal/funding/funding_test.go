package funding_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"PerpPool/internal/funding"
	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
)

func fundingConfig() market.FundingFeeConfig {
	return market.FundingFeeConfig{
		MinFundingRate:      100,
		MaxFundingRate:      10_000,
		FundingWeightFactor: 100,
		FundingInterval:     28_800,
	}
}

func indexAmount(units int64) fpmath.Amount {
	return fpmath.NewAmount(
		new(big.Int).Mul(big.NewInt(units), fpmath.Pow10(fpmath.CanonicalDecimals)),
		fpmath.CanonicalDecimals,
	)
}

func price30(p int64) fpmath.Amount {
	return fpmath.NewAmount(new(big.Int).Mul(big.NewInt(p), fpmath.PricePrecision), fpmath.PriceDecimals)
}

func TestGetFundingRate_AllLongPool(t *testing.T) {
	// U=1200000, V=0, L=2400000:
	//   S = 1e8, G1 = min(1.5e8*100/1e8 + 100, 10000) = 250
	//   A = (1e8 - 5e7) * 1200000/2400000 * 100 = 2.5e9
	//   premium = 250*2.5e9/(10*1e8) = 625
	//   rate = -(250+625)/3 = -291 per 8h interval
	rate, err := funding.GetFundingRate(funding.RateInput{
		LongOpenInterest:   indexAmount(1_200_000),
		ShortOpenInterest:  indexAmount(0),
		PoolIndexLiquidity: indexAmount(2_400_000),
		Config:             fundingConfig(),
	})
	require.NoError(t, err)
	require.Equal(t, int64(-291), rate.Int64(), "all-long pool: longs pay, rate negative")
}

func TestGetFundingRate_AllShortPoolMirrors(t *testing.T) {
	rate, err := funding.GetFundingRate(funding.RateInput{
		LongOpenInterest:   indexAmount(0),
		ShortOpenInterest:  indexAmount(1_200_000),
		PoolIndexLiquidity: indexAmount(2_400_000),
		Config:             fundingConfig(),
	})
	require.NoError(t, err)
	// Skew term A is negative here but its contribution is absolute, so the
	// magnitude matches the all-long case with the sign flipped.
	require.Equal(t, int64(291), rate.Int64(), "all-short pool: shorts pay, rate positive")
}

func TestGetFundingRate_BalancedExposure(t *testing.T) {
	rate, err := funding.GetFundingRate(funding.RateInput{
		LongOpenInterest:   indexAmount(500),
		ShortOpenInterest:  indexAmount(500),
		PoolIndexLiquidity: indexAmount(10_000),
		Config:             fundingConfig(),
	})
	require.NoError(t, err)
	// Base component only, normalized to the 8h interval: 100/3 = 33.
	require.Equal(t, int64(33), rate.Int64())
}

func TestGetFundingRate_BaseComponentCapped(t *testing.T) {
	cfg := fundingConfig()
	cfg.FundingWeightFactor = 100_000_000 // extreme growth rate

	rate, err := funding.GetFundingRate(funding.RateInput{
		LongOpenInterest:  indexAmount(1_000_000),
		ShortOpenInterest: indexAmount(0),
		// Tiny exposure relative to liquidity: skew premium negligible.
		PoolIndexLiquidity: indexAmount(100_000_000_000),
		Config:             cfg,
	})
	require.NoError(t, err)
	// G1 capped at maxRate=10000; premium = 10000*(5e7*1e6/1e11*100)/1e9 = 0.
	require.Equal(t, int64(-10_000/3), rate.Int64())
}

func TestGetFundingRate_InvalidConfig(t *testing.T) {
	cfg := fundingConfig()
	cfg.FundingInterval = 0
	_, err := funding.GetFundingRate(funding.RateInput{
		LongOpenInterest:   indexAmount(1),
		ShortOpenInterest:  indexAmount(0),
		PoolIndexLiquidity: indexAmount(1),
		Config:             cfg,
	})
	require.ErrorIs(t, err, market.ErrInvalidConfiguration)
}

func TestGetFundingFeeTracker_PriceWeighted(t *testing.T) {
	rate := big.NewInt(-291)
	tracker := funding.GetFundingFeeTracker(nil, rate, price30(30000))
	require.Equal(t, int64(-8_730_000), tracker.Int64())

	// Accumulation at a different price.
	tracker = funding.GetFundingFeeTracker(tracker, big.NewInt(100), price30(29000))
	require.Equal(t, int64(-8_730_000+2_900_000), tracker.Int64())
}

func TestGetPositionFundingFee_ZeroSum(t *testing.T) {
	global := big.NewInt(-8_730_000) // tracker after one all-long settlement
	posTracker := big.NewInt(0)
	size := indexAmount(1) // 1 index unit

	longFee := funding.GetPositionFundingFee(global, posTracker, size, market.SideLong)
	shortFee := funding.GetPositionFundingFee(global, posTracker, size, market.SideShort)

	// 1 unit * 8.73e6 / 1e8 = 0.0873 stable.
	require.Equal(t, "-0.087300000000000000", longFee.String(), "long pays while tracker falls")
	require.Equal(t, "0.087300000000000000", shortFee.String(), "short receives the same amount")
	require.True(t, longFee.Add(shortFee).IsZero())
}

func TestGetPositionFundingFee_StampedPositionAccruesNothing(t *testing.T) {
	global := big.NewInt(-8_730_000)
	fee := funding.GetPositionFundingFee(global, global, indexAmount(5), market.SideLong)
	require.True(t, fee.IsZero())

	fee = funding.GetPositionFundingFee(global, big.NewInt(0), indexAmount(5), market.SideFlat)
	require.True(t, fee.IsZero(), "flat positions accrue no funding")
}

func TestTrackerStore_EpochSequencing(t *testing.T) {
	ts := funding.NewTrackerStore()

	v1, err := ts.Settle(0, 0, big.NewInt(-291), price30(30000), 1000)
	require.NoError(t, err)
	require.Equal(t, int64(-8_730_000), v1.Int64())

	// Duplicate epoch is a no-op returning the current tracker.
	v2, err := ts.Settle(0, 0, big.NewInt(-500), price30(30000), 1001)
	require.NoError(t, err)
	require.Equal(t, v1.Int64(), v2.Int64())

	// Gap is rejected.
	_, err = ts.Settle(0, 5, big.NewInt(-291), price30(30000), 1002)
	require.Error(t, err)

	// Next epoch accumulates.
	v3, err := ts.Settle(0, 1, big.NewInt(100), price30(29000), 1003)
	require.NoError(t, err)
	require.Equal(t, int64(-8_730_000+2_900_000), v3.Int64())
	require.Equal(t, v3.Int64(), ts.Tracker(0).Int64())
}

func TestPoolIndexLiquidity(t *testing.T) {
	pair := market.DefaultPairConfigs()[0].Pair
	vault := market.NewVault(&pair)
	vault.IndexTotalAmount = fpmath.MustParseAmount("100", 8)
	vault.StableTotalAmount = fpmath.MustParseAmount("3000000", 6)

	// 100 index + 3M stable at price 30000 = 100 + 100 = 200 index units.
	liq := funding.PoolIndexLiquidity(vault, price30(30000))
	require.Zero(t, liq.BigInt().Cmp(indexAmount(200).BigInt()))
}
