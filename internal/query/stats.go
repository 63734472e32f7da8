package query

import (
	"context"
	"database/sql"
	"fmt"

	"PerpPool/internal/liquidity"
	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"

	"github.com/shopspring/decimal"
)

// PoolStatsResponse aggregates a pair's vault, price, funding and risk
// parameters into one response. LpFairPrice is the pool value per LP
// token at the latest projected price; it is zero when no price tick
// has been projected yet.
type PoolStatsResponse struct {
	PairIndex    uint32 `json:"pair_index"`
	IndexSymbol  string `json:"index_symbol"`
	StableSymbol string `json:"stable_symbol"`
	Enabled      bool   `json:"enabled"`

	IndexTotal     decimal.Decimal `json:"index_total"`
	StableTotal    decimal.Decimal `json:"stable_total"`
	IndexReserved  decimal.Decimal `json:"index_reserved"`
	StableReserved decimal.Decimal `json:"stable_reserved"`
	LpTotalSupply  decimal.Decimal `json:"lp_total_supply"`

	Price       decimal.Decimal `json:"price"`
	LpFairPrice decimal.Decimal `json:"lp_fair_price"`

	FundingRate     int64 `json:"funding_rate"` // latest settled epoch, parts-per-1e8
	FundingEpochID  int64 `json:"funding_epoch_id"`
	FundingInterval int64 `json:"funding_interval_seconds"`

	MaintainMarginRate int64 `json:"maintain_margin_rate"` // parts-per-1e8
	MaxLeverage        int64 `json:"max_leverage"`
	TakerFeeP          int64 `json:"taker_fee_p"`
	MakerFeeP          int64 `json:"maker_fee_p"`
	ConfigVersion      int64 `json:"config_version"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// pairParams is the risk/fee parameter set the query side needs per
// pair. Sourced from the pair_configs projection when a governance
// update has been applied, otherwise from the compiled-in defaults.
type pairParams struct {
	Version            int64
	IndexSymbol        string
	IndexDecimals      uint32
	StableSymbol       string
	StableDecimals     uint32
	LpDecimals         uint32
	MaintainMarginRate int64
	MaxLeverage        int64
	TakerFeeP          int64
	MakerFeeP          int64
	FundingInterval    int64
	Enable             bool
}

func (qs *QueryService) loadPairParams(ctx context.Context, pairIndex uint32) (*pairParams, error) {
	var p pairParams
	var indexDec, stableDec, lpDec int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT version, index_symbol, index_decimals, stable_symbol, stable_decimals,
		       lp_decimals, maintain_margin_rate, max_leverage, taker_fee_p, maker_fee_p,
		       funding_interval, enable
		FROM projections.pair_configs
		WHERE pair_index = $1
	`, int64(pairIndex)).Scan(
		&p.Version, &p.IndexSymbol, &indexDec, &p.StableSymbol, &stableDec,
		&lpDec, &p.MaintainMarginRate, &p.MaxLeverage, &p.TakerFeeP, &p.MakerFeeP,
		&p.FundingInterval, &p.Enable,
	)
	if err == sql.ErrNoRows {
		cfg, ok := market.DefaultPairConfigs()[pairIndex]
		if !ok {
			return nil, fmt.Errorf("pair %d not configured", pairIndex)
		}
		return &pairParams{
			IndexSymbol:        cfg.Pair.IndexToken.Symbol,
			IndexDecimals:      cfg.Pair.IndexToken.Decimals,
			StableSymbol:       cfg.Pair.StableToken.Symbol,
			StableDecimals:     cfg.Pair.StableToken.Decimals,
			LpDecimals:         cfg.Pair.LpToken.Decimals,
			MaintainMarginRate: cfg.Trading.MaintainMarginRate,
			MaxLeverage:        cfg.Trading.MaxLeverage,
			TakerFeeP:          cfg.TradingFee.TakerFeeP,
			MakerFeeP:          cfg.TradingFee.MakerFeeP,
			FundingInterval:    cfg.Funding.FundingInterval,
			Enable:             cfg.Pair.Enable,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	p.IndexDecimals = uint32(indexDec)
	p.StableDecimals = uint32(stableDec)
	p.LpDecimals = uint32(lpDec)
	return &p, nil
}

// GetPoolStats returns the combined pool statistics for a pair.
func (qs *QueryService) GetPoolStats(ctx context.Context, pairIndex uint32) (*PoolStatsResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	params, err := qs.loadPairParams(ctx, pairIndex)
	if err != nil {
		return nil, err
	}

	resp := &PoolStatsResponse{
		PairIndex:          pairIndex,
		IndexSymbol:        params.IndexSymbol,
		StableSymbol:       params.StableSymbol,
		Enabled:            params.Enable,
		FundingInterval:    params.FundingInterval,
		MaintainMarginRate: params.MaintainMarginRate,
		MaxLeverage:        params.MaxLeverage,
		TakerFeeP:          params.TakerFeeP,
		MakerFeeP:          params.MakerFeeP,
		ConfigVersion:      params.Version,
		AsOfSequence:       asOfSeq,
	}

	var indexTotal, stableTotal, indexReserved, stableReserved, lpSupply string
	err = qs.db.QueryRowContext(ctx, `
		SELECT index_total, stable_total, index_reserved, stable_reserved, lp_total_supply
		FROM projections.vaults
		WHERE pair_index = $1
	`, int64(pairIndex)).Scan(&indexTotal, &stableTotal, &indexReserved, &stableReserved, &lpSupply)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("vault for pair %d not found", pairIndex)
	}
	if err != nil {
		return nil, err
	}

	// Rebuild the vault at native token scales so the fair-price math
	// runs on the same fixed-point representation the core uses.
	vault := &market.Vault{}
	if vault.IndexTotalAmount, err = fpmath.ParseAmount(indexTotal, params.IndexDecimals); err != nil {
		return nil, fmt.Errorf("vault index_total: %w", err)
	}
	if vault.StableTotalAmount, err = fpmath.ParseAmount(stableTotal, params.StableDecimals); err != nil {
		return nil, fmt.Errorf("vault stable_total: %w", err)
	}
	if vault.IndexReservedAmount, err = fpmath.ParseAmount(indexReserved, params.IndexDecimals); err != nil {
		return nil, fmt.Errorf("vault index_reserved: %w", err)
	}
	if vault.StableReservedAmount, err = fpmath.ParseAmount(stableReserved, params.StableDecimals); err != nil {
		return nil, fmt.Errorf("vault stable_reserved: %w", err)
	}
	if vault.LpTotalSupply, err = fpmath.ParseAmount(lpSupply, params.LpDecimals); err != nil {
		return nil, fmt.Errorf("vault lp_total_supply: %w", err)
	}

	resp.IndexTotal = mustDecimal(indexTotal)
	resp.StableTotal = mustDecimal(stableTotal)
	resp.IndexReserved = mustDecimal(indexReserved)
	resp.StableReserved = mustDecimal(stableReserved)
	resp.LpTotalSupply = mustDecimal(lpSupply)

	var priceStr string
	err = qs.db.QueryRowContext(ctx, `
		SELECT price FROM projections.prices WHERE pair_index = $1
	`, int64(pairIndex)).Scan(&priceStr)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == nil {
		price, perr := fpmath.ParseAmount(priceStr, fpmath.PriceDecimals)
		if perr != nil {
			return nil, fmt.Errorf("projected price: %w", perr)
		}
		resp.Price = mustDecimal(priceStr)

		pair := &market.Pair{
			PairIndex:   pairIndex,
			IndexToken:  market.Token{Symbol: params.IndexSymbol, Decimals: params.IndexDecimals},
			StableToken: market.Token{Symbol: params.StableSymbol, Decimals: params.StableDecimals},
			LpToken:     market.Token{Decimals: params.LpDecimals},
		}
		fair, ferr := liquidity.LpFairPrice(pair, vault, price)
		if ferr != nil {
			return nil, fmt.Errorf("lp fair price: %w", ferr)
		}
		resp.LpFairPrice = decimal.NewFromBigInt(fair, -int32(fpmath.PriceDecimals))
	}

	var epochID, rate int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT epoch_id, funding_rate
		FROM projections.funding_history
		WHERE pair_index = $1
		ORDER BY epoch_id DESC
		LIMIT 1
	`, int64(pairIndex)).Scan(&epochID, &rate)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	resp.FundingEpochID = epochID
	resp.FundingRate = rate

	return resp, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
