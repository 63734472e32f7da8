package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"PerpPool/internal/event"
	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "AddLiquidity":
		return parseAddLiquidity(raw.Data)
	case "RemoveLiquidity":
		return parseRemoveLiquidity(raw.Data)
	case "IncreasePosition":
		return parseIncreasePosition(raw.Data)
	case "DecreasePosition":
		return parseDecreasePosition(raw.Data)
	case "OraclePriceUpdate":
		return parseOraclePriceUpdate(raw.Data)
	case "FundingSettle":
		return parseFundingSettle(raw.Data)
	case "ReserveRecharge":
		return parseReserveRecharge(raw.Data)
	case "ReserveWithdraw":
		return parseReserveWithdraw(raw.Data)
	case "PairConfigUpdate":
		return parsePairConfigUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers. Quantities
// arrive as self-describing scaled integers so arbitrary-precision
// amounts survive the wire without float rounding.

type amountJSON struct {
	Value    string `json:"value"` // scaled integer, base 10
	Decimals uint32 `json:"decimals"`
}

func (a amountJSON) toAmount() (fpmath.Amount, error) {
	v, ok := new(big.Int).SetString(a.Value, 10)
	if !ok {
		return fpmath.Amount{}, fmt.Errorf("parse amount value %q: not an integer", a.Value)
	}
	return fpmath.NewAmount(v, a.Decimals), nil
}

type addLiquidityJSON struct {
	RequestID    string     `json:"request_id"`
	Account      string     `json:"account"`
	PairIndex    uint32     `json:"pair_index"`
	IndexAmount  amountJSON `json:"index_amount"`
	StableAmount amountJSON `json:"stable_amount"`
	Sequence     int64      `json:"sequence"`
	TimestampUs  int64      `json:"timestamp_us"`
}

func parseAddLiquidity(data []byte) (*event.AddLiquidity, error) {
	var j addLiquidityJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AddLiquidity: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	indexAmount, err := j.IndexAmount.toAmount()
	if err != nil {
		return nil, fmt.Errorf("parse index_amount: %w", err)
	}
	stableAmount, err := j.StableAmount.toAmount()
	if err != nil {
		return nil, fmt.Errorf("parse stable_amount: %w", err)
	}
	return &event.AddLiquidity{
		RequestID:    requestID,
		Account:      account,
		PairIdx:      j.PairIndex,
		IndexAmount:  indexAmount,
		StableAmount: stableAmount,
		ReqSequence:  j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type removeLiquidityJSON struct {
	RequestID   string     `json:"request_id"`
	Account     string     `json:"account"`
	PairIndex   uint32     `json:"pair_index"`
	LpAmount    amountJSON `json:"lp_amount"`
	Sequence    int64      `json:"sequence"`
	TimestampUs int64      `json:"timestamp_us"`
}

func parseRemoveLiquidity(data []byte) (*event.RemoveLiquidity, error) {
	var j removeLiquidityJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RemoveLiquidity: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	lpAmount, err := j.LpAmount.toAmount()
	if err != nil {
		return nil, fmt.Errorf("parse lp_amount: %w", err)
	}
	return &event.RemoveLiquidity{
		RequestID:   requestID,
		Account:     account,
		PairIdx:     j.PairIndex,
		LpAmount:    lpAmount,
		ReqSequence: j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type positionDeltaJSON struct {
	RequestID       string     `json:"request_id"`
	Account         string     `json:"account"`
	PairIndex       uint32     `json:"pair_index"`
	Side            string     `json:"side,omitempty"` // "long" or "short"; increase only
	CollateralDelta amountJSON `json:"collateral_delta"`
	AmountDelta     amountJSON `json:"amount_delta"`
	VipLevel        int32      `json:"vip_level"`
	ReferenceRate   int64      `json:"reference_rate"`
	Sequence        int64      `json:"sequence"`
	TimestampUs     int64      `json:"timestamp_us"`
}

func parseIncreasePosition(data []byte) (*event.IncreasePosition, error) {
	var j positionDeltaJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse IncreasePosition: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	side, ok := market.ParseSide(j.Side)
	if !ok {
		return nil, fmt.Errorf("parse side %q: must be long or short", j.Side)
	}
	collateralDelta, err := j.CollateralDelta.toAmount()
	if err != nil {
		return nil, fmt.Errorf("parse collateral_delta: %w", err)
	}
	amountDelta, err := j.AmountDelta.toAmount()
	if err != nil {
		return nil, fmt.Errorf("parse amount_delta: %w", err)
	}
	return &event.IncreasePosition{
		RequestID:       requestID,
		Account:         account,
		PairIdx:         j.PairIndex,
		Side:            side,
		CollateralDelta: collateralDelta,
		AmountDelta:     amountDelta,
		VipLevel:        j.VipLevel,
		ReferenceRate:   j.ReferenceRate,
		ReqSequence:     j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseDecreasePosition(data []byte) (*event.DecreasePosition, error) {
	var j positionDeltaJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DecreasePosition: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	collateralDelta, err := j.CollateralDelta.toAmount()
	if err != nil {
		return nil, fmt.Errorf("parse collateral_delta: %w", err)
	}
	amountDelta, err := j.AmountDelta.toAmount()
	if err != nil {
		return nil, fmt.Errorf("parse amount_delta: %w", err)
	}
	return &event.DecreasePosition{
		RequestID:       requestID,
		Account:         account,
		PairIdx:         j.PairIndex,
		AmountDelta:     amountDelta,
		CollateralDelta: collateralDelta,
		VipLevel:        j.VipLevel,
		ReferenceRate:   j.ReferenceRate,
		ReqSequence:     j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type oraclePriceJSON struct {
	PairIndex      uint32     `json:"pair_index"`
	Price          amountJSON `json:"price"`
	PriceSequence  int64      `json:"price_sequence"`
	PriceTimestamp int64      `json:"price_timestamp_us"`
}

func parseOraclePriceUpdate(data []byte) (*event.OraclePriceUpdate, error) {
	var j oraclePriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OraclePriceUpdate: %w", err)
	}
	price, err := j.Price.toAmount()
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	// Feeds may quote at the asset's native scale; normalize to the
	// protocol price scale. Up-scaling is exact, so only finer-grained
	// quotes are rejected.
	if price.Decimals() > fpmath.PriceDecimals {
		return nil, fmt.Errorf("price scale %d: oracle prices are at most %d-decimal", price.Decimals(), fpmath.PriceDecimals)
	}
	price = price.ToFixedPrice()
	return &event.OraclePriceUpdate{
		PairIdx:        j.PairIndex,
		Price:          price,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.PriceTimestamp,
	}, nil
}

type fundingSettleJSON struct {
	PairIndex uint32 `json:"pair_index"`
	EpochID   int64  `json:"epoch_id"`
	EpochTs   int64  `json:"epoch_ts_us"`
}

func parseFundingSettle(data []byte) (*event.FundingSettle, error) {
	var j fundingSettleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundingSettle: %w", err)
	}
	return &event.FundingSettle{
		PairIdx: j.PairIndex,
		Epoch:   j.EpochID,
		EpochTs: j.EpochTs,
	}, nil
}

type reserveFlowJSON struct {
	RequestID   string     `json:"request_id"`
	Principal   string     `json:"principal"`
	Asset       string     `json:"asset"`
	Amount      amountJSON `json:"amount"`
	Sequence    int64      `json:"sequence"`
	TimestampUs int64      `json:"timestamp_us"`
}

func parseReserveRecharge(data []byte) (*event.ReserveRecharge, error) {
	var j reserveFlowJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ReserveRecharge: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	amount, err := j.Amount.toAmount()
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &event.ReserveRecharge{
		RequestID:   requestID,
		Principal:   j.Principal,
		Asset:       j.Asset,
		Amount:      amount,
		ReqSequence: j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseReserveWithdraw(data []byte) (*event.ReserveWithdraw, error) {
	var j reserveFlowJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ReserveWithdraw: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	amount, err := j.Amount.toAmount()
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &event.ReserveWithdraw{
		RequestID:   requestID,
		Principal:   j.Principal,
		Asset:       j.Asset,
		Amount:      amount,
		ReqSequence: j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type tokenJSON struct {
	Symbol   string `json:"symbol"`
	Decimals uint32 `json:"decimals"`
}

type pairConfigJSON struct {
	PairIndex   uint32 `json:"pair_index"`
	Version     int64  `json:"version"`
	TimestampUs int64  `json:"timestamp_us"`

	IndexToken  tokenJSON `json:"index_token"`
	StableToken tokenJSON `json:"stable_token"`
	LpToken     tokenJSON `json:"lp_token"`

	AddLpFeeP              int64  `json:"add_lp_fee_p"`
	KOfSwap                string `json:"k_of_swap"` // scaled integer, base 10
	ExpectIndexTokenP      int64  `json:"expect_index_token_p"`
	MaxUnbalancedP         int64  `json:"max_unbalanced_p"`
	UnbalancedDiscountRate int64  `json:"unbalanced_discount_rate"`
	Enable                 bool   `json:"enable"`

	MinLeverage        int64      `json:"min_leverage"`
	MaxLeverage        int64      `json:"max_leverage"`
	MinTradeAmount     amountJSON `json:"min_trade_amount"`
	MaxTradeAmount     amountJSON `json:"max_trade_amount"`
	MaintainMarginRate int64      `json:"maintain_margin_rate"`
	PriceSlipP         int64      `json:"price_slip_p"`
	MaxPriceDeviationP int64      `json:"max_price_deviation_p"`

	TakerFeeP             int64 `json:"taker_fee_p"`
	MakerFeeP             int64 `json:"maker_fee_p"`
	LpFeeDistributeP      int64 `json:"lp_fee_distribute_p"`
	KeeperFeeDistributeP  int64 `json:"keeper_fee_distribute_p"`
	StakingFeeDistributeP int64 `json:"staking_fee_distribute_p"`

	MinFundingRate         int64 `json:"min_funding_rate"`
	MaxFundingRate         int64 `json:"max_funding_rate"`
	FundingWeightFactor    int64 `json:"funding_weight_factor"`
	FundingInterval        int64 `json:"funding_interval"`
	LiquidityPremiumFactor int64 `json:"liquidity_premium_factor"`
	Interest               int64 `json:"interest"`
}

func parsePairConfigUpdate(data []byte) (*event.PairConfigUpdate, error) {
	var j pairConfigJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PairConfigUpdate: %w", err)
	}

	k, ok := new(big.Int).SetString(j.KOfSwap, 10)
	if !ok {
		return nil, fmt.Errorf("parse k_of_swap %q: not an integer", j.KOfSwap)
	}
	minTrade, err := j.MinTradeAmount.toAmount()
	if err != nil {
		return nil, fmt.Errorf("parse min_trade_amount: %w", err)
	}
	maxTrade, err := j.MaxTradeAmount.toAmount()
	if err != nil {
		return nil, fmt.Errorf("parse max_trade_amount: %w", err)
	}

	cfg := market.PairConfig{
		Pair: market.Pair{
			PairIndex:              j.PairIndex,
			IndexToken:             market.Token{Symbol: j.IndexToken.Symbol, Decimals: j.IndexToken.Decimals},
			StableToken:            market.Token{Symbol: j.StableToken.Symbol, Decimals: j.StableToken.Decimals},
			LpToken:                market.Token{Symbol: j.LpToken.Symbol, Decimals: j.LpToken.Decimals},
			AddLpFeeP:              j.AddLpFeeP,
			KOfSwap:                k,
			ExpectIndexTokenP:      j.ExpectIndexTokenP,
			MaxUnbalancedP:         j.MaxUnbalancedP,
			UnbalancedDiscountRate: j.UnbalancedDiscountRate,
			Enable:                 j.Enable,
		},
		Trading: market.TradingConfig{
			MinLeverage:        j.MinLeverage,
			MaxLeverage:        j.MaxLeverage,
			MinTradeAmount:     minTrade,
			MaxTradeAmount:     maxTrade,
			MaintainMarginRate: j.MaintainMarginRate,
			PriceSlipP:         j.PriceSlipP,
			MaxPriceDeviationP: j.MaxPriceDeviationP,
		},
		TradingFee: market.TradingFeeConfig{
			TakerFeeP:             j.TakerFeeP,
			MakerFeeP:             j.MakerFeeP,
			LpFeeDistributeP:      j.LpFeeDistributeP,
			KeeperFeeDistributeP:  j.KeeperFeeDistributeP,
			StakingFeeDistributeP: j.StakingFeeDistributeP,
		},
		Funding: market.FundingFeeConfig{
			MinFundingRate:         j.MinFundingRate,
			MaxFundingRate:         j.MaxFundingRate,
			FundingWeightFactor:    j.FundingWeightFactor,
			FundingInterval:        j.FundingInterval,
			LiquidityPremiumFactor: j.LiquidityPremiumFactor,
			Interest:               j.Interest,
		},
	}

	return &event.PairConfigUpdate{
		PairIdx:   j.PairIndex,
		Version:   j.Version,
		Config:    cfg,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}
