package ingestion

import (
	"encoding/json"
	"fmt"

	"PerpPool/internal/event"
	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
)

// EncodeEvent serializes a typed event back into the wire JSON the parser
// accepts. The persistence worker stores this form in the event log so a
// replayed payload goes through the exact same ParseRawEvent path as a
// live one.
func EncodeEvent(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case *event.AddLiquidity:
		return json.Marshal(addLiquidityJSON{
			RequestID:    e.RequestID.String(),
			Account:      e.Account.String(),
			PairIndex:    e.PairIdx,
			IndexAmount:  wireAmount(e.IndexAmount),
			StableAmount: wireAmount(e.StableAmount),
			Sequence:     e.ReqSequence,
			TimestampUs:  e.Timestamp.UnixMicro(),
		})
	case *event.RemoveLiquidity:
		return json.Marshal(removeLiquidityJSON{
			RequestID:   e.RequestID.String(),
			Account:     e.Account.String(),
			PairIndex:   e.PairIdx,
			LpAmount:    wireAmount(e.LpAmount),
			Sequence:    e.ReqSequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.IncreasePosition:
		return json.Marshal(positionDeltaJSON{
			RequestID:       e.RequestID.String(),
			Account:         e.Account.String(),
			PairIndex:       e.PairIdx,
			Side:            wireSide(e.Side),
			CollateralDelta: wireAmount(e.CollateralDelta),
			AmountDelta:     wireAmount(e.AmountDelta),
			VipLevel:        e.VipLevel,
			ReferenceRate:   e.ReferenceRate,
			Sequence:        e.ReqSequence,
			TimestampUs:     e.Timestamp.UnixMicro(),
		})
	case *event.DecreasePosition:
		return json.Marshal(positionDeltaJSON{
			RequestID:       e.RequestID.String(),
			Account:         e.Account.String(),
			PairIndex:       e.PairIdx,
			CollateralDelta: wireAmount(e.CollateralDelta),
			AmountDelta:     wireAmount(e.AmountDelta),
			VipLevel:        e.VipLevel,
			ReferenceRate:   e.ReferenceRate,
			Sequence:        e.ReqSequence,
			TimestampUs:     e.Timestamp.UnixMicro(),
		})
	case *event.OraclePriceUpdate:
		return json.Marshal(oraclePriceJSON{
			PairIndex:      e.PairIdx,
			Price:          wireAmount(e.Price),
			PriceSequence:  e.PriceSequence,
			PriceTimestamp: e.PriceTimestamp,
		})
	case *event.FundingSettle:
		return json.Marshal(fundingSettleJSON{
			PairIndex: e.PairIdx,
			EpochID:   e.Epoch,
			EpochTs:   e.EpochTs,
		})
	case *event.ReserveRecharge:
		return json.Marshal(reserveFlowJSON{
			RequestID:   e.RequestID.String(),
			Principal:   e.Principal,
			Asset:       e.Asset,
			Amount:      wireAmount(e.Amount),
			Sequence:    e.ReqSequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.ReserveWithdraw:
		return json.Marshal(reserveFlowJSON{
			RequestID:   e.RequestID.String(),
			Principal:   e.Principal,
			Asset:       e.Asset,
			Amount:      wireAmount(e.Amount),
			Sequence:    e.ReqSequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.PairConfigUpdate:
		cfg := e.Config
		return json.Marshal(pairConfigJSON{
			PairIndex:   e.PairIdx,
			Version:     e.Version,
			TimestampUs: e.Timestamp.UnixMicro(),

			IndexToken:  tokenJSON{Symbol: cfg.Pair.IndexToken.Symbol, Decimals: cfg.Pair.IndexToken.Decimals},
			StableToken: tokenJSON{Symbol: cfg.Pair.StableToken.Symbol, Decimals: cfg.Pair.StableToken.Decimals},
			LpToken:     tokenJSON{Symbol: cfg.Pair.LpToken.Symbol, Decimals: cfg.Pair.LpToken.Decimals},

			AddLpFeeP:              cfg.Pair.AddLpFeeP,
			KOfSwap:                cfg.Pair.KOfSwap.String(),
			ExpectIndexTokenP:      cfg.Pair.ExpectIndexTokenP,
			MaxUnbalancedP:         cfg.Pair.MaxUnbalancedP,
			UnbalancedDiscountRate: cfg.Pair.UnbalancedDiscountRate,
			Enable:                 cfg.Pair.Enable,

			MinLeverage:        cfg.Trading.MinLeverage,
			MaxLeverage:        cfg.Trading.MaxLeverage,
			MinTradeAmount:     wireAmount(cfg.Trading.MinTradeAmount),
			MaxTradeAmount:     wireAmount(cfg.Trading.MaxTradeAmount),
			MaintainMarginRate: cfg.Trading.MaintainMarginRate,
			PriceSlipP:         cfg.Trading.PriceSlipP,
			MaxPriceDeviationP: cfg.Trading.MaxPriceDeviationP,

			TakerFeeP:             cfg.TradingFee.TakerFeeP,
			MakerFeeP:             cfg.TradingFee.MakerFeeP,
			LpFeeDistributeP:      cfg.TradingFee.LpFeeDistributeP,
			KeeperFeeDistributeP:  cfg.TradingFee.KeeperFeeDistributeP,
			StakingFeeDistributeP: cfg.TradingFee.StakingFeeDistributeP,

			MinFundingRate:         cfg.Funding.MinFundingRate,
			MaxFundingRate:         cfg.Funding.MaxFundingRate,
			FundingWeightFactor:    cfg.Funding.FundingWeightFactor,
			FundingInterval:        cfg.Funding.FundingInterval,
			LiquidityPremiumFactor: cfg.Funding.LiquidityPremiumFactor,
			Interest:               cfg.Funding.Interest,
		})
	default:
		return nil, fmt.Errorf("encode: unknown event type %T", evt)
	}
}

func wireAmount(a fpmath.Amount) amountJSON {
	return amountJSON{Value: a.BigInt().String(), Decimals: a.Decimals()}
}

func wireSide(s market.Side) string {
	switch s {
	case market.SideLong:
		return "long"
	case market.SideShort:
		return "short"
	default:
		return "flat"
	}
}
