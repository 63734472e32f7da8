package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionResponse represents an open position for API queries.
type PositionResponse struct {
	Account        uuid.UUID       `json:"account"`
	PairIndex      uint32          `json:"pair_index"`
	Side           string          `json:"side"`
	Collateral     decimal.Decimal `json:"collateral"`
	PositionAmount decimal.Decimal `json:"position_amount"`
	AveragePrice   decimal.Decimal `json:"average_price"`
	UnrealizedPnl  decimal.Decimal `json:"unrealized_pnl"` // Derived at query time

	// Risk fields, derived against the latest projected price and the
	// pair's maintenance margin rate. All zero until a price tick has
	// been projected.
	NetAsset          decimal.Decimal `json:"net_asset"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"`
	Liquidatable      bool            `json:"liquidatable"`

	Version      int64 `json:"version"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// VaultResponse represents a pair's pool vault for API queries.
type VaultResponse struct {
	PairIndex      uint32          `json:"pair_index"`
	IndexTotal     decimal.Decimal `json:"index_total"`
	StableTotal    decimal.Decimal `json:"stable_total"`
	IndexReserved  decimal.Decimal `json:"index_reserved"`
	StableReserved decimal.Decimal `json:"stable_reserved"`
	LpTotalSupply  decimal.Decimal `json:"lp_total_supply"`
	AsOfSequence   int64           `json:"as_of_sequence"`
}

// LpBalanceResponse represents an account's LP token holding.
type LpBalanceResponse struct {
	Account      uuid.UUID       `json:"account"`
	PairIndex    uint32          `json:"pair_index"`
	Balance      decimal.Decimal `json:"balance"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// FundingHistoryResponse represents a settled funding epoch.
type FundingHistoryResponse struct {
	PairIndex    uint32          `json:"pair_index"`
	EpochID      int64           `json:"epoch_id"`
	FundingRate  int64           `json:"funding_rate"` // parts-per-1e8; negative = longs pay
	Tracker      decimal.Decimal `json:"tracker"`
	Price        decimal.Decimal `json:"price"`
	Sequence     int64           `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// TradeHistoryResponse represents one fill from the trade log.
type TradeHistoryResponse struct {
	TradeID         uuid.UUID       `json:"trade_id"`
	Sequence        int64           `json:"sequence"`
	Account         uuid.UUID       `json:"account"`
	PairIndex       uint32          `json:"pair_index"`
	Side            string          `json:"side"`
	AmountDelta     decimal.Decimal `json:"amount_delta"`
	CollateralDelta decimal.Decimal `json:"collateral_delta"`
	Price           decimal.Decimal `json:"price"`
	TradingFee      decimal.Decimal `json:"trading_fee"`
	FundingFee      decimal.Decimal `json:"funding_fee"`
	RealizedPnl     decimal.Decimal `json:"realized_pnl"`
	Payout          decimal.Decimal `json:"payout"`
	Closed          bool            `json:"closed"`
	Timestamp       time.Time       `json:"timestamp"`
}

// LiquidationResponse represents a completed liquidation.
type LiquidationResponse struct {
	LiquidationID uuid.UUID       `json:"liquidation_id"`
	Sequence      int64           `json:"sequence"`
	Account       uuid.UUID       `json:"account"`
	PairIndex     uint32          `json:"pair_index"`
	Side          string          `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	NetAsset      decimal.Decimal `json:"net_asset"`
	FundingFee    decimal.Decimal `json:"funding_fee"`
	TradingFee    decimal.Decimal `json:"trading_fee"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ReserveResponse represents the risk reserve balance for one asset.
type ReserveResponse struct {
	Asset        string          `json:"asset"`
	Balance      decimal.Decimal `json:"balance"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// PriceResponse represents the latest accepted oracle price.
type PriceResponse struct {
	PairIndex     uint32          `json:"pair_index"`
	Price         decimal.Decimal `json:"price"`
	PriceSequence int64           `json:"price_sequence"`
	AsOfSequence  int64           `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}
