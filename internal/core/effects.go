package core

import (
	"math/big"

	"PerpPool/internal/fee"
	"PerpPool/internal/liquidity"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/market"

	"github.com/google/uuid"
)

// Effects are the typed state deltas a processed event produced. They
// ride alongside the envelope to the persistence and projection
// workers, which serialize them into history tables.

// LiquidityEffect records an LP mint or burn.
type LiquidityEffect struct {
	Account   uuid.UUID
	PairIndex uint32
	Mint      *liquidity.MintResult
	Burn      *liquidity.BurnResult
	LpSupply  fpmath.Amount // after the operation
	Vault     *market.Vault // after the operation
}

// TradeEffect records a position open, increase, decrease, or close.
type TradeEffect struct {
	Account         uuid.UUID
	PairIndex       uint32
	Side            market.Side
	AmountDelta     fpmath.Amount // canonical index units
	CollateralDelta fpmath.Amount // canonical stable, signed
	Price           fpmath.Amount
	TradingFee      fpmath.Amount
	FeeSplit        *fee.Distribution
	FundingFee      fpmath.Amount // signed, settled on touch
	RealizedPnl     fpmath.Amount // zero on increase
	Payout          fpmath.Amount // stable paid to the trader
	Closed          bool
	Vault           *market.Vault // after the operation
}

// LiquidationRecord describes one position torn down by the sweep.
type LiquidationRecord struct {
	Account    uuid.UUID
	PairIndex  uint32
	Side       market.Side
	Amount     fpmath.Amount
	Price      fpmath.Amount // liquidation price
	NetAsset   fpmath.Amount // signed; flows to the reserve
	FundingFee fpmath.Amount
	TradingFee fpmath.Amount // close fee at the liquidation price
}

// PriceEffect records an accepted oracle tick and any liquidations it
// triggered.
type PriceEffect struct {
	PairIndex    uint32
	Price        fpmath.Amount
	Sequence     int64
	Liquidations []LiquidationRecord
	Vault        *market.Vault // after the sweep; nil when nothing was liquidated
}

// FundingEffect records one settled funding epoch.
type FundingEffect struct {
	PairIndex uint32
	Epoch     int64
	Rate      *big.Int // per-interval, parts-per-1e8
	Tracker   *big.Int // cumulative tracker after settlement
	Price     fpmath.Amount
}

// ReserveEffect records a risk reserve flow.
type ReserveEffect struct {
	Principal string
	Asset     string
	Delta     fpmath.Amount // signed
	Balance   fpmath.Amount // after the operation
}

// ConfigEffect records an applied pair configuration.
type ConfigEffect struct {
	PairIndex uint32
	Version   int64
	Config    market.PairConfig
}
