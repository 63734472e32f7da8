package core

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"PerpPool/internal/event"
	"PerpPool/internal/fee"
	"PerpPool/internal/funding"
	"PerpPool/internal/liquidity"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/market"
	"PerpPool/internal/observability"
	"PerpPool/internal/risk"
	"PerpPool/internal/state"
)

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	pairs             *market.PairManager
	vaults            *state.VaultManager
	positions         *state.PositionManager
	prices            *state.PriceStore
	trackers          *funding.TrackerStore
	reserve           *risk.Reserve
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope *event.EventEnvelope
	Event    event.Event
	Effect   any
}

func NewDeterministicCore(
	startSequence int64,
	daoPrincipal string,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	pairs := market.NewPairManager()
	vaults := state.NewVaultManager()
	for _, cfg := range market.DefaultPairConfigs() {
		vaults.Ensure(&cfg.Pair)
	}

	// Capacity of 1M entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		pairs:             pairs,
		vaults:            vaults,
		positions:         state.NewPositionManager(),
		prices:            state.NewPriceStore(),
		trackers:          funding.NewTrackerStore(),
		reserve:           risk.NewReserve(daoPrincipal),
		idempotency:       idempotencyChecker,
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation. Price updates tolerate gaps; all
	// other partitions require strict ordering.
	if priceEvt, ok := evt.(*event.OraclePriceUpdate); ok {
		if err := c.sequenceValidator.ValidatePriceSequence(priceEvt.PairIdx, priceEvt.PriceSequence); err != nil {
			return err
		}
	} else {
		partition := c.getPartition(evt)
		if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch
	effect, err := c.dispatchEvent(evt)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "rejected").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: State digest and hash chain. The chain tip must be read
	// before ComputeHash advances it.
	hashStart := time.Now()
	prevHash := c.hasher.GetPrevHash()
	stateDigest := c.computeStateDigest(evt.Pair())
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		PairIndex:      evt.Pair(),
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{Envelope: envelope, Event: evt, Effect: effect}
	c.sequence++

	// Step 5: Emit. Persistence uses a BLOCKING send (backpressure);
	// projections use a NON-BLOCKING send with silent drop, since
	// projection workers can rebuild from the event log.
	c.persistChan <- output
	select {
	case c.projectionChan <- output:
	default:
	}

	// Step 6: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (any, error) {
	switch e := evt.(type) {
	case *event.AddLiquidity:
		return c.handleAddLiquidity(e)
	case *event.RemoveLiquidity:
		return c.handleRemoveLiquidity(e)
	case *event.IncreasePosition:
		return c.handleIncreasePosition(e)
	case *event.DecreasePosition:
		return c.handleDecreasePosition(e)
	case *event.OraclePriceUpdate:
		return c.handleOraclePriceUpdate(e)
	case *event.FundingSettle:
		return c.handleFundingSettle(e)
	case *event.ReserveRecharge:
		return c.handleReserveRecharge(e)
	case *event.ReserveWithdraw:
		return c.handleReserveWithdraw(e)
	case *event.PairConfigUpdate:
		return c.handlePairConfigUpdate(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(evt event.Event) string {
	if pair := evt.Pair(); pair != nil {
		return fmt.Sprintf("pair:%d", *pair)
	}
	return "global"
}

// getEventTimestamp extracts the versioned timestamp from the event.
// The core never calls time.Now(); all timestamps are inputs.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.AddLiquidity:
		return e.Timestamp
	case *event.RemoveLiquidity:
		return e.Timestamp
	case *event.IncreasePosition:
		return e.Timestamp
	case *event.DecreasePosition:
		return e.Timestamp
	case *event.OraclePriceUpdate:
		return time.UnixMicro(e.PriceTimestamp)
	case *event.FundingSettle:
		return time.UnixMicro(e.EpochTs)
	case *event.ReserveRecharge:
		return e.Timestamp
	case *event.ReserveWithdraw:
		return e.Timestamp
	case *event.PairConfigUpdate:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T — deterministic core cannot use wall-clock time", evt))
	}
}

// ------------------------------------------------------------
// Liquidity
// ------------------------------------------------------------

func (c *DeterministicCore) handleAddLiquidity(e *event.AddLiquidity) (any, error) {
	cfg, price, err := c.pairContext(e.PairIdx)
	if err != nil {
		return nil, err
	}
	vault := c.vaults.Ensure(&cfg.Pair)

	res, err := liquidity.GetMintLpAmount(&cfg.Pair, vault, e.IndexAmount, e.StableAmount, price)
	if err != nil {
		return nil, err
	}

	// The full deposit enters the pool; the LP fee portion stays in
	// the vault as LP yield. Only the after-fee value mints tokens.
	if err := c.vaults.ApplyMint(e.PairIdx, e.IndexAmount, e.StableAmount, res.MintAmount); err != nil {
		return nil, err
	}

	after := c.vaults.Get(e.PairIdx)
	return &LiquidityEffect{
		Account:   e.Account,
		PairIndex: e.PairIdx,
		Mint:      res,
		LpSupply:  after.LpTotalSupply,
		Vault:     after.Clone(),
	}, nil
}

func (c *DeterministicCore) handleRemoveLiquidity(e *event.RemoveLiquidity) (any, error) {
	cfg, price, err := c.pairContext(e.PairIdx)
	if err != nil {
		return nil, err
	}
	vault := c.vaults.Ensure(&cfg.Pair)

	res, err := liquidity.GetReceivedAmount(&cfg.Pair, vault, e.LpAmount, price)
	if err != nil {
		return nil, err
	}

	// The withdrawal fee stays behind in the pool.
	if err := c.vaults.ApplyBurn(e.PairIdx, res.ReceiveIndexAmount, res.ReceiveStableAmount, e.LpAmount); err != nil {
		return nil, err
	}

	after := c.vaults.Get(e.PairIdx)
	return &LiquidityEffect{
		Account:   e.Account,
		PairIndex: e.PairIdx,
		Burn:      res,
		LpSupply:  after.LpTotalSupply,
		Vault:     after.Clone(),
	}, nil
}

// ------------------------------------------------------------
// Positions
// ------------------------------------------------------------

func (c *DeterministicCore) handleIncreasePosition(e *event.IncreasePosition) (any, error) {
	cfg, price, err := c.pairContext(e.PairIdx)
	if err != nil {
		return nil, err
	}
	c.vaults.Ensure(&cfg.Pair)

	if e.AmountDelta.Sign() <= 0 {
		return nil, fmt.Errorf("increase: amount must be positive")
	}
	minTrade := cfg.Trading.MinTradeAmount.Canonical()
	maxTrade := cfg.Trading.MaxTradeAmount.Canonical()
	if e.AmountDelta.Cmp(minTrade) < 0 || e.AmountDelta.Cmp(maxTrade) > 0 {
		return nil, fmt.Errorf("increase: amount %s outside [%s, %s]: %w",
			e.AmountDelta, minTrade, maxTrade, market.ErrInvalidConfiguration)
	}

	pos := c.positions.Get(e.Account, e.PairIdx)
	if pos != nil && pos.Side != e.Side {
		return nil, fmt.Errorf("%w: open %s position", state.ErrSideConflict, pos.Side)
	}

	tracker := c.trackers.Tracker(e.PairIdx)
	fundingFee := fpmath.Zero(fpmath.CanonicalDecimals)
	if pos != nil {
		fundingFee = funding.GetPositionFundingFee(tracker, pos.FundingFeeTracker, pos.PositionAmount, pos.Side)
	}

	tradingFee, err := fee.GetPositionTradingFee(&cfg.TradingFee, e.AmountDelta, e.Side, c.positions.Exposure(e.PairIdx), price)
	if err != nil {
		return nil, err
	}
	dist, err := fee.GetDistributeTradingFee(&cfg.TradingFee, tradingFee, e.VipLevel, e.ReferenceRate)
	if err != nil {
		return nil, err
	}
	netCharge := tradingFee.Sub(dist.UserTradingFee)

	// Fees and pending funding settle against the posted collateral.
	collateralDelta := e.CollateralDelta.Add(fundingFee).Sub(netCharge)

	// Prospective position: the result must respect the leverage cap
	// and come out healthy at the current price.
	newAmount := e.AmountDelta
	newAvg := price
	newCollateral := collateralDelta
	if pos != nil {
		newAmount = pos.PositionAmount.Add(e.AmountDelta)
		newAvg = state.WeightedEntryPrice(pos.PositionAmount, pos.AveragePrice, e.AmountDelta, price)
		newCollateral = pos.Collateral.Add(collateralDelta)
	}
	if newCollateral.Sign() <= 0 {
		return nil, fmt.Errorf("increase: collateral %s does not cover fees", e.CollateralDelta)
	}

	notional := newAmount.MulRat(newAvg.BigInt(), fpmath.PricePrecision)
	maxNotional := fpmath.NewAmount(
		new(big.Int).Mul(newCollateral.BigInt(), big.NewInt(cfg.Trading.MaxLeverage)),
		fpmath.CanonicalDecimals,
	)
	if notional.Cmp(maxNotional) > 0 {
		return nil, fmt.Errorf("increase: notional %s exceeds %dx leverage", notional, cfg.Trading.MaxLeverage)
	}

	health, err := risk.EvaluatePosition(risk.Input{
		Side:               e.Side,
		Collateral:         newCollateral,
		PositionAmount:     newAmount,
		AveragePrice:       newAvg,
		CurrentPrice:       price,
		FundingFee:         fpmath.Zero(fpmath.CanonicalDecimals),
		TradingFee:         fpmath.Zero(fpmath.CanonicalDecimals),
		MaintainMarginRate: cfg.Trading.MaintainMarginRate,
	})
	if err != nil {
		return nil, err
	}
	if health.NeedLiquidation {
		return nil, fmt.Errorf("increase: insufficient margin (net asset %s, maintenance %s)",
			health.NetAsset, health.MaintainMargin)
	}

	// Lock pool balance behind the new exposure before mutating the
	// position, so a reserve failure rejects the event cleanly.
	idxReserve, stableReserve := c.reserveDeltas(&cfg.Pair, e.Side, e.AmountDelta, price)
	if err := c.vaults.Reserve(e.PairIdx, e.Side, idxReserve, stableReserve); err != nil {
		return nil, fmt.Errorf("%w: %v", liquidity.ErrInsufficientLiquidity, err)
	}

	// Pool flows: the LP fee share enters the vault; settled funding
	// is paid from (or into) the pool float.
	poolDelta := dist.LpAmount.Sub(fundingFee).Convert(cfg.Pair.StableToken.Decimals)
	if err := c.vaults.SettleStable(e.PairIdx, poolDelta); err != nil {
		c.mustRelease(e.PairIdx, e.Side, idxReserve, stableReserve)
		return nil, err
	}

	pos, err = c.positions.Increase(e.Account, e.PairIdx, e.Side, collateralDelta, e.AmountDelta, price, tracker)
	if err != nil {
		c.mustRelease(e.PairIdx, e.Side, idxReserve, stableReserve)
		return nil, err
	}
	if pos.Version == 1 {
		pos.ReservedIndex = fpmath.Zero(cfg.Pair.IndexToken.Decimals)
		pos.ReservedStable = fpmath.Zero(cfg.Pair.StableToken.Decimals)
	}
	pos.ReservedIndex = pos.ReservedIndex.Add(idxReserve)
	pos.ReservedStable = pos.ReservedStable.Add(stableReserve)

	return &TradeEffect{
		Account:         e.Account,
		PairIndex:       e.PairIdx,
		Side:            e.Side,
		AmountDelta:     e.AmountDelta,
		CollateralDelta: collateralDelta,
		Price:           price,
		TradingFee:      tradingFee,
		FeeSplit:        dist,
		FundingFee:      fundingFee,
		RealizedPnl:     fpmath.Zero(fpmath.CanonicalDecimals),
		Payout:          fpmath.Zero(fpmath.CanonicalDecimals),
		Vault:           c.vaults.Get(e.PairIdx).Clone(),
	}, nil
}

func (c *DeterministicCore) handleDecreasePosition(e *event.DecreasePosition) (any, error) {
	cfg, price, err := c.pairContext(e.PairIdx)
	if err != nil {
		return nil, err
	}
	c.vaults.Ensure(&cfg.Pair)

	pos := c.positions.Get(e.Account, e.PairIdx)
	if pos == nil {
		return nil, fmt.Errorf("%w: account=%s pair=%d", state.ErrPositionNotFound, e.Account, e.PairIdx)
	}
	if e.AmountDelta.Sign() <= 0 || e.AmountDelta.Cmp(pos.PositionAmount) > 0 {
		return nil, fmt.Errorf("decrease: amount %s exceeds position %s", e.AmountDelta, pos.PositionAmount)
	}
	fullClose := e.AmountDelta.Cmp(pos.PositionAmount) == 0

	tracker := c.trackers.Tracker(e.PairIdx)
	fundingFee := funding.GetPositionFundingFee(tracker, pos.FundingFeeTracker, pos.PositionAmount, pos.Side)

	// Reducing acts as the opposite trade for taker/maker purposes.
	tradingFee, err := fee.GetPositionTradingFee(&cfg.TradingFee, e.AmountDelta, pos.Side.Opposite(), c.positions.Exposure(e.PairIdx), price)
	if err != nil {
		return nil, err
	}
	dist, err := fee.GetDistributeTradingFee(&cfg.TradingFee, tradingFee, e.VipLevel, e.ReferenceRate)
	if err != nil {
		return nil, err
	}
	netCharge := tradingFee.Sub(dist.UserTradingFee)

	diff := price.Sub(pos.AveragePrice)
	if pos.Side == market.SideShort {
		diff = diff.Neg()
	}
	pnl := e.AmountDelta.MulRat(diff.BigInt(), fpmath.PricePrecision)

	collateralOut := e.CollateralDelta
	if fullClose {
		collateralOut = pos.Collateral
	}
	if collateralOut.Sign() < 0 || collateralOut.Cmp(pos.Collateral) > 0 {
		return nil, fmt.Errorf("decrease: collateral %s exceeds %s", collateralOut, pos.Collateral)
	}

	payout := collateralOut.Add(pnl).Add(fundingFee).Sub(netCharge)
	if !fullClose {
		if payout.Sign() < 0 {
			return nil, fmt.Errorf("decrease: negative payout %s", payout)
		}
		health, err := risk.EvaluatePosition(risk.Input{
			Side:               pos.Side,
			Collateral:         pos.Collateral.Sub(collateralOut),
			PositionAmount:     pos.PositionAmount.Sub(e.AmountDelta),
			AveragePrice:       pos.AveragePrice,
			CurrentPrice:       price,
			FundingFee:         fpmath.Zero(fpmath.CanonicalDecimals),
			TradingFee:         fpmath.Zero(fpmath.CanonicalDecimals),
			MaintainMarginRate: cfg.Trading.MaintainMarginRate,
		})
		if err != nil {
			return nil, err
		}
		if health.NeedLiquidation {
			return nil, fmt.Errorf("decrease: would leave position under-margined (net asset %s)", health.NetAsset)
		}
	}

	// Release the locked pool balance: pro-rata on partial reduction,
	// the exact remainder on close.
	relIdx, relStable := pos.ReservedIndex, pos.ReservedStable
	if !fullClose {
		relIdx = pos.ReservedIndex.MulRat(e.AmountDelta.BigInt(), pos.PositionAmount.BigInt())
		relStable = pos.ReservedStable.MulRat(e.AmountDelta.BigInt(), pos.PositionAmount.BigInt())
	}
	if err := c.vaults.Release(e.PairIdx, pos.Side, relIdx, relStable); err != nil {
		return nil, err
	}

	// Pool flows: trader PnL and funding settle against the pool
	// float; the LP fee share stays in.
	poolDelta := dist.LpAmount.Sub(pnl).Sub(fundingFee).Convert(cfg.Pair.StableToken.Decimals)
	if err := c.vaults.SettleStable(e.PairIdx, poolDelta); err != nil {
		c.mustReserve(e.PairIdx, pos.Side, relIdx, relStable)
		return nil, fmt.Errorf("%w: %v", liquidity.ErrInsufficientLiquidity, err)
	}

	// A full close may surface a deficit; it flows to the risk
	// reserve and the trader receives nothing.
	if payout.Sign() < 0 {
		c.reserve.ApplyLiquidation(cfg.Pair.StableToken.Symbol, payout)
		payout = fpmath.Zero(fpmath.CanonicalDecimals)
	}

	side := pos.Side
	pos, err = c.positions.Decrease(e.Account, e.PairIdx, e.AmountDelta, collateralOut, tracker)
	if err != nil {
		return nil, err
	}
	if !fullClose {
		pos.ReservedIndex = pos.ReservedIndex.Sub(relIdx)
		pos.ReservedStable = pos.ReservedStable.Sub(relStable)
	}

	return &TradeEffect{
		Account:         e.Account,
		PairIndex:       e.PairIdx,
		Side:            side,
		AmountDelta:     e.AmountDelta.Neg(),
		CollateralDelta: collateralOut.Neg(),
		Price:           price,
		TradingFee:      tradingFee,
		FeeSplit:        dist,
		FundingFee:      fundingFee,
		RealizedPnl:     pnl,
		Payout:          payout,
		Closed:          fullClose,
		Vault:           c.vaults.Get(e.PairIdx).Clone(),
	}, nil
}

// ------------------------------------------------------------
// Oracle prices and the liquidation sweep
// ------------------------------------------------------------

func (c *DeterministicCore) handleOraclePriceUpdate(e *event.OraclePriceUpdate) (any, error) {
	if e.Price.Decimals() != fpmath.PriceDecimals || e.Price.Sign() <= 0 {
		return nil, fmt.Errorf("invalid oracle price: %w", market.ErrInvalidConfiguration)
	}

	accepted := c.prices.Update(e.PairIdx, e.Price, e.PriceSequence, e.PriceTimestamp)
	effect := &PriceEffect{PairIndex: e.PairIdx, Price: e.Price, Sequence: e.PriceSequence}
	if !accepted {
		return effect, nil
	}

	records, err := c.sweepLiquidations(e.PairIdx, e.Price)
	if err != nil {
		return nil, err
	}
	effect.Liquidations = records
	if len(records) > 0 {
		effect.Vault = c.vaults.Get(e.PairIdx).Clone()
	}
	return effect, nil
}

// sweepLiquidations re-evaluates every position on the pair at the new
// price and tears down the unhealthy ones. Iteration is ordered by
// account so replicas produce identical state.
func (c *DeterministicCore) sweepLiquidations(pairIdx uint32, price fpmath.Amount) ([]LiquidationRecord, error) {
	cfg, ok := c.pairs.Get(pairIdx)
	if !ok {
		return nil, nil
	}

	positions := c.positions.ForPair(pairIdx)
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Account.String() < positions[j].Account.String()
	})

	var records []LiquidationRecord
	for _, pos := range positions {
		tracker := c.trackers.Tracker(pairIdx)
		fundingFee := funding.GetPositionFundingFee(tracker, pos.FundingFeeTracker, pos.PositionAmount, pos.Side)

		// Tearing down the position is a close at the sweep price, so
		// it carries the same opposite-side trading fee as a decrease.
		// The fee nets into the trader's remaining asset value.
		tradingFee, err := fee.GetPositionTradingFee(&cfg.TradingFee, pos.PositionAmount, pos.Side.Opposite(), c.positions.Exposure(pairIdx), price)
		if err != nil {
			return nil, fmt.Errorf("sweep pair %d: %w", pairIdx, err)
		}

		health, err := risk.EvaluatePosition(risk.Input{
			Side:               pos.Side,
			Collateral:         pos.Collateral,
			PositionAmount:     pos.PositionAmount,
			AveragePrice:       pos.AveragePrice,
			CurrentPrice:       price,
			FundingFee:         fundingFee,
			TradingFee:         tradingFee,
			MaintainMarginRate: cfg.Trading.MaintainMarginRate,
		})
		if err != nil {
			return nil, fmt.Errorf("sweep pair %d: %w", pairIdx, err)
		}
		if !health.NeedLiquidation {
			continue
		}

		// Liquidations earn no VIP rebate and no referral cut.
		dist, err := fee.GetDistributeTradingFee(&cfg.TradingFee, tradingFee, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("sweep pair %d: %w", pairIdx, err)
		}

		outcome := risk.Liquidate(health)

		if _, err := c.positions.Remove(pos.Account, pos.PairIndex); err != nil {
			return nil, err
		}
		if err := c.vaults.Release(pairIdx, pos.Side, pos.ReservedIndex, pos.ReservedStable); err != nil {
			return nil, err
		}

		// Same pool flows as a close: the LP fee share stays in, the
		// trader's pnl and funding settle against the pool float.
		poolDelta := dist.LpAmount.Sub(health.Pnl).Sub(fundingFee).Convert(cfg.Pair.StableToken.Decimals)
		if err := c.vaults.SettleStable(pairIdx, poolDelta); err != nil {
			return nil, err
		}

		c.reserve.ApplyLiquidation(cfg.Pair.StableToken.Symbol, outcome.ReserveDelta)

		records = append(records, LiquidationRecord{
			Account:    pos.Account,
			PairIndex:  pos.PairIndex,
			Side:       pos.Side,
			Amount:     pos.PositionAmount,
			Price:      price,
			NetAsset:   health.NetAsset,
			FundingFee: fundingFee,
			TradingFee: tradingFee,
		})
	}

	return records, nil
}

// ------------------------------------------------------------
// Funding
// ------------------------------------------------------------

func (c *DeterministicCore) handleFundingSettle(e *event.FundingSettle) (any, error) {
	cfg, price, err := c.pairContext(e.PairIdx)
	if err != nil {
		return nil, err
	}
	vault := c.vaults.Ensure(&cfg.Pair)

	rate, err := funding.GetFundingRate(funding.RateInput{
		LongOpenInterest:   c.positions.LongOpenInterest(e.PairIdx),
		ShortOpenInterest:  c.positions.ShortOpenInterest(e.PairIdx),
		PoolIndexLiquidity: funding.PoolIndexLiquidity(vault, price),
		Config:             cfg.Funding,
	})
	if err != nil {
		return nil, err
	}

	tracker, err := c.trackers.Settle(e.PairIdx, e.Epoch, rate, price, e.EpochTs)
	if err != nil {
		return nil, err
	}

	// Positions settle lazily: the tracker delta is charged the next
	// time each position is touched.
	return &FundingEffect{
		PairIndex: e.PairIdx,
		Epoch:     e.Epoch,
		Rate:      rate,
		Tracker:   tracker,
		Price:     price,
	}, nil
}

// ------------------------------------------------------------
// Risk reserve
// ------------------------------------------------------------

func (c *DeterministicCore) handleReserveRecharge(e *event.ReserveRecharge) (any, error) {
	if err := c.reserve.Recharge(e.Asset, e.Amount); err != nil {
		return nil, err
	}
	return &ReserveEffect{
		Principal: e.Principal,
		Asset:     e.Asset,
		Delta:     e.Amount,
		Balance:   c.reserve.Balance(e.Asset),
	}, nil
}

func (c *DeterministicCore) handleReserveWithdraw(e *event.ReserveWithdraw) (any, error) {
	if err := c.reserve.Withdraw(e.Principal, e.Asset, e.Amount); err != nil {
		return nil, err
	}
	return &ReserveEffect{
		Principal: e.Principal,
		Asset:     e.Asset,
		Delta:     e.Amount.Neg(),
		Balance:   c.reserve.Balance(e.Asset),
	}, nil
}

// ------------------------------------------------------------
// Configuration
// ------------------------------------------------------------

func (c *DeterministicCore) handlePairConfigUpdate(e *event.PairConfigUpdate) (any, error) {
	cfg := e.Config
	if err := c.pairs.Update(&cfg); err != nil {
		return nil, err
	}
	c.vaults.Ensure(&cfg.Pair)
	return &ConfigEffect{PairIndex: e.PairIdx, Version: e.Version, Config: cfg}, nil
}

// ------------------------------------------------------------
// Helpers
// ------------------------------------------------------------

// pairContext resolves the pair configuration and the latest oracle
// price, the two inputs every pair-scoped handler needs.
func (c *DeterministicCore) pairContext(pairIdx uint32) (*market.PairConfig, fpmath.Amount, error) {
	cfg, ok := c.pairs.Get(pairIdx)
	if !ok {
		return nil, fpmath.Amount{}, fmt.Errorf("unknown pair %d: %w", pairIdx, market.ErrInvalidConfiguration)
	}
	if !cfg.Pair.Enable {
		return nil, fpmath.Amount{}, fmt.Errorf("pair %d disabled: %w", pairIdx, market.ErrInvalidConfiguration)
	}
	price, ok := c.prices.Get(pairIdx)
	if !ok {
		return nil, fpmath.Amount{}, fmt.Errorf("no oracle price for pair %d", pairIdx)
	}
	return cfg, price, nil
}

// reserveDeltas computes the pool balance to lock behind new exposure:
// longs lock the index amount, shorts lock the open notional in stable.
func (c *DeterministicCore) reserveDeltas(pair *market.Pair, side market.Side, amountDelta, price fpmath.Amount) (fpmath.Amount, fpmath.Amount) {
	idx := fpmath.Zero(pair.IndexToken.Decimals)
	stable := fpmath.Zero(pair.StableToken.Decimals)
	if side == market.SideLong {
		idx = amountDelta.Convert(pair.IndexToken.Decimals)
	} else {
		stable = amountDelta.MulRat(price.BigInt(), fpmath.PricePrecision).Convert(pair.StableToken.Decimals)
	}
	return idx, stable
}

// mustRelease undoes a reserve during handler rollback. The release of
// a just-acquired reserve cannot fail.
func (c *DeterministicCore) mustRelease(pairIdx uint32, side market.Side, idx, stable fpmath.Amount) {
	if err := c.vaults.Release(pairIdx, side, idx, stable); err != nil {
		panic(fmt.Sprintf("FATAL: rollback release failed: %v", err))
	}
}

// mustReserve undoes a release during handler rollback.
func (c *DeterministicCore) mustReserve(pairIdx uint32, side market.Side, idx, stable fpmath.Amount) {
	if err := c.vaults.Reserve(pairIdx, side, idx, stable); err != nil {
		panic(fmt.Sprintf("FATAL: rollback reserve failed: %v", err))
	}
}

// computeStateDigest builds the canonical byte representation of the
// state touched by an event: the pair's vault, tracker, and positions,
// plus the risk reserve balances.
func (c *DeterministicCore) computeStateDigest(pairIdx *uint32) []byte {
	digest := make([]byte, 0, 256)

	if pairIdx != nil {
		if v := c.vaults.Get(*pairIdx); v != nil {
			digest = appendString(digest, v.IndexTotalAmount.String())
			digest = appendString(digest, v.StableTotalAmount.String())
			digest = appendString(digest, v.IndexReservedAmount.String())
			digest = appendString(digest, v.StableReservedAmount.String())
			digest = appendString(digest, v.LpTotalSupply.String())
		}

		digest = appendString(digest, c.trackers.Tracker(*pairIdx).String())

		positions := c.positions.ForPair(*pairIdx)
		sort.Slice(positions, func(i, j int) bool {
			return positions[i].Account.String() < positions[j].Account.String()
		})
		for _, pos := range positions {
			digest = append(digest, pos.CanonicalBytes()...)
		}
	}

	balances := c.reserve.All()
	assets := make([]string, 0, len(balances))
	for asset := range balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		digest = appendString(digest, asset)
		digest = appendString(digest, balances[asset].String())
	}

	return digest
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)>>8), byte(len(s)))
	return append(buf, []byte(s)...)
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Positions       []*state.Position
	Vaults          map[uint32]*market.Vault
	Prices          map[uint32]*state.OraclePrice
	Trackers        map[uint32]*funding.PairTracker
	ReserveBalances map[string]*big.Int
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state. On warm
// restart the caller loads the latest snapshot then replays events.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)

	for _, pos := range snap.Positions {
		c.positions.Restore(pos)
	}
	for pairIdx, v := range snap.Vaults {
		c.vaults.Restore(pairIdx, v)
	}
	for pairIdx, p := range snap.Prices {
		c.prices.Restore(pairIdx, p)
	}
	for _, t := range snap.Trackers {
		c.trackers.Restore(t)
	}
	for asset, balance := range snap.ReserveBalances {
		c.reserve.Restore(asset, balance)
	}
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed events.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for
// persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Positions:       c.positions.All(),
		Vaults:          c.vaults.All(),
		Prices:          c.prices.All(),
		Trackers:        c.trackers.All(),
		ReserveBalances: c.reserve.All(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
