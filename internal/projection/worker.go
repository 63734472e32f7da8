package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"

	"PerpPool/internal/core"
	"PerpPool/internal/event"
	"PerpPool/internal/market"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
)

// ProjectionWorker updates the query-side tables from processed events.
// The projection channel is non-blocking with drop: if this worker falls
// behind, outputs are skipped and the tables are rebuilt from a cold
// replay of the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Envelope.Sequence, err)
				// Continue; projections are eventually consistent and
				// can be rebuilt from the event log
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	env := output.Envelope

	switch eff := output.Effect.(type) {
	case *core.TradeEffect:
		if err := pw.applyTrade(ctx, tx, env.Sequence, env.Timestamp, eff); err != nil {
			return fmt.Errorf("trade projection: %w", err)
		}
	case *core.LiquidityEffect:
		if err := pw.applyLiquidity(ctx, tx, env.Sequence, env.Timestamp, output.Event, eff); err != nil {
			return fmt.Errorf("liquidity projection: %w", err)
		}
	case *core.PriceEffect:
		if err := pw.applyPrice(ctx, tx, env.Sequence, env.Timestamp, eff); err != nil {
			return fmt.Errorf("price projection: %w", err)
		}
	case *core.FundingEffect:
		if err := pw.applyFunding(ctx, tx, env.Sequence, env.Timestamp, eff); err != nil {
			return fmt.Errorf("funding projection: %w", err)
		}
	case *core.ReserveEffect:
		if err := pw.applyReserve(ctx, tx, env.Sequence, env.Timestamp, eff); err != nil {
			return fmt.Errorf("reserve projection: %w", err)
		}
	case *core.ConfigEffect:
		if err := pw.applyConfig(ctx, tx, env.Sequence, env.Timestamp, eff); err != nil {
			return fmt.Errorf("config projection: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermarks (projection, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) applyTrade(ctx context.Context, tx *sql.Tx, seq int64, ts time.Time, eff *core.TradeEffect) error {
	pair := strconv.FormatUint(uint64(eff.PairIndex), 10)

	if eff.Closed {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM projections.positions WHERE account = $1 AND pair_index = $2
		`, eff.Account, int64(eff.PairIndex)); err != nil {
			return err
		}
		if pw.metrics != nil {
			pw.metrics.PositionsClosed.WithLabelValues(pair, eff.Side.String()).Inc()
		}
	} else {
		// Deltas fold into the existing row; the blended entry price is
		// recomputed on increase and left alone on partial decrease.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions
				(account, pair_index, side, collateral, position_amount, average_price, version, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
			ON CONFLICT (account, pair_index) DO UPDATE SET
				collateral      = projections.positions.collateral + EXCLUDED.collateral,
				position_amount = projections.positions.position_amount + EXCLUDED.position_amount,
				average_price   = CASE WHEN EXCLUDED.position_amount > 0 THEN
						(projections.positions.position_amount * projections.positions.average_price
							+ EXCLUDED.position_amount * EXCLUDED.average_price)
						/ (projections.positions.position_amount + EXCLUDED.position_amount)
					ELSE projections.positions.average_price END,
				version       = projections.positions.version + 1,
				last_sequence = EXCLUDED.last_sequence,
				updated_at    = EXCLUDED.updated_at
		`, eff.Account, int64(eff.PairIndex), eff.Side.String(),
			eff.CollateralDelta.String(), eff.AmountDelta.String(), eff.Price.String(),
			seq, ts); err != nil {
			return err
		}
		if pw.metrics != nil && eff.AmountDelta.Sign() > 0 {
			pw.metrics.PositionsOpened.WithLabelValues(pair, eff.Side.String()).Inc()
		}
	}

	if pw.metrics != nil {
		pw.openInterestGauge(eff.PairIndex, eff.Side).Add(amountGauge(eff.AmountDelta))
		if split := eff.FeeSplit; split != nil {
			pw.metrics.TradingFeeCharged.WithLabelValues(pair, "treasury").Add(amountGauge(split.TreasuryFee))
			pw.metrics.TradingFeeCharged.WithLabelValues(pair, "lp").Add(amountGauge(split.LpAmount))
			pw.metrics.TradingFeeCharged.WithLabelValues(pair, "keeper").Add(amountGauge(split.KeeperAmount))
			pw.metrics.TradingFeeCharged.WithLabelValues(pair, "staking").Add(amountGauge(split.StakingAmount))
		}
	}

	return pw.upsertVault(ctx, tx, seq, ts, eff.PairIndex, eff.Vault)
}

func (pw *ProjectionWorker) applyLiquidity(ctx context.Context, tx *sql.Tx, seq int64, ts time.Time, evt event.Event, eff *core.LiquidityEffect) error {
	pair := strconv.FormatUint(uint64(eff.PairIndex), 10)

	// LP balance delta: the mint amount on deposit, the burned amount
	// on withdrawal (taken from the event, the burn result only carries
	// the token legs).
	var lpDelta fpmath.Amount
	switch {
	case eff.Mint != nil:
		lpDelta = eff.Mint.MintAmount
		if pw.metrics != nil {
			pw.metrics.LiquidityMints.WithLabelValues(pair).Inc()
		}
	case eff.Burn != nil:
		rm, ok := evt.(*event.RemoveLiquidity)
		if !ok {
			return fmt.Errorf("burn effect without RemoveLiquidity event")
		}
		lpDelta = rm.LpAmount.Neg()
		if pw.metrics != nil {
			pw.metrics.LiquidityBurns.WithLabelValues(pair).Inc()
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.lp_balances (account, pair_index, balance, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account, pair_index) DO UPDATE SET
			balance       = projections.lp_balances.balance + EXCLUDED.balance,
			last_sequence = EXCLUDED.last_sequence,
			updated_at    = EXCLUDED.updated_at
	`, eff.Account, int64(eff.PairIndex), lpDelta.String(), seq, ts); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.LpTotalSupply.WithLabelValues(pair).Set(amountGauge(eff.LpSupply))
	}

	return pw.upsertVault(ctx, tx, seq, ts, eff.PairIndex, eff.Vault)
}

func (pw *ProjectionWorker) applyPrice(ctx context.Context, tx *sql.Tx, seq int64, ts time.Time, eff *core.PriceEffect) error {
	pair := strconv.FormatUint(uint64(eff.PairIndex), 10)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.prices (pair_index, price, price_sequence, sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pair_index) DO UPDATE SET
			price          = EXCLUDED.price,
			price_sequence = EXCLUDED.price_sequence,
			sequence       = EXCLUDED.sequence,
			updated_at     = EXCLUDED.updated_at
	`, int64(eff.PairIndex), eff.Price.String(), eff.Sequence, seq, ts); err != nil {
		return err
	}

	for _, rec := range eff.Liquidations {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM projections.positions WHERE account = $1 AND pair_index = $2
		`, rec.Account, int64(rec.PairIndex)); err != nil {
			return err
		}
		if pw.metrics != nil {
			pw.metrics.LiquidationTriggered.WithLabelValues(pair).Inc()
			if rec.NetAsset.Sign() < 0 {
				pw.metrics.LiquidationDeficit.WithLabelValues(pair).Inc()
			}
			pw.openInterestGauge(rec.PairIndex, rec.Side).Sub(amountGauge(rec.Amount))
		}
	}

	if eff.Vault != nil {
		return pw.upsertVault(ctx, tx, seq, ts, eff.PairIndex, eff.Vault)
	}
	return nil
}

func (pw *ProjectionWorker) applyFunding(ctx context.Context, tx *sql.Tx, seq int64, ts time.Time, eff *core.FundingEffect) error {
	if err := insertFundingHistory(ctx, tx, seq, ts, eff); err != nil {
		return err
	}

	if pw.metrics != nil {
		pair := strconv.FormatUint(uint64(eff.PairIndex), 10)
		pw.metrics.FundingEpochSettled.WithLabelValues(pair).Inc()
		if eff.Rate.IsInt64() {
			pw.metrics.FundingRate.WithLabelValues(pair).Set(float64(eff.Rate.Int64()))
		}
	}
	return nil
}

func (pw *ProjectionWorker) applyReserve(ctx context.Context, tx *sql.Tx, seq int64, ts time.Time, eff *core.ReserveEffect) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.reserve (asset, balance, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (asset) DO UPDATE SET
			balance       = EXCLUDED.balance,
			last_sequence = EXCLUDED.last_sequence,
			updated_at    = EXCLUDED.updated_at
	`, eff.Asset, eff.Balance.String(), seq, ts); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ReserveBalance.WithLabelValues(eff.Asset).Set(amountGauge(eff.Balance))
	}
	return nil
}

func (pw *ProjectionWorker) applyConfig(ctx context.Context, tx *sql.Tx, seq int64, ts time.Time, eff *core.ConfigEffect) error {
	cfg := eff.Config
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pair_configs
			(pair_index, version, index_symbol, index_decimals, stable_symbol, stable_decimals,
			 lp_decimals, maintain_margin_rate, max_leverage, taker_fee_p, maker_fee_p,
			 funding_interval, enable, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (pair_index) DO UPDATE SET
			version              = EXCLUDED.version,
			index_symbol         = EXCLUDED.index_symbol,
			index_decimals       = EXCLUDED.index_decimals,
			stable_symbol        = EXCLUDED.stable_symbol,
			stable_decimals      = EXCLUDED.stable_decimals,
			lp_decimals          = EXCLUDED.lp_decimals,
			maintain_margin_rate = EXCLUDED.maintain_margin_rate,
			max_leverage         = EXCLUDED.max_leverage,
			taker_fee_p          = EXCLUDED.taker_fee_p,
			maker_fee_p          = EXCLUDED.maker_fee_p,
			funding_interval     = EXCLUDED.funding_interval,
			enable               = EXCLUDED.enable,
			last_sequence        = EXCLUDED.last_sequence,
			updated_at           = EXCLUDED.updated_at
	`, int64(eff.PairIndex), eff.Version,
		cfg.Pair.IndexToken.Symbol, int64(cfg.Pair.IndexToken.Decimals),
		cfg.Pair.StableToken.Symbol, int64(cfg.Pair.StableToken.Decimals),
		int64(cfg.Pair.LpToken.Decimals),
		cfg.Trading.MaintainMarginRate, cfg.Trading.MaxLeverage,
		cfg.TradingFee.TakerFeeP, cfg.TradingFee.MakerFeeP,
		cfg.Funding.FundingInterval,
		cfg.Pair.Enable, seq, ts)
	return err
}

func (pw *ProjectionWorker) upsertVault(ctx context.Context, tx *sql.Tx, seq int64, ts time.Time, pairIdx uint32, v *market.Vault) error {
	if v == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vaults
			(pair_index, index_total, stable_total, index_reserved, stable_reserved, lp_total_supply, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (pair_index) DO UPDATE SET
			index_total     = EXCLUDED.index_total,
			stable_total    = EXCLUDED.stable_total,
			index_reserved  = EXCLUDED.index_reserved,
			stable_reserved = EXCLUDED.stable_reserved,
			lp_total_supply = EXCLUDED.lp_total_supply,
			last_sequence   = EXCLUDED.last_sequence,
			updated_at      = EXCLUDED.updated_at
	`, int64(pairIdx),
		v.IndexTotalAmount.String(), v.StableTotalAmount.String(),
		v.IndexReservedAmount.String(), v.StableReservedAmount.String(),
		v.LpTotalSupply.String(), seq, ts)
	if err != nil {
		return err
	}

	if pw.metrics != nil {
		pair := strconv.FormatUint(uint64(pairIdx), 10)
		pw.metrics.VaultIndexReserved.WithLabelValues(pair).Set(amountGauge(v.IndexReservedAmount))
		pw.metrics.VaultStableReserved.WithLabelValues(pair).Set(amountGauge(v.StableReservedAmount))
	}
	return nil
}

// openInterestGauge picks the long or short gauge for a pair. Flat sides
// never reach here in practice but map to the long gauge harmlessly.
func (pw *ProjectionWorker) openInterestGauge(pairIdx uint32, side market.Side) prometheus.Gauge {
	pair := strconv.FormatUint(uint64(pairIdx), 10)
	if side == market.SideShort {
		return pw.metrics.OpenInterestShort.WithLabelValues(pair)
	}
	return pw.metrics.OpenInterestLong.WithLabelValues(pair)
}

// amountGauge renders an amount as a float for Prometheus. Precision
// loss is acceptable in a gauge.
func amountGauge(a fpmath.Amount) float64 {
	f, err := strconv.ParseFloat(a.String(), 64)
	if err != nil {
		return 0
	}
	return f
}

// ResetProjections truncates every projection table. A cold replay of
// the event log through the core repopulates them via the projection
// channel.
func ResetProjections(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.vaults`,
		`TRUNCATE projections.lp_balances`,
		`TRUNCATE projections.funding_history`,
		`TRUNCATE projections.prices`,
		`TRUNCATE projections.reserve`,
		`TRUNCATE projections.pair_configs`,
		`DELETE FROM projections.watermarks WHERE projection = 'main'`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset projections: %w", err)
		}
	}

	log.Println("INFO: projection reset complete")
	return nil
}
