package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"PerpPool/internal/core"
	"PerpPool/internal/ingestion"
	"PerpPool/internal/observability"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// This goroutine runs independently from the deterministic core. The persist
// channel uses BLOCKING sends from the core, so if this worker falls behind,
// the core stalls and no event is lost.
type PersistenceWorker struct {
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewEventLogWriter(db, batchSize, flushTimeout),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// batch accumulates rows between flushes.
type batch struct {
	events       []EventRow
	trades       []TradeRow
	liquidations []LiquidationRow
}

func (b *batch) reset() {
	b.events = b.events[:0]
	b.trades = b.trades[:0]
	b.liquidations = b.liquidations[:0]
}

// Run starts the persistence worker loop. It batches incoming outputs
// and flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	b := &batch{
		events:       make([]EventRow, 0, pw.batchSize),
		trades:       make([]TradeRow, 0, pw.batchSize),
		liquidations: make([]LiquidationRow, 0, pw.batchSize),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(b.events) > 0 {
				if err := pw.flush(context.Background(), b); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				// Channel closed, flush and exit
				if len(b.events) > 0 {
					if err := pw.flush(context.Background(), b); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			pw.appendOutput(b, output)

			if len(b.events) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, b); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				b.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(b.events) > 0 {
				if err := pw.flushWithRetry(ctx, b); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				b.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// appendOutput converts one core output into event-log rows.
func (pw *PersistenceWorker) appendOutput(b *batch, out core.CoreOutput) {
	env := out.Envelope

	payload, err := ingestion.EncodeEvent(out.Event)
	if err != nil {
		log.Printf("WARN: encode payload for seq %d: %v", env.Sequence, err)
		payload = []byte("{}")
	}

	var pairIdx sql.NullInt64
	if env.PairIndex != nil {
		pairIdx = sql.NullInt64{Int64: int64(*env.PairIndex), Valid: true}
	}

	b.events = append(b.events, EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		PairIndex:      pairIdx,
		Payload:        payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	})

	switch eff := out.Effect.(type) {
	case *core.TradeEffect:
		b.trades = append(b.trades, TradeRow{
			TradeID:         uuid.New(),
			Sequence:        env.Sequence,
			Account:         eff.Account.String(),
			PairIndex:       int64(eff.PairIndex),
			Side:            eff.Side.String(),
			AmountDelta:     eff.AmountDelta.String(),
			CollateralDelta: eff.CollateralDelta.String(),
			Price:           eff.Price.String(),
			TradingFee:      eff.TradingFee.String(),
			FundingFee:      eff.FundingFee.String(),
			RealizedPnl:     eff.RealizedPnl.String(),
			Payout:          eff.Payout.String(),
			Closed:          eff.Closed,
			Timestamp:       env.Timestamp,
		})

	case *core.PriceEffect:
		for _, rec := range eff.Liquidations {
			b.liquidations = append(b.liquidations, LiquidationRow{
				LiquidationID: uuid.New(),
				Sequence:      env.Sequence,
				Account:       rec.Account.String(),
				PairIndex:     int64(rec.PairIndex),
				Side:          rec.Side.String(),
				Amount:        rec.Amount.String(),
				Price:         rec.Price.String(),
				NetAsset:      rec.NetAsset.String(),
				FundingFee:    rec.FundingFee.String(),
				TradingFee:    rec.TradingFee.String(),
				Timestamp:     env.Timestamp,
			})
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// never drops a batch: it retries until the write succeeds or the context
// is cancelled, in which case it makes one final attempt before returning.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, events=%d)",
				attempt, backoff, len(b.events))
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				finalErr := pw.flush(context.Background(), b)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	// Events, trades, and liquidations commit in a single transaction
	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, b.events); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if err := pw.writer.WriteTradeBatch(ctx, tx, b.trades); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_trades").Inc()
		}
		return err
	}

	if err := pw.writer.WriteLiquidationBatch(ctx, tx, b.liquidations); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_liquidations").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(b.events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(b.events)))
		if len(b.events) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(b.events[len(b.events)-1].Sequence))
		}
	}

	return nil
}

// GetWriter returns the underlying writer.
func (pw *PersistenceWorker) GetWriter() *EventLogWriter {
	return pw.writer
}
