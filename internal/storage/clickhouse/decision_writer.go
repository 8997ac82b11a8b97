package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinel-trading/sentinel/internal/gate"
)

// DecisionWriter batches gate decisions and flushes to ClickHouse
// periodically or when the batch is full. Analytics only; losing a
// flush never affects admission.
type DecisionWriter struct {
	client        *Client
	batchSize     int
	flushInterval time.Duration

	mu         sync.Mutex
	buf        []decisionRow
	closed     bool
	flushCount int64
	errorCount int64
}

type decisionRow struct {
	tokenAddress string
	passed       bool
	failedRules  []string
	totalPenalty int32
	elapsedMs    int64
	resultsJSON  string
	evaluatedAt  time.Time
}

// NewDecisionWriter creates a batch writer that flushes on size or interval.
func NewDecisionWriter(client *Client, batchSize int, flushInterval time.Duration) *DecisionWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &DecisionWriter{
		client:        client,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buf:           make([]decisionRow, 0, batchSize),
	}
}

// WriteDecision adds a decision to the batch buffer.
func (w *DecisionWriter) WriteDecision(_ context.Context, d gate.Decision) error {
	results, err := json.Marshal(d.Results)
	if err != nil {
		return fmt.Errorf("marshal decision results: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	w.buf = append(w.buf, decisionRow{
		tokenAddress: d.TokenAddress,
		passed:       d.Passed,
		failedRules:  d.FailedRules(),
		totalPenalty: int32(d.TotalPenalty),
		elapsedMs:    d.ElapsedMs,
		resultsJSON:  string(results),
		evaluatedAt:  d.EvaluatedAt,
	})
	return nil
}

// Start begins the background flush loop. Blocks until context is cancelled.
func (w *DecisionWriter) Start(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	log.Info().
		Int("batch_size", w.batchSize).
		Dur("flush_interval", w.flushInterval).
		Msg("ClickHouse decision writer started")

	for {
		select {
		case <-ctx.Done():
			// Final flush on shutdown.
			if err := w.Flush(context.Background()); err != nil {
				log.Error().Err(err).Msg("Final flush error on shutdown")
			}
			w.mu.Lock()
			w.closed = true
			w.mu.Unlock()
			return
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("Periodic flush error")
			}
		}
	}
}

// Flush writes all buffered decisions to ClickHouse.
func (w *DecisionWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	rows := w.buf
	w.buf = make([]decisionRow, 0, w.batchSize)
	w.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	batch, err := w.client.Conn().PrepareBatch(ctx,
		"INSERT INTO gate_decisions (token_address, passed, failed_rules, total_penalty, elapsed_ms, results, evaluated_at)")
	if err != nil {
		w.recordError()
		return fmt.Errorf("prepare decision batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.tokenAddress,
			r.passed,
			r.failedRules,
			r.totalPenalty,
			r.elapsedMs,
			r.resultsJSON,
			r.evaluatedAt,
		); err != nil {
			w.recordError()
			return fmt.Errorf("append decision: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		w.recordError()
		return fmt.Errorf("send decision batch: %w", err)
	}

	w.mu.Lock()
	w.flushCount++
	flushes := w.flushCount
	w.mu.Unlock()

	log.Debug().
		Int("decisions", len(rows)).
		Int64("total_flushes", flushes).
		Msg("ClickHouse decision batch flushed")

	return nil
}

func (w *DecisionWriter) recordError() {
	w.mu.Lock()
	w.errorCount++
	w.mu.Unlock()
}
