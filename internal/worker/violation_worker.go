package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Redis BLPOP takes whole seconds
)

var violationColumns = []string{"session_id", "exam_id", "student_id", "type", "severity", "payload", "detected_at"}

// ViolationWorker drains the violation queue into proctoring_violations.
type ViolationWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
}

// queuedViolation keeps the raw queue item next to the decoded entry so a
// failed row can be pushed back unchanged.
type queuedViolation struct {
	raw   string
	entry model.ViolationLogEntry
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]queuedViolation, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			if !sleepCtx(ctx, 3*time.Second) {
				w.shutdown(buffer)
				return
			}
			continue
		}

		if len(result) < 2 {
			continue
		}

		var entry model.ViolationLogEntry
		if err := json.Unmarshal([]byte(result[1]), &entry); err != nil {
			// malformed items can never succeed
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed violation")
			continue
		}
		buffer = append(buffer, queuedViolation{raw: result[1], entry: entry})
	}
}

// toRow maps a queued entry onto violationColumns.
func toRow(e model.ViolationLogEntry) ([]any, error) {
	examID, err := uuid.Parse(e.ExamID)
	if err != nil {
		return nil, fmt.Errorf("exam id: %w", err)
	}
	detectedAt, err := time.Parse(time.RFC3339Nano, e.Violation.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("violation timestamp: %w", err)
	}
	payload, err := json.Marshal(e.Violation)
	if err != nil {
		return nil, err
	}
	return []any{
		e.SessionID, examID, e.StudentID, string(e.Violation.Type), string(e.Violation.Severity), payload, detectedAt,
	}, nil
}

// flushSafe tries one COPY for the batch and falls back to row-by-row inserts.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []queuedViolation) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Violations persisted")
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []queuedViolation) error {
	rows := make([][]any, 0, len(batch))
	for _, q := range batch {
		row, err := toRow(q.entry)
		if err != nil {
			// the fallback drops the bad row on its own
			return err
		}
		rows = append(rows, row)
	}

	_, err := w.pool.CopyFrom(ctx, pgx.Identifier{"proctoring_violations"}, violationColumns, pgx.CopyFromRows(rows))
	return err
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []queuedViolation) {
	var requeue []queuedViolation

	for _, q := range batch {
		row, err := toRow(q.entry)
		if err != nil {
			w.log.Error().Err(err).Str("session_id", q.entry.SessionID).Msg("Dropping invalid violation")
			continue
		}

		_, err = w.pool.Exec(ctx,
			`INSERT INTO proctoring_violations (session_id, exam_id, student_id, type, severity, payload, detected_at)
			 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
			row...,
		)
		if err != nil {
			w.log.Error().Err(err).Str("session_id", q.entry.SessionID).Msg("Insert failed, requeueing")
			requeue = append(requeue, q)
		}
	}

	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []queuedViolation) {
	pipe := w.rdb.Pipeline()
	for _, q := range items {
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, q.raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("Failed to requeue violations, data lost")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed violations")
	// back off so a database outage does not spin the queue
	sleepCtx(ctx, 2*time.Second)
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *ViolationWorker) shutdown(buffer []queuedViolation) {
	if len(buffer) == 0 {
		return
	}
	w.log.Info().Int("count", len(buffer)).Msg("Worker stopping, flushing remaining violations")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(ctx, buffer)
}
