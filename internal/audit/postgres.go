package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/JaimeStill/billwatch/pkg/repository"
)

// DefaultBatchSize caps the number of events written per statement batch.
const DefaultBatchSize = 500

const insertRun = `
	INSERT INTO audit_runs (run_id, created_at, summary, event_count)
	VALUES ($1, $2, $3::jsonb, $4)`

const insertEvent = `
	INSERT INTO audit_events (
		run_id, sheet_id, row_id, work_request_id, week_ending, field,
		old_value, new_value, delta, detected_at, modified_by, modified_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// PostgresSink writes batches to the audit_runs and audit_events tables.
// The run row records the expected event count and is written first; events
// follow in transactions of at most batchSize rows. A run whose stored event
// count is below event_count was interrupted.
type PostgresSink struct {
	db        *sql.DB
	batchSize int
	logger    *slog.Logger
}

// NewPostgresSink returns a PostgresSink. A non-positive batchSize uses
// DefaultBatchSize.
func NewPostgresSink(db *sql.DB, batchSize int, logger *slog.Logger) *PostgresSink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &PostgresSink{
		db:        db,
		batchSize: batchSize,
		logger:    logger.With("system", "audit-sink"),
	}
}

// runInsertError classifies the run row insert: a unique violation means the
// run id was already recorded, zero affected rows means nothing was stored.
func runInsertError(err error) error {
	return repository.MapError(err, ErrRunNotRecorded, ErrDuplicateRun)
}

func (s *PostgresSink) AppendBatch(ctx context.Context, runID string, events []Event, report Report) error {
	summary, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	_, err = repository.WithTx(ctx, s.db, func(tx *sql.Tx) (struct{}, error) {
		err := repository.ExecExpectOne(ctx, tx, insertRun, runID, report.Timestamp, string(summary), len(events))
		return struct{}{}, runInsertError(err)
	})
	if err != nil {
		return fmt.Errorf("record run %s: %w", runID, err)
	}

	written := 0
	for start := 0; start < len(events); start += s.batchSize {
		chunk := events[start:min(start+s.batchSize, len(events))]

		args := make([][]any, len(chunk))
		for i, e := range chunk {
			args[i] = []any{
				runID, e.Source.SheetID, e.Source.RowID, e.WorkRequestID, e.WeekEnding,
				e.Field, e.OldValue, e.NewValue, e.Delta.String(), e.DetectedAt,
				nullString(e.ModifiedBy), e.ModifiedAt,
			}
		}

		n, err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) (int, error) {
			return repository.ExecEach(ctx, tx, insertEvent, args)
		})
		if err != nil {
			return fmt.Errorf("append events %d-%d of run %s: %w", start, start+len(chunk), runID, err)
		}
		written += n
	}

	s.logger.InfoContext(ctx, "audit batch recorded", "run_id", runID, "events", written)
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
