package journal

import (
	"context"
	"fmt"
	"time"

	"dockrun/internal/model"
)

type AttemptRecord struct {
	RunID      string
	Chunk      int
	Attempt    int
	Items      int
	ExitCode   int
	TimedOut   bool
	Duration   time.Duration
	Error      string
	FinishedAt time.Time
}

func (s *Store) BeginRun(ctx context.Context, summary model.RunSummary) error {
	err := s.exec(ctx, `
		INSERT INTO runs (id, started_at, items_total, items_already_done, items_pending, chunks_planned)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		summary.RunID, summary.StartedAt, summary.ItemsTotal, summary.ItemsAlreadyDone,
		summary.ItemsPending, summary.ChunksPlanned,
	)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", summary.RunID, err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, summary model.RunSummary) error {
	if err := s.BeginRun(ctx, summary); err != nil {
		return err
	}
	err := s.exec(ctx, `
		UPDATE runs SET
			finished_at = ?, items_total = ?, items_already_done = ?, items_pending = ?,
			items_completed = ?, items_failed = ?, items_remaining = ?,
			chunks_planned = ?, chunks_attempted = ?, chunks_failed = ?,
			attempts = ?, interrupted = ?
		WHERE id = ?`,
		summary.FinishedAt, summary.ItemsTotal, summary.ItemsAlreadyDone, summary.ItemsPending,
		summary.ItemsCompleted, summary.ItemsFailed, summary.ItemsRemaining,
		summary.ChunksPlanned, summary.ChunksAttempted, summary.ChunksFailed,
		summary.Attempts, boolInt(summary.Interrupted), summary.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", summary.RunID, err)
	}
	return nil
}

func (s *Store) RecordAttempt(ctx context.Context, rec AttemptRecord) error {
	finished := rec.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	err := s.exec(ctx, `
		INSERT INTO attempts (run_id, chunk, attempt, items, exit_code, timed_out, duration_ms, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Chunk, rec.Attempt, rec.Items, rec.ExitCode, boolInt(rec.TimedOut),
		rec.Duration.Milliseconds(), rec.Error, finished.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record attempt chunk=%d attempt=%d: %w", rec.Chunk, rec.Attempt, err)
	}
	return nil
}

func (s *Store) RecordFailures(ctx context.Context, records []model.FailureRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin failure batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO failures (run_id, chunk, item, reason, excerpt, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare failure insert: %w", err)
	}
	defer stmt.Close()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.RunID, rec.Chunk, rec.Name, rec.Reason, rec.Excerpt, rec.At); err != nil {
			return fmt.Errorf("record failure %s: %w", rec.Name, err)
		}
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
