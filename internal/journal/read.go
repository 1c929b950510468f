package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type RunRow struct {
	ID             string `json:"id"`
	StartedAt      string `json:"started_at"`
	FinishedAt     string `json:"finished_at,omitempty"`
	ItemsTotal     int    `json:"items_total"`
	ItemsCompleted int    `json:"items_completed"`
	ItemsFailed    int    `json:"items_failed"`
	ItemsRemaining int    `json:"items_remaining"`
	ChunksPlanned  int    `json:"chunks_planned"`
	Attempts       int    `json:"attempts"`
	Interrupted    bool   `json:"interrupted"`
}

type FailureCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

const runColumns = `id, started_at, COALESCE(finished_at, ''), items_total, items_completed,
	items_failed, items_remaining, chunks_planned, attempts, interrupted`

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		row, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LastRun returns the newest run; ok is false on an empty journal.
func (s *Store) LastRun(ctx context.Context) (RunRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRow{}, false, nil
	}
	if err != nil {
		return RunRow{}, false, err
	}
	return run, true, nil
}

func (s *Store) FailureCounts(ctx context.Context, runID string) ([]FailureCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reason, COUNT(*) FROM failures WHERE run_id = ? GROUP BY reason ORDER BY reason`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []FailureCount
	for rows.Next() {
		var fc FailureCount
		if err := rows.Scan(&fc.Reason, &fc.Count); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

func (s *Store) AttemptCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRow, error) {
	var row RunRow
	var interrupted int
	err := s.Scan(&row.ID, &row.StartedAt, &row.FinishedAt, &row.ItemsTotal, &row.ItemsCompleted,
		&row.ItemsFailed, &row.ItemsRemaining, &row.ChunksPlanned, &row.Attempts, &interrupted)
	if err != nil {
		return RunRow{}, err
	}
	row.Interrupted = interrupted != 0
	return row, nil
}
