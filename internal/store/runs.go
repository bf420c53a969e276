package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

// SaveRun records a run report and upserts its judgments in one transaction.
// A judgment regenerated by the run replaces the stored one, overrides
// included.
func (db *DB) SaveRun(report *recipe.RunReport, results recipe.ResultSet) error {
	err := db.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO runs
			(id, state, range_start, range_end, attempted, succeeded, failed, abort_error, started_at, finished_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.RunID, string(report.State), report.RangeStart, report.RangeEnd,
			report.Attempted, report.Succeeded, report.Failed, nullString(report.AbortError),
			formatTime(report.StartedAt), formatTime(report.FinishedAt), report.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}

		for _, f := range report.Failures {
			_, err := tx.Exec(
				`INSERT OR REPLACE INTO run_failures
				(run_id, item_id, position, title, kind, message, attempts)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				report.RunID, f.ItemID, f.Position, f.Title, string(f.Kind), f.Message, f.Attempts,
			)
			if err != nil {
				return fmt.Errorf("inserting failure for %s: %w", f.ItemID, err)
			}
		}

		for _, e := range results.Ordered() {
			if err := upsertEntry(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.logger.Debug("run saved", zap.String("run", report.RunID), zap.Int("judgments", len(results)))
	return nil
}

// GetRun returns a run with its failures, or nil if it does not exist.
func (db *DB) GetRun(runID string) (*recipe.RunReport, error) {
	row := db.conn.QueryRow(
		`SELECT id, state, range_start, range_end, attempted, succeeded, failed, abort_error, started_at, finished_at, duration_ms
		FROM runs WHERE id = ?`, runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	failures, err := db.GetFailures(runID)
	if err != nil {
		return nil, err
	}
	r.Failures = failures
	return r, nil
}

// ListRuns returns the most recent runs first, without failures.
func (db *DB) ListRuns(limit int) ([]recipe.RunReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(
		`SELECT id, state, range_start, range_end, attempted, succeeded, failed, abort_error, started_at, finished_at, duration_ms
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []recipe.RunReport
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetFailures returns the failures of a run ordered by position.
func (db *DB) GetFailures(runID string) ([]recipe.Failure, error) {
	rows, err := db.conn.Query(
		`SELECT item_id, position, title, kind, message, attempts
		FROM run_failures WHERE run_id = ? ORDER BY position`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	failures := []recipe.Failure{}
	for rows.Next() {
		var f recipe.Failure
		var title, message *string
		var kind string
		if err := rows.Scan(&f.ItemID, &f.Position, &title, &kind, &message, &f.Attempts); err != nil {
			return nil, err
		}
		f.Kind = recipe.FailureKind(kind)
		f.Title = deref(title)
		f.Message = deref(message)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*recipe.RunReport, error) {
	var r recipe.RunReport
	var state string
	var abortError, startedAt, finishedAt *string
	var durationMS int64
	if err := s.Scan(&r.RunID, &state, &r.RangeStart, &r.RangeEnd, &r.Attempted, &r.Succeeded,
		&r.Failed, &abortError, &startedAt, &finishedAt, &durationMS); err != nil {
		return nil, err
	}
	r.State = recipe.RunState(state)
	r.AbortError = deref(abortError)
	r.StartedAt = parseTime(startedAt)
	r.FinishedAt = parseTime(finishedAt)
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return &r, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
