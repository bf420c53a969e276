package store

import (
	"database/sql"
	"fmt"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
	"github.com/TobiSchelling/RecipeSorter/internal/reconcile"
)

// CorrectionRecord is one row of the correction audit log.
type CorrectionRecord struct {
	ID         int64
	Correction reconcile.Correction
	Outcome    string
	Detail     string
	RecordedAt *string
}

// ApplyCorrections stores the merged result set and appends the reconciler
// outcomes to the audit log in one transaction.
func (db *DB) ApplyCorrections(merged recipe.ResultSet, outcomes []reconcile.Outcome) error {
	return db.inTx(func(tx *sql.Tx) error {
		for _, e := range merged.Ordered() {
			if err := upsertEntry(tx, e); err != nil {
				return err
			}
		}
		return insertOutcomes(tx, outcomes)
	})
}

func insertOutcomes(tx *sql.Tx, outcomes []reconcile.Outcome) error {
	for _, o := range outcomes {
		c := o.Correction
		outcome := "applied"
		if !o.Applied {
			outcome = string(o.Reason)
		}
		_, err := tx.Exec(
			`INSERT INTO corrections (item_id, field, old_value, new_value, source, corrected_at, outcome, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ItemID, c.Field, c.Old, c.New, c.Source, formatTime(c.At), outcome, nullString(o.Detail),
		)
		if err != nil {
			return fmt.Errorf("recording correction for %s: %w", c.ItemID, err)
		}
	}
	return nil
}

// ListCorrections returns the audit log, newest first.
func (db *DB) ListCorrections(limit int) ([]CorrectionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.Query(
		`SELECT id, item_id, field, old_value, new_value, source, corrected_at, outcome, detail, recorded_at
		FROM corrections ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CorrectionRecord
	for rows.Next() {
		var r CorrectionRecord
		var old, newValue, source, at, detail *string
		if err := rows.Scan(&r.ID, &r.Correction.ItemID, &r.Correction.Field, &old, &newValue,
			&source, &at, &r.Outcome, &detail, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.Correction.Old = deref(old)
		r.Correction.New = deref(newValue)
		r.Correction.Source = deref(source)
		r.Correction.At = parseTime(at)
		r.Detail = deref(detail)
		out = append(out, r)
	}
	return out, rows.Err()
}
