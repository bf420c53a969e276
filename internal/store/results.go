package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

const judgmentColumns = `item_id, position, original_title, is_recipe, content_summary, proposed_title,
	title_needs_improvement, quality_score, primary_category, cuisine_type, dietary_tags, usage_tags,
	confidence, reasoning, existing_tags, overrides, run_id, classified_at`

func upsertEntry(tx *sql.Tx, e recipe.Entry) error {
	j := e.Judgment
	dietary, err := marshalJSON(j.Dietary)
	if err != nil {
		return err
	}
	usage, err := marshalJSON(j.Usage)
	if err != nil {
		return err
	}
	existing, err := marshalJSON(e.ExistingTags)
	if err != nil {
		return err
	}
	var overrides *string
	if len(e.Overrides) > 0 {
		overrides, err = marshalJSON(e.Overrides)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO judgments (`+judgmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ItemID, e.Position, j.Title, j.IsRecipe, j.Summary, j.ProposedTitle,
		j.TitleNeedsImprovement, j.QualityScore, j.Category, j.Cuisine, dietary, usage,
		j.Confidence, j.Reasoning, existing, overrides, e.RunID, formatTime(e.ClassifiedAt),
	)
	if err != nil {
		return fmt.Errorf("saving judgment %s: %w", j.ItemID, err)
	}
	return nil
}

// ReplaceResultSet makes rs the complete stored result set.
func (db *DB) ReplaceResultSet(rs recipe.ResultSet) error {
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM judgments"); err != nil {
			return fmt.Errorf("clearing judgments: %w", err)
		}
		for _, e := range rs.Ordered() {
			if err := upsertEntry(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadResultSet returns the canonical result set.
func (db *DB) LoadResultSet() (recipe.ResultSet, error) {
	rows, err := db.conn.Query(`SELECT ` + judgmentColumns + ` FROM judgments ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rs := recipe.ResultSet{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		rs[e.Judgment.ItemID] = e
	}
	return rs, rows.Err()
}

func scanEntry(s scanner) (recipe.Entry, error) {
	var e recipe.Entry
	j := &e.Judgment
	var summary, proposed, reasoning, dietary, usage, existing, overrides, runID, classifiedAt *string
	if err := s.Scan(&j.ItemID, &e.Position, &j.Title, &j.IsRecipe, &summary, &proposed,
		&j.TitleNeedsImprovement, &j.QualityScore, &j.Category, &j.Cuisine, &dietary, &usage,
		&j.Confidence, &reasoning, &existing, &overrides, &runID, &classifiedAt); err != nil {
		return recipe.Entry{}, err
	}
	j.Summary = deref(summary)
	j.ProposedTitle = deref(proposed)
	j.Reasoning = deref(reasoning)
	e.RunID = deref(runID)
	e.ClassifiedAt = parseTime(classifiedAt)

	if err := unmarshalJSON(dietary, &j.Dietary); err != nil {
		return recipe.Entry{}, fmt.Errorf("judgment %s dietary tags: %w", j.ItemID, err)
	}
	if err := unmarshalJSON(usage, &j.Usage); err != nil {
		return recipe.Entry{}, fmt.Errorf("judgment %s usage tags: %w", j.ItemID, err)
	}
	if err := unmarshalJSON(existing, &e.ExistingTags); err != nil {
		return recipe.Entry{}, fmt.Errorf("judgment %s existing tags: %w", j.ItemID, err)
	}
	if err := unmarshalJSON(overrides, &e.Overrides); err != nil {
		return recipe.Entry{}, fmt.Errorf("judgment %s overrides: %w", j.ItemID, err)
	}
	return e, nil
}

func marshalJSON(v any) (*string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func unmarshalJSON(s *string, v any) error {
	if s == nil || *s == "" || *s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(*s), v)
}
