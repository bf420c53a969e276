// Package recipe holds the domain types shared by the categorization pipeline:
// source items, raw and resolved judgments, run reports and the result set.
package recipe

import (
	"sort"
	"time"
)

// Unclassified is the cuisine sentinel used when the classifier gave no
// usable cuisine.
const Unclassified = "unclassified"

// Item is a saved record read from the item source.
type Item struct {
	ID       string
	Position int
	Title    string
	Tags     []string
	URL      string
}

// RawJudgment is classifier output that has passed schema checks but has not
// been validated against the rule set.
type RawJudgment struct {
	IsRecipe              bool
	Summary               string
	ProposedTitle         string
	TitleNeedsImprovement bool
	QualityScore          int
	Category              string
	Cuisine               *string
	Dietary               []string
	Usage                 []string
	Confidence            int
	Reasoning             string
}

// Judgment is the validated classification of one item.
type Judgment struct {
	ItemID                string   `json:"record_id"`
	Title                 string   `json:"original_title"`
	IsRecipe              bool     `json:"is_recipe"`
	Summary               string   `json:"content_summary"`
	ProposedTitle         string   `json:"proposed_title"`
	TitleNeedsImprovement bool     `json:"title_needs_improvement"`
	QualityScore          int      `json:"quality_score"`
	Category              string   `json:"primary_category"`
	Cuisine               string   `json:"cuisine_type"`
	Dietary               []string `json:"dietary_tags"`
	Usage                 []string `json:"usage_tags"`
	Confidence            int      `json:"confidence"`
	Reasoning             string   `json:"reasoning"`
}

// Clone returns a deep copy.
func (j Judgment) Clone() Judgment {
	out := j
	out.Dietary = cloneStrings(j.Dietary)
	out.Usage = cloneStrings(j.Usage)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

// Override records that a field was replaced by a human edit.
type Override struct {
	Old    string    `json:"old"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Entry is one item's slot in the canonical result set.
type Entry struct {
	Judgment     Judgment           `json:"judgment"`
	Position     int                `json:"position"`
	ExistingTags []string           `json:"existing_tags,omitempty"`
	RunID        string             `json:"run_id"`
	ClassifiedAt time.Time          `json:"classified_at"`
	Overrides    map[Field]Override `json:"overrides,omitempty"`
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	out := e
	out.Judgment = e.Judgment.Clone()
	out.ExistingTags = cloneStrings(e.ExistingTags)
	if e.Overrides != nil {
		out.Overrides = make(map[Field]Override, len(e.Overrides))
		for k, v := range e.Overrides {
			out.Overrides[k] = v
		}
	}
	return out
}

// ResultSet maps item ID to its entry.
type ResultSet map[string]Entry

// Clone returns a deep copy of the result set.
func (rs ResultSet) Clone() ResultSet {
	out := make(ResultSet, len(rs))
	for id, e := range rs {
		out[id] = e.Clone()
	}
	return out
}

// Ordered returns the entries sorted by source position, then item ID.
func (rs ResultSet) Ordered() []Entry {
	entries := make([]Entry, 0, len(rs))
	for _, e := range rs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Position != entries[j].Position {
			return entries[i].Position < entries[j].Position
		}
		return entries[i].Judgment.ItemID < entries[j].Judgment.ItemID
	})
	return entries
}
