// Package reconcile merges human corrections into a result set.
//
// Apply is pure: the input result set is never modified, and applying the
// same corrections twice changes nothing the second time.
package reconcile

import (
	"fmt"
	"time"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

// Correction is one human edit to one field of one item. Values use the
// review snapshot encoding: "; "-joined lists, true/false, integers.
type Correction struct {
	ItemID string    `json:"record_id"`
	Field  string    `json:"field"`
	Old    string    `json:"old"`
	New    string    `json:"new"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Reason says why a correction was skipped.
type Reason string

const (
	TargetMissing    Reason = "target_missing"
	AlreadyApplied   Reason = "already_applied"
	UnsupportedField Reason = "unsupported_field"
	InvalidValue     Reason = "invalid_value"
)

// Outcome is the fate of one correction.
type Outcome struct {
	Correction Correction `json:"correction"`
	Applied    bool       `json:"applied"`
	Reason     Reason     `json:"reason,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

// Summary counts what Apply did.
type Summary struct {
	Applied  int            `json:"applied"`
	Skipped  map[Reason]int `json:"skipped"`
	Outcomes []Outcome      `json:"outcomes"`
}

// SkippedTotal is the number of corrections not applied.
func (s Summary) SkippedTotal() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// Apply merges corrections into a copy of rs in input order, so the last of
// several corrections to the same field wins. A correction is skipped when its
// item is absent, its field is not editable, its value does not parse, or the
// field already holds the new value. Every applied correction records the
// replaced value as an override on the entry.
func Apply(rs recipe.ResultSet, corrections []Correction) (recipe.ResultSet, Summary) {
	out := rs.Clone()
	sum := Summary{Skipped: make(map[Reason]int), Outcomes: make([]Outcome, 0, len(corrections))}

	skip := func(c Correction, reason Reason, detail string) {
		sum.Skipped[reason]++
		sum.Outcomes = append(sum.Outcomes, Outcome{Correction: c, Reason: reason, Detail: detail})
	}

	for _, c := range corrections {
		entry, ok := out[c.ItemID]
		if !ok {
			skip(c, TargetMissing, fmt.Sprintf("no result for item %q", c.ItemID))
			continue
		}
		field, ok := recipe.ParseField(c.Field)
		if !ok {
			skip(c, UnsupportedField, fmt.Sprintf("field %q cannot be corrected", c.Field))
			continue
		}
		want, err := recipe.Normalize(field, c.New)
		if err != nil {
			skip(c, InvalidValue, err.Error())
			continue
		}
		current, err := entry.Judgment.Value(field)
		if err != nil {
			skip(c, UnsupportedField, err.Error())
			continue
		}
		if current == want {
			skip(c, AlreadyApplied, "")
			continue
		}

		if err := entry.Judgment.Set(field, want); err != nil {
			skip(c, InvalidValue, err.Error())
			continue
		}
		if entry.Overrides == nil {
			entry.Overrides = make(map[recipe.Field]recipe.Override)
		}
		entry.Overrides[field] = recipe.Override{Old: current, Source: c.Source, At: c.At}
		out[c.ItemID] = entry

		sum.Applied++
		sum.Outcomes = append(sum.Outcomes, Outcome{Correction: c, Applied: true})
	}
	return out, sum
}
