package review

import (
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
	"github.com/TobiSchelling/RecipeSorter/internal/reconcile"
	"github.com/TobiSchelling/RecipeSorter/internal/rules"
)

// ImportOptions control how an edited snapshot becomes corrections.
type ImportOptions struct {
	// Source names the snapshot in correction provenance.
	Source string
	// At stamps every correction. Zero means now.
	At time.Time
	// Rules, when set, rejects values the rule set does not define.
	Rules *rules.RuleSet
}

// Issue is a malformed cell or row. Rows are 1-based with the header as row 1.
type Issue struct {
	Row     int    `json:"row"`
	ItemID  string `json:"record_id,omitempty"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Column == "" {
		return fmt.Sprintf("row %d: %s", i.Row, i.Message)
	}
	return fmt.Sprintf("row %d, %s: %s", i.Row, i.Column, i.Message)
}

// Import is the result of reading an edited snapshot.
type Import struct {
	Corrections []reconcile.Correction `json:"corrections"`
	Issues      []Issue                `json:"import_issues"`
	// Notes holds review_notes by record ID.
	Notes map[string]string `json:"review_notes,omitempty"`
	Rows  int               `json:"rows"`
}

// importRows turns snapshot rows into corrections. Blank correction cells
// are ignored. Whether a value is already in place is decided against the
// stored results when the corrections are applied.
func importRows(rows [][]string, opts ImportOptions) (*Import, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("snapshot is empty")
	}
	if opts.At.IsZero() {
		opts.At = time.Now().UTC()
	}

	index := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := index[ColumnRecordID]; !ok {
		return nil, fmt.Errorf("snapshot has no %s column", ColumnRecordID)
	}

	imp := &Import{Notes: make(map[string]string)}
	cell := func(r []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(r) {
			return ""
		}
		return strings.TrimSpace(r[i])
	}

	for n, r := range rows[1:] {
		rowNum := n + 2
		id := cell(r, ColumnRecordID)
		if id == "" {
			if hasEdits(r, cell) {
				imp.Issues = append(imp.Issues, Issue{Row: rowNum, Column: ColumnRecordID, Message: "corrections without a record_id"})
			}
			continue
		}
		imp.Rows++

		for _, col := range correctionColumns {
			raw := cell(r, col.Name)
			if raw == "" {
				continue
			}
			value, err := checkValue(opts.Rules, col.Field, raw)
			if err != nil {
				imp.Issues = append(imp.Issues, Issue{Row: rowNum, ItemID: id, Column: col.Name, Message: err.Error()})
				continue
			}
			old := cell(r, string(col.Field))
			if col.Field == recipe.FieldProposedTitle && old == "" {
				old = cell(r, "original_title")
			}
			imp.Corrections = append(imp.Corrections, reconcile.Correction{
				ItemID: id,
				Field:  string(col.Field),
				Old:    old,
				New:    value,
				Source: opts.Source,
				At:     opts.At,
			})
		}

		if notes := cell(r, ColumnNotes); notes != "" {
			imp.Notes[id] = notes
		}
	}
	return imp, nil
}

func hasEdits(r []string, cell func([]string, string) string) bool {
	for _, col := range correctionColumns {
		if cell(r, col.Name) != "" {
			return true
		}
	}
	return false
}

// checkValue normalizes a corrected value and, with a rule set, checks it is
// defined there. Human corrections may use manual-only tags.
func checkValue(rs *rules.RuleSet, f recipe.Field, raw string) (string, error) {
	v, err := recipe.Normalize(f, raw)
	if err != nil {
		return "", err
	}
	if rs == nil {
		return v, nil
	}

	switch f {
	case recipe.FieldCategory:
		name, ok := rs.CanonicalCategory(v)
		if !ok {
			return "", fmt.Errorf("unknown category %q", v)
		}
		return name, nil
	case recipe.FieldCuisine:
		if v == recipe.Unclassified {
			return v, nil
		}
		tag, ok := rs.Tag(rules.Cuisine, v)
		if !ok {
			return "", fmt.Errorf("unknown cuisine %q", v)
		}
		return tag.Name, nil
	case recipe.FieldDietary, recipe.FieldUsage:
		t := rules.Dietary
		if f == recipe.FieldUsage {
			t = rules.Usage
		}
		var names []string
		for _, name := range recipe.SplitList(v) {
			tag, ok := rs.Tag(t, name)
			if !ok {
				return "", fmt.Errorf("unknown %s %q", t, name)
			}
			names = append(names, tag.Name)
		}
		return recipe.JoinList(names), nil
	case recipe.FieldQualityScore:
		var n int
		fmt.Sscan(v, &n)
		if s := rs.QualityScale(); n != s.Clamp(n) {
			return "", fmt.Errorf("quality score %d outside %d-%d", n, s.Min, s.Max)
		}
	}
	return v, nil
}
