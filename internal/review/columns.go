// Package review exports the result set as an editable snapshot (CSV, XLSX or
// HTML) and imports edited snapshots as corrections.
package review

import (
	"strconv"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

// Column names shared by every snapshot format.
const (
	ColumnPosition = "position"
	ColumnRecordID = "record_id"
	ColumnNotes    = "review_notes"
)

var judgmentColumns = []string{
	ColumnPosition,
	ColumnRecordID,
	"original_title",
	"proposed_title",
	"title_needs_improvement",
	"is_recipe",
	"primary_category",
	"cuisine_type",
	"dietary_tags",
	"usage_tags",
	"quality_score",
	"content_summary",
	"confidence",
	"reasoning",
	"existing_tags",
}

// correctionColumn maps an editable column to the field it corrects.
type correctionColumn struct {
	Name  string
	Field recipe.Field
}

var correctionColumns = []correctionColumn{
	{"corrected_title", recipe.FieldProposedTitle},
	{"corrected_category", recipe.FieldCategory},
	{"corrected_is_recipe", recipe.FieldIsRecipe},
	{"corrected_cuisine", recipe.FieldCuisine},
	{"corrected_dietary_tags", recipe.FieldDietary},
	{"corrected_usage_tags", recipe.FieldUsage},
	{"corrected_quality_score", recipe.FieldQualityScore},
}

// Header returns the snapshot column names in order.
func Header() []string {
	h := append([]string(nil), judgmentColumns...)
	for _, c := range correctionColumns {
		h = append(h, c.Name)
	}
	return append(h, ColumnNotes)
}

func row(e recipe.Entry) []string {
	j := e.Judgment
	r := []string{
		strconv.Itoa(e.Position),
		j.ItemID,
		j.Title,
		j.ProposedTitle,
		strconv.FormatBool(j.TitleNeedsImprovement),
		strconv.FormatBool(j.IsRecipe),
		j.Category,
		j.Cuisine,
		recipe.JoinList(j.Dietary),
		recipe.JoinList(j.Usage),
		strconv.Itoa(j.QualityScore),
		j.Summary,
		strconv.Itoa(j.Confidence),
		j.Reasoning,
		recipe.JoinList(e.ExistingTags),
	}
	// Correction columns and notes start empty.
	return append(r, make([]string, len(correctionColumns)+1)...)
}

// ExportOptions filter a snapshot.
type ExportOptions struct {
	// IssuesOnly keeps non-recipes, titles needing improvement and items
	// scoring below 3.
	IssuesOnly bool
}

// NeedsReview reports whether an entry is likely to need a human look.
func NeedsReview(j recipe.Judgment) bool {
	return !j.IsRecipe || j.TitleNeedsImprovement || j.QualityScore < 3
}

func selectEntries(rs recipe.ResultSet, opts ExportOptions) []recipe.Entry {
	var out []recipe.Entry
	for _, e := range rs.Ordered() {
		if opts.IssuesOnly && !NeedsReview(e.Judgment) {
			continue
		}
		out = append(out, e)
	}
	return out
}
