package recipe

import (
	"fmt"
	"strconv"
	"strings"
)

// Field names an editable Judgment field. Names match the review snapshot
// column headers.
type Field string

const (
	FieldProposedTitle Field = "proposed_title"
	FieldCategory      Field = "primary_category"
	FieldCuisine       Field = "cuisine_type"
	FieldDietary       Field = "dietary_tags"
	FieldUsage         Field = "usage_tags"
	FieldIsRecipe      Field = "is_recipe"
	FieldQualityScore  Field = "quality_score"
	FieldSummary       Field = "content_summary"
)

// EditableFields lists the fields a correction may target, in snapshot order.
var EditableFields = []Field{
	FieldProposedTitle,
	FieldIsRecipe,
	FieldCategory,
	FieldCuisine,
	FieldDietary,
	FieldUsage,
	FieldQualityScore,
	FieldSummary,
}

// ListSeparator joins tag lists in tabular exports.
const ListSeparator = "; "

// ParseField maps a column or field name to a Field.
func ParseField(name string) (Field, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "title" {
		return FieldProposedTitle, true
	}
	for _, f := range EditableFields {
		if string(f) == n {
			return f, true
		}
	}
	return "", false
}

// JoinList encodes a tag list for a single cell.
func JoinList(tags []string) string {
	return strings.Join(tags, ListSeparator)
}

// SplitList decodes a cell into a tag list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Value returns the canonical string encoding of a field.
func (j Judgment) Value(f Field) (string, error) {
	switch f {
	case FieldProposedTitle:
		return j.ProposedTitle, nil
	case FieldCategory:
		return j.Category, nil
	case FieldCuisine:
		return j.Cuisine, nil
	case FieldDietary:
		return JoinList(j.Dietary), nil
	case FieldUsage:
		return JoinList(j.Usage), nil
	case FieldIsRecipe:
		return strconv.FormatBool(j.IsRecipe), nil
	case FieldQualityScore:
		return strconv.Itoa(j.QualityScore), nil
	case FieldSummary:
		return j.Summary, nil
	}
	return "", fmt.Errorf("unsupported field %q", f)
}

// Normalize returns the canonical encoding of value for field f, so that
// equivalent spellings ("TRUE", "Vegan;Keto") compare equal.
func Normalize(f Field, value string) (string, error) {
	v := strings.TrimSpace(value)
	switch f {
	case FieldDietary, FieldUsage:
		return JoinList(SplitList(v)), nil
	case FieldIsRecipe:
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			return "", fmt.Errorf("field %s: %q is not a boolean", f, value)
		}
		return strconv.FormatBool(b), nil
	case FieldQualityScore:
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", fmt.Errorf("field %s: %q is not an integer", f, value)
		}
		return strconv.Itoa(n), nil
	case FieldCuisine:
		if v == "" {
			return Unclassified, nil
		}
		return v, nil
	case FieldProposedTitle, FieldCategory, FieldSummary:
		return v, nil
	}
	return "", fmt.Errorf("unsupported field %q", f)
}

// Set assigns the encoded value to field f.
func (j *Judgment) Set(f Field, value string) error {
	v, err := Normalize(f, value)
	if err != nil {
		return err
	}
	switch f {
	case FieldProposedTitle:
		j.ProposedTitle = v
		j.TitleNeedsImprovement = v != "" && v != j.Title
	case FieldCategory:
		j.Category = v
	case FieldCuisine:
		j.Cuisine = v
	case FieldDietary:
		j.Dietary = SplitList(v)
	case FieldUsage:
		j.Usage = SplitList(v)
	case FieldIsRecipe:
		j.IsRecipe = v == "true"
	case FieldQualityScore:
		j.QualityScore, _ = strconv.Atoi(v)
	case FieldSummary:
		j.Summary = v
	}
	return nil
}
