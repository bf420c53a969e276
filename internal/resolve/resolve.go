// Package resolve turns a schema-checked RawJudgment into a Judgment whose
// every value belongs to the rule set.
package resolve

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
	"github.com/TobiSchelling/RecipeSorter/internal/rules"
)

// UnknownCategoryError is returned when the classifier names a category the
// rule set does not define.
type UnknownCategoryError struct {
	Category string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category %q", e.Category)
}

// Kind reports the failure kind recorded for the item.
func (e *UnknownCategoryError) Kind() recipe.FailureKind { return recipe.KindUnknownCategory }

// AdjustmentKind says what the resolver changed.
type AdjustmentKind string

const (
	Renamed           AdjustmentKind = "renamed"
	ManualTagStripped AdjustmentKind = "manual_tag_stripped"
	UnknownTagDropped AdjustmentKind = "unknown_tag_dropped"
	DuplicateTag      AdjustmentKind = "duplicate_tag"
	ScoreClamped      AdjustmentKind = "score_clamped"
)

// Adjustment is one change made to the classifier's answer.
type Adjustment struct {
	Field recipe.Field
	Kind  AdjustmentKind
	From  string
	To    string
}

func (a Adjustment) String() string {
	if a.To == "" {
		return fmt.Sprintf("%s: %s %q", a.Field, a.Kind, a.From)
	}
	return fmt.Sprintf("%s: %s %q -> %q", a.Field, a.Kind, a.From, a.To)
}

// Resolve validates raw against rs. See Detailed.
func Resolve(rs *rules.RuleSet, raw recipe.RawJudgment) (recipe.Judgment, error) {
	j, _, err := Detailed(rs, raw)
	return j, err
}

// Detailed validates raw against rs and reports every adjustment made:
//   - an undefined category fails the item;
//   - manual-only and undefined dietary and usage tags are removed, and
//     duplicates collapse to their first occurrence;
//   - quality and confidence are clamped into the rule set's scales;
//   - a missing, undefined or manual-only cuisine becomes recipe.Unclassified.
//
// The category itself is accepted as given; precedence is the classifier's
// job and is not re-derived here.
// ItemID and Title are left for the caller to fill in.
func Detailed(rs *rules.RuleSet, raw recipe.RawJudgment) (recipe.Judgment, []Adjustment, error) {
	var adj []Adjustment

	given := strings.TrimSpace(raw.Category)
	category, ok := rs.CanonicalCategory(given)
	if !ok {
		return recipe.Judgment{}, nil, &UnknownCategoryError{Category: raw.Category}
	}
	if category != given {
		adj = append(adj, Adjustment{Field: recipe.FieldCategory, Kind: Renamed, From: given, To: category})
	}

	j := recipe.Judgment{
		IsRecipe:              raw.IsRecipe,
		Summary:               strings.TrimSpace(raw.Summary),
		ProposedTitle:         strings.TrimSpace(raw.ProposedTitle),
		TitleNeedsImprovement: raw.TitleNeedsImprovement,
		Category:              category,
		Reasoning:             strings.TrimSpace(raw.Reasoning),
	}

	j.Cuisine, adj = resolveCuisine(rs, raw.Cuisine, adj)
	j.Dietary, adj = resolveTags(rs, rules.Dietary, recipe.FieldDietary, raw.Dietary, adj)
	j.Usage, adj = resolveTags(rs, rules.Usage, recipe.FieldUsage, raw.Usage, adj)

	j.QualityScore, adj = clamp(rs.QualityScale(), recipe.FieldQualityScore, raw.QualityScore, adj)
	j.Confidence, adj = clamp(rs.ConfidenceScale(), "confidence", raw.Confidence, adj)

	return j, adj, nil
}

func resolveCuisine(rs *rules.RuleSet, raw *string, adj []Adjustment) (string, []Adjustment) {
	if raw == nil {
		return recipe.Unclassified, adj
	}
	name := strings.TrimSpace(*raw)
	if name == "" || strings.EqualFold(name, recipe.Unclassified) {
		return recipe.Unclassified, adj
	}

	tag, ok := rs.Tag(rules.Cuisine, name)
	switch {
	case !ok:
		return recipe.Unclassified, append(adj, Adjustment{Field: recipe.FieldCuisine, Kind: UnknownTagDropped, From: name, To: recipe.Unclassified})
	case tag.Assignment == rules.AssignManual:
		return recipe.Unclassified, append(adj, Adjustment{Field: recipe.FieldCuisine, Kind: ManualTagStripped, From: name, To: recipe.Unclassified})
	}
	if tag.Name != name {
		adj = append(adj, Adjustment{Field: recipe.FieldCuisine, Kind: Renamed, From: name, To: tag.Name})
	}
	return tag.Name, adj
}

func resolveTags(rs *rules.RuleSet, t rules.Taxonomy, field recipe.Field, raw []string, adj []Adjustment) ([]string, []Adjustment) {
	out := []string{}
	seen := make(map[string]bool)
	for _, name := range raw {
		name = strings.TrimSpace(name)
		tag, ok := rs.Tag(t, name)
		switch {
		case !ok:
			adj = append(adj, Adjustment{Field: field, Kind: UnknownTagDropped, From: name})
		case tag.Assignment == rules.AssignManual:
			adj = append(adj, Adjustment{Field: field, Kind: ManualTagStripped, From: name})
		case seen[tag.Name]:
			adj = append(adj, Adjustment{Field: field, Kind: DuplicateTag, From: name})
		default:
			seen[tag.Name] = true
			out = append(out, tag.Name)
		}
	}
	return out, adj
}

func clamp(s rules.Scale, field recipe.Field, v int, adj []Adjustment) (int, []Adjustment) {
	c := s.Clamp(v)
	if c != v {
		adj = append(adj, Adjustment{Field: field, Kind: ScoreClamped, From: fmt.Sprint(v), To: fmt.Sprint(c)})
	}
	return c, adj
}
