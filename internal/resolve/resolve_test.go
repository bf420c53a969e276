package resolve

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
	"github.com/TobiSchelling/RecipeSorter/internal/rules"
)

func defaultRules(t *testing.T) *rules.RuleSet {
	t.Helper()
	rs, err := rules.Parse(rules.DefaultSources())
	require.NoError(t, err)
	return rs
}

func ptr(s string) *string { return &s }

func TestResolveBirthdayCake(t *testing.T) {
	rs := defaultRules(t)
	raw := recipe.RawJudgment{
		IsRecipe:      true,
		ProposedTitle: "Chocolate Birthday Cake",
		QualityScore:  4,
		Category:      "Desserts",
		Cuisine:       ptr("American"),
		Dietary:       []string{"Vegan"},
		Usage:         []string{"Favorite"},
		Confidence:    5,
	}

	j, adj, err := Detailed(rs, raw)
	require.NoError(t, err)
	assert.Equal(t, "Desserts", j.Category)
	assert.Equal(t, []string{"Vegan"}, j.Dietary)
	assert.Empty(t, j.Usage)
	assert.Equal(t, "American", j.Cuisine)

	want := []Adjustment{{Field: recipe.FieldUsage, Kind: ManualTagStripped, From: "Favorite"}}
	if diff := cmp.Diff(want, adj); diff != "" {
		t.Errorf("adjustments mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveUnknownCategory(t *testing.T) {
	_, err := Resolve(defaultRules(t), recipe.RawJudgment{Category: "Snacks"})
	var uce *UnknownCategoryError
	require.True(t, errors.As(err, &uce))
	assert.Equal(t, "Snacks", uce.Category)
	assert.Equal(t, recipe.KindUnknownCategory, uce.Kind())
}

func TestResolveCategoryCaseInsensitive(t *testing.T) {
	j, adj, err := Detailed(defaultRules(t), recipe.RawJudgment{Category: " desserts "})
	require.NoError(t, err)
	assert.Equal(t, "Desserts", j.Category)
	require.Len(t, adj, 1)
	assert.Equal(t, Renamed, adj[0].Kind)
}

func TestResolveTagsDedupeAndCanonicalize(t *testing.T) {
	j, err := Resolve(defaultRules(t), recipe.RawJudgment{
		Category: "Vegetarian",
		Dietary:  []string{"vegan", "Keto", "Vegan", "Paleo", "Food Allergy Safe"},
		Usage:    []string{"Weeknight", "Tried & Tested", "weeknight"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Vegan", "Keto"}, j.Dietary)
	assert.Equal(t, []string{"Weeknight"}, j.Usage)
}

func TestResolveCuisine(t *testing.T) {
	rs := defaultRules(t)
	tests := []struct {
		name string
		in   *string
		want string
	}{
		{"absent", nil, recipe.Unclassified},
		{"blank", ptr("  "), recipe.Unclassified},
		{"sentinel", ptr("Unclassified"), recipe.Unclassified},
		{"unknown", ptr("Martian"), recipe.Unclassified},
		{"known", ptr("italian"), "Italian"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := Resolve(rs, recipe.RawJudgment{Category: "Beef", Cuisine: tt.in})
			require.NoError(t, err)
			assert.Equal(t, tt.want, j.Cuisine)
		})
	}
}

func TestResolveClampsScores(t *testing.T) {
	j, adj, err := Detailed(defaultRules(t), recipe.RawJudgment{Category: "Drinks", QualityScore: 9, Confidence: 0})
	require.NoError(t, err)
	assert.Equal(t, 5, j.QualityScore)
	assert.Equal(t, 1, j.Confidence)
	assert.Len(t, adj, 2)
}

// Every value in a resolved judgment belongs to the rule set and no manual
// tag survives, whatever the classifier said.
func TestResolveMembership(t *testing.T) {
	rs := defaultRules(t)
	var names []string
	for _, tx := range rules.Taxonomies {
		for _, tag := range rs.Tags(tx) {
			names = append(names, tag.Name)
		}
	}
	names = append(names, "Nonsense", "")

	for _, c := range rs.Categories() {
		j, err := Resolve(rs, recipe.RawJudgment{
			Category: c.Name,
			Cuisine:  ptr("Favorite"),
			Dietary:  names,
			Usage:    names,
		})
		require.NoError(t, err)

		canonical, ok := rs.CanonicalCategory(j.Category)
		assert.True(t, ok)
		assert.Equal(t, canonical, j.Category)
		assert.Equal(t, recipe.Unclassified, j.Cuisine)
		for tx, tags := range map[rules.Taxonomy][]string{rules.Dietary: j.Dietary, rules.Usage: j.Usage} {
			for _, name := range tags {
				tag, ok := rs.Tag(tx, name)
				require.True(t, ok, "%s not in %s", name, tx)
				assert.Equal(t, rules.AssignAuto, tag.Assignment)
			}
		}
	}
}
