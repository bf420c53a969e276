package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		field Field
		in    string
		want  string
	}{
		{FieldDietary, "Vegan;Keto", "Vegan; Keto"},
		{FieldUsage, " ; Weeknight ;", "Weeknight"},
		{FieldIsRecipe, "TRUE", "true"},
		{FieldIsRecipe, "0", "false"},
		{FieldQualityScore, " 4 ", "4"},
		{FieldCuisine, "", Unclassified},
		{FieldCuisine, "Italian", "Italian"},
		{FieldProposedTitle, "  Lemon Bars ", "Lemon Bars"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.field, tt.in)
		require.NoError(t, err, "%s=%q", tt.field, tt.in)
		assert.Equal(t, tt.want, got, "%s=%q", tt.field, tt.in)
	}
}

func TestNormalizeRejectsBadValues(t *testing.T) {
	_, err := Normalize(FieldIsRecipe, "maybe")
	assert.Error(t, err)
	_, err = Normalize(FieldQualityScore, "four")
	assert.Error(t, err)
	_, err = Normalize(Field("url"), "x")
	assert.Error(t, err)
}

func TestSetProposedTitleTracksImprovement(t *testing.T) {
	j := Judgment{Title: "cake"}
	require.NoError(t, j.Set(FieldProposedTitle, "Chocolate Birthday Cake"))
	assert.True(t, j.TitleNeedsImprovement)

	require.NoError(t, j.Set(FieldProposedTitle, "cake"))
	assert.False(t, j.TitleNeedsImprovement)
}

func TestSetAndValueRoundTrip(t *testing.T) {
	var j Judgment
	require.NoError(t, j.Set(FieldDietary, "Vegan; Gluten-Free"))
	require.NoError(t, j.Set(FieldIsRecipe, "true"))
	require.NoError(t, j.Set(FieldQualityScore, "5"))

	assert.Equal(t, []string{"Vegan", "Gluten-Free"}, j.Dietary)
	v, err := j.Value(FieldDietary)
	require.NoError(t, err)
	assert.Equal(t, "Vegan; Gluten-Free", v)
	v, _ = j.Value(FieldIsRecipe)
	assert.Equal(t, "true", v)
	v, _ = j.Value(FieldQualityScore)
	assert.Equal(t, "5", v)
}

func TestParseField(t *testing.T) {
	f, ok := ParseField("Title")
	assert.True(t, ok)
	assert.Equal(t, FieldProposedTitle, f)

	f, ok = ParseField("primary_category")
	assert.True(t, ok)
	assert.Equal(t, FieldCategory, f)

	_, ok = ParseField("url")
	assert.False(t, ok)
}

func TestResultSetCloneIsDeep(t *testing.T) {
	rs := ResultSet{"a": {Judgment: Judgment{ItemID: "a", Dietary: []string{"Vegan"}}, Overrides: map[Field]Override{FieldCategory: {Old: "Desserts"}}}}
	cp := rs.Clone()

	e := cp["a"]
	e.Judgment.Dietary[0] = "Keto"
	e.Overrides[FieldCategory] = Override{Old: "Baking"}

	assert.Equal(t, "Vegan", rs["a"].Judgment.Dietary[0])
	assert.Equal(t, "Desserts", rs["a"].Overrides[FieldCategory].Old)
}

func TestResultSetOrdered(t *testing.T) {
	rs := ResultSet{
		"c": {Judgment: Judgment{ItemID: "c"}, Position: 2},
		"b": {Judgment: Judgment{ItemID: "b"}, Position: 0},
		"a": {Judgment: Judgment{ItemID: "a"}, Position: 2},
	}
	var ids []string
	for _, e := range rs.Ordered() {
		ids = append(ids, e.Judgment.ItemID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}

func TestFailedSpan(t *testing.T) {
	r := &RunReport{}
	_, _, ok := r.FailedSpan()
	assert.False(t, ok)

	r.Failures = []Failure{{Position: 14}, {Position: 3}, {Position: 9}}
	start, end, ok := r.FailedSpan()
	assert.True(t, ok)
	assert.Equal(t, 3, start)
	assert.Equal(t, 14, end)

	r.SortFailures()
	assert.Equal(t, 3, r.Failures[0].Position)
	assert.Equal(t, 14, r.Failures[2].Position)
}
