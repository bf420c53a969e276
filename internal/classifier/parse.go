package classifier

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/TobiSchelling/RecipeSorter/internal/llm"
	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

// Parse checks a classifier reply against the response schema. Every
// required field must be present with the right JSON type; no field is
// guessed or defaulted except title_needs_improvement.
func Parse(text string) (recipe.RawJudgment, error) {
	obj, err := llm.ParseJSONObject(text)
	if err != nil {
		return recipe.RawJudgment{}, err
	}

	p := &fieldParser{obj: obj}
	var raw recipe.RawJudgment
	p.required("is_recipe", &raw.IsRecipe)
	p.required("content_summary", &raw.Summary)
	p.required("proposed_title", &raw.ProposedTitle)
	p.optional("title_needs_improvement", &raw.TitleNeedsImprovement)
	p.required("quality_score", &raw.QualityScore)
	p.required("primary_category", &raw.Category)
	p.cuisine(&raw.Cuisine)
	p.required("dietary_tags", &raw.Dietary)
	p.required("usage_tags", &raw.Usage)
	p.required("confidence", &raw.Confidence)
	p.required("reasoning", &raw.Reasoning)

	if len(p.problems) > 0 {
		sort.Strings(p.problems)
		return recipe.RawJudgment{}, fmt.Errorf("invalid response: %s", strings.Join(p.problems, "; "))
	}
	return raw, nil
}

type fieldParser struct {
	obj      map[string]json.RawMessage
	problems []string
}

func (p *fieldParser) required(key string, dst any) {
	v, ok := p.obj[key]
	if !ok {
		p.problems = append(p.problems, fmt.Sprintf("missing %s", key))
		return
	}
	p.decode(key, v, dst)
}

func (p *fieldParser) optional(key string, dst any) {
	if v, ok := p.obj[key]; ok && !isNull(v) {
		p.decode(key, v, dst)
	}
}

func (p *fieldParser) decode(key string, v json.RawMessage, dst any) {
	if isNull(v) {
		p.problems = append(p.problems, fmt.Sprintf("%s is null", key))
		return
	}
	if err := json.Unmarshal(v, dst); err != nil {
		p.problems = append(p.problems, fmt.Sprintf("%s has wrong type", key))
	}
}

// cuisine_type must be present but may be null.
func (p *fieldParser) cuisine(dst **string) {
	v, ok := p.obj["cuisine_type"]
	if !ok {
		p.problems = append(p.problems, "missing cuisine_type")
		return
	}
	if isNull(v) {
		*dst = nil
		return
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		p.problems = append(p.problems, "cuisine_type has wrong type")
		return
	}
	*dst = &s
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}
