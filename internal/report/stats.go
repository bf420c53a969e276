package report

import (
	"net/url"
	"sort"
	"strings"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

// Count is a name with its number of occurrences.
type Count struct {
	Name string `json:"name"`
	N    int    `json:"count"`
}

type counter map[string]int

func (c counter) add(name string) {
	if name != "" {
		c[name]++
	}
}

// sorted returns counts by descending frequency, then name.
func (c counter) sorted() []Count {
	out := make([]Count, 0, len(c))
	for name, n := range c {
		out = append(out, Count{Name: name, N: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].N != out[j].N {
			return out[i].N > out[j].N
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// CollectionStats describes the item source before any classification.
type CollectionStats struct {
	Items    int     `json:"total_items"`
	WithURL  int     `json:"items_with_urls"`
	WithTags int     `json:"items_with_tags"`
	Tags     []Count `json:"tag_usage"`
	Domains  []Count `json:"url_domains"`
}

// Collect computes collection statistics over items.
func Collect(items []recipe.Item) CollectionStats {
	tags, domains := counter{}, counter{}
	s := CollectionStats{Items: len(items)}
	for _, it := range items {
		if len(it.Tags) > 0 {
			s.WithTags++
			for _, t := range it.Tags {
				tags.add(strings.TrimSpace(t))
			}
		}
		if it.URL != "" {
			s.WithURL++
			if u, err := url.Parse(it.URL); err == nil {
				domains.add(strings.TrimPrefix(u.Hostname(), "www."))
			}
		}
	}
	s.Tags = tags.sorted()
	s.Domains = domains.sorted()
	return s
}

// Breakdown describes a result set.
type Breakdown struct {
	Judgments       int     `json:"judgments"`
	Recipes         int     `json:"recipes"`
	NonRecipes      int     `json:"non_recipes"`
	TitlesToImprove int     `json:"titles_to_improve"`
	LowQuality      int     `json:"low_quality"`
	Overridden      int     `json:"overridden"`
	AverageQuality  float64 `json:"average_quality"`
	Categories      []Count `json:"categories"`
	Cuisines        []Count `json:"cuisines"`
	Dietary         []Count `json:"dietary_tags"`
	Usage           []Count `json:"usage_tags"`
}

// LowQualityBelow is the quality score under which an item counts as low quality.
const LowQualityBelow = 3

// Break computes distributions and quality counts for a result set.
func Break(rs recipe.ResultSet) Breakdown {
	cats, cuisines, dietary, usage := counter{}, counter{}, counter{}, counter{}
	b := Breakdown{Judgments: len(rs)}
	var quality int
	for _, e := range rs {
		j := e.Judgment
		if j.IsRecipe {
			b.Recipes++
		} else {
			b.NonRecipes++
		}
		if j.TitleNeedsImprovement {
			b.TitlesToImprove++
		}
		if j.QualityScore < LowQualityBelow {
			b.LowQuality++
		}
		if len(e.Overrides) > 0 {
			b.Overridden++
		}
		quality += j.QualityScore

		cats.add(j.Category)
		cuisines.add(j.Cuisine)
		for _, t := range j.Dietary {
			dietary.add(t)
		}
		for _, t := range j.Usage {
			usage.add(t)
		}
	}
	if b.Judgments > 0 {
		b.AverageQuality = float64(quality) / float64(b.Judgments)
	}
	b.Categories = cats.sorted()
	b.Cuisines = cuisines.sorted()
	b.Dietary = dietary.sorted()
	b.Usage = usage.sorted()
	return b
}
