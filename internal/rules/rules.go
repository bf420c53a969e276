// Package rules loads the category and tag taxonomy that drives
// categorization. A RuleSet is built once per run and never mutated, so it can
// be shared by concurrent workers without locking.
package rules

import (
	"sort"
	"strings"
)

// Assignment is how a tag may be assigned.
type Assignment int

const (
	// AssignAuto tags may be proposed by the classifier.
	AssignAuto Assignment = iota
	// AssignManual tags are reserved for human curation.
	AssignManual
)

func (a Assignment) String() string {
	if a == AssignManual {
		return "manual"
	}
	return "auto"
}

func parseAssignment(s string) (Assignment, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return AssignAuto, true
	case "manual":
		return AssignManual, true
	}
	return AssignAuto, false
}

// Taxonomy identifies one of the independent tag vocabularies.
type Taxonomy string

const (
	Cuisine Taxonomy = "cuisines"
	Dietary Taxonomy = "dietary_tags"
	Usage   Taxonomy = "usage_tags"
)

// Taxonomies lists the tag vocabularies in prompt order.
var Taxonomies = []Taxonomy{Cuisine, Dietary, Usage}

// Category is a primary category definition.
type Category struct {
	Name        string
	Description string
	Criteria    []string
	Examples    []string
	// Precedence ranks categories when an item fits several; lower wins.
	Precedence int
}

// Tag is a cuisine, dietary or usage tag definition.
type Tag struct {
	Name        string
	Description string
	Criteria    []string
	Indicators  []string
	Notes       string
	Assignment  Assignment
}

// ConflictRule is a declarative heuristic taught to the classifier.
type ConflictRule struct {
	Name        string
	Description string
	Prefer      string
	Over        []string
}

// Scale is an inclusive integer range.
type Scale struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Clamp returns v limited to the scale.
func (s Scale) Clamp(v int) int {
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// RuleSet is the immutable taxonomy for one run.
type RuleSet struct {
	categories []Category
	byName     map[string]int
	byFold     map[string]int
	tags       map[Taxonomy][]Tag
	tagIndex   map[Taxonomy]map[string]int
	conflicts  []ConflictRule
	guidance   string
	quality    Scale
	confidence Scale
}

// Categories returns the categories ordered by precedence, ties in file order.
func (rs *RuleSet) Categories() []Category {
	out := make([]Category, len(rs.categories))
	for i, c := range rs.categories {
		out[i] = c
		out[i].Criteria = append([]string(nil), c.Criteria...)
		out[i].Examples = append([]string(nil), c.Examples...)
	}
	return out
}

// CanonicalCategory resolves name to a defined category name, trying an exact
// match first and then a case-insensitive one.
func (rs *RuleSet) CanonicalCategory(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if i, ok := rs.byName[name]; ok {
		return rs.categories[i].Name, true
	}
	if i, ok := rs.byFold[strings.ToLower(name)]; ok {
		return rs.categories[i].Name, true
	}
	return "", false
}

// Tags returns every tag of a taxonomy in file order.
func (rs *RuleSet) Tags(t Taxonomy) []Tag {
	return append([]Tag(nil), rs.tags[t]...)
}

// AutoTags returns the tags the classifier may assign.
func (rs *RuleSet) AutoTags(t Taxonomy) []Tag {
	var out []Tag
	for _, tag := range rs.tags[t] {
		if tag.Assignment == AssignAuto {
			out = append(out, tag)
		}
	}
	return out
}

// Tag looks up a tag by name, case-insensitively, returning the canonical
// definition.
func (rs *RuleSet) Tag(t Taxonomy, name string) (Tag, bool) {
	i, ok := rs.tagIndex[t][strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Tag{}, false
	}
	return rs.tags[t][i], true
}

// Conflicts returns the conflict heuristics in file order.
func (rs *RuleSet) Conflicts() []ConflictRule {
	return append([]ConflictRule(nil), rs.conflicts...)
}

// Guidance is the free-text conflict guidance.
func (rs *RuleSet) Guidance() string { return rs.guidance }

// QualityScale is the allowed range for quality scores.
func (rs *RuleSet) QualityScale() Scale { return rs.quality }

// ConfidenceScale is the allowed range for confidence.
func (rs *RuleSet) ConfidenceScale() Scale { return rs.confidence }

// SharedTiers returns groups of category names that share a precedence value.
// Ordering inside such a group is left to the classifier.
func (rs *RuleSet) SharedTiers() [][]string {
	tiers := make(map[int][]string)
	var order []int
	for _, c := range rs.categories {
		if _, seen := tiers[c.Precedence]; !seen {
			order = append(order, c.Precedence)
		}
		tiers[c.Precedence] = append(tiers[c.Precedence], c.Name)
	}
	sort.Ints(order)
	var out [][]string
	for _, p := range order {
		if len(tiers[p]) > 1 {
			out = append(out, tiers[p])
		}
	}
	return out
}
