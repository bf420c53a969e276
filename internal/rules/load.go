package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfig is wrapped by every rule loading failure.
var ErrConfig = errors.New("invalid rules configuration")

// ConfigError lists every problem found while loading rules. Loading fails as
// a whole; malformed entries are never dropped silently.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return ErrConfig.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

func (e *ConfigError) addf(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// File names inside a rules directory.
const (
	CategoriesFile = "categories.yaml"
	CuisinesFile   = "cuisines.yaml"
	DietaryFile    = "dietary_tags.yaml"
	UsageFile      = "usage_tags.yaml"
	ConflictsFile  = "conflict_rules.yaml"
)

// Paths locates the rule files.
type Paths struct {
	Categories string
	Cuisines   string
	Dietary    string
	Usage      string
	Conflicts  string
}

// DirPaths returns the conventional file locations inside dir.
func DirPaths(dir string) Paths {
	return Paths{
		Categories: filepath.Join(dir, CategoriesFile),
		Cuisines:   filepath.Join(dir, CuisinesFile),
		Dietary:    filepath.Join(dir, DietaryFile),
		Usage:      filepath.Join(dir, UsageFile),
		Conflicts:  filepath.Join(dir, ConflictsFile),
	}
}

// Sources holds raw rule documents.
type Sources struct {
	Categories []byte
	Cuisines   []byte
	Dietary    []byte
	Usage      []byte
	Conflicts  []byte
}

// Load reads the rule files from dir.
func Load(dir string) (*RuleSet, error) {
	return LoadFiles(DirPaths(dir))
}

// LoadFiles reads and validates the rule files. The categories file is
// required; a missing tag or conflict file means an empty vocabulary.
func LoadFiles(p Paths) (*RuleSet, error) {
	cerr := &ConfigError{}
	read := func(path string, required bool) []byte {
		if path == "" {
			if required {
				cerr.addf("no categories file configured")
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !required {
				return nil
			}
			cerr.addf("reading %s: %v", path, err)
			return nil
		}
		return data
	}

	src := Sources{
		Categories: read(p.Categories, true),
		Cuisines:   read(p.Cuisines, false),
		Dietary:    read(p.Dietary, false),
		Usage:      read(p.Usage, false),
		Conflicts:  read(p.Conflicts, false),
	}
	if len(cerr.Problems) > 0 {
		return nil, cerr
	}
	return Parse(src)
}

type categoryDoc struct {
	Description string   `yaml:"description"`
	Criteria    []string `yaml:"criteria"`
	Examples    []string `yaml:"examples"`
	Precedence  *int     `yaml:"precedence"`
}

type tagDoc struct {
	Description string   `yaml:"description"`
	Criteria    []string `yaml:"criteria"`
	Indicators  []string `yaml:"indicators"`
	Notes       string   `yaml:"notes"`
	Assignment  string   `yaml:"assignment"`
}

type conflictDoc struct {
	Guidance string `yaml:"guidance"`
	Rules    []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Prefer      string   `yaml:"prefer"`
		Over        []string `yaml:"over"`
	} `yaml:"rules"`
	Scales struct {
		Quality    *Scale `yaml:"quality"`
		Confidence *Scale `yaml:"confidence"`
	} `yaml:"scales"`
}

// Parse builds a RuleSet from raw documents.
func Parse(src Sources) (*RuleSet, error) {
	cerr := &ConfigError{}
	rs := &RuleSet{
		byName:     make(map[string]int),
		byFold:     make(map[string]int),
		tags:       make(map[Taxonomy][]Tag),
		tagIndex:   make(map[Taxonomy]map[string]int),
		quality:    Scale{Min: 1, Max: 5},
		confidence: Scale{Min: 1, Max: 5},
	}

	parseCategories(rs, src.Categories, cerr)
	for _, t := range Taxonomies {
		var data []byte
		var file string
		switch t {
		case Cuisine:
			data, file = src.Cuisines, CuisinesFile
		case Dietary:
			data, file = src.Dietary, DietaryFile
		case Usage:
			data, file = src.Usage, UsageFile
		}
		parseTags(rs, t, file, data, cerr)
	}
	parseConflicts(rs, src.Conflicts, cerr)

	if len(cerr.Problems) > 0 {
		return nil, cerr
	}
	return rs, nil
}

func parseCategories(rs *RuleSet, data []byte, cerr *ConfigError) {
	entries, err := orderedEntries(data, "categories")
	if err != nil {
		cerr.addf("%s: %v", CategoriesFile, err)
		return
	}
	if len(entries) == 0 {
		cerr.addf("%s: no categories defined", CategoriesFile)
		return
	}

	seen := make(map[string]int)
	for _, e := range entries {
		name := strings.TrimSpace(e.name)
		if name == "" {
			cerr.addf("%s:%d: category with empty name", CategoriesFile, e.line)
			continue
		}
		fold := strings.ToLower(name)
		if line, dup := seen[fold]; dup {
			cerr.addf("%s:%d: duplicate category %q (first defined on line %d)", CategoriesFile, e.line, name, line)
			continue
		}
		seen[fold] = e.line

		var doc categoryDoc
		if err := e.decode(&doc); err != nil {
			cerr.addf("%s:%d: category %q: %v", CategoriesFile, e.line, name, err)
			continue
		}
		if doc.Precedence == nil {
			cerr.addf("%s:%d: category %q: precedence is required", CategoriesFile, e.line, name)
			continue
		}
		if *doc.Precedence < 0 {
			cerr.addf("%s:%d: category %q: precedence %d is negative", CategoriesFile, e.line, name, *doc.Precedence)
			continue
		}
		rs.categories = append(rs.categories, Category{
			Name:        name,
			Description: strings.TrimSpace(doc.Description),
			Criteria:    doc.Criteria,
			Examples:    doc.Examples,
			Precedence:  *doc.Precedence,
		})
	}

	sort.SliceStable(rs.categories, func(i, j int) bool {
		return rs.categories[i].Precedence < rs.categories[j].Precedence
	})
	for i, c := range rs.categories {
		rs.byName[c.Name] = i
		rs.byFold[strings.ToLower(c.Name)] = i
	}
}

func parseTags(rs *RuleSet, t Taxonomy, file string, data []byte, cerr *ConfigError) {
	index := make(map[string]int)
	rs.tagIndex[t] = index

	entries, err := orderedEntries(data, string(t))
	if err != nil {
		cerr.addf("%s: %v", file, err)
		return
	}
	for _, e := range entries {
		name := strings.TrimSpace(e.name)
		if name == "" {
			cerr.addf("%s:%d: tag with empty name", file, e.line)
			continue
		}
		if _, dup := index[strings.ToLower(name)]; dup {
			cerr.addf("%s:%d: duplicate tag %q", file, e.line, name)
			continue
		}

		var doc tagDoc
		if err := e.decode(&doc); err != nil {
			cerr.addf("%s:%d: tag %q: %v", file, e.line, name, err)
			continue
		}
		mode, ok := parseAssignment(doc.Assignment)
		if !ok {
			cerr.addf("%s:%d: tag %q: assignment %q must be auto or manual", file, e.line, name, doc.Assignment)
			continue
		}
		index[strings.ToLower(name)] = len(rs.tags[t])
		rs.tags[t] = append(rs.tags[t], Tag{
			Name:        name,
			Description: strings.TrimSpace(doc.Description),
			Criteria:    doc.Criteria,
			Indicators:  doc.Indicators,
			Notes:       strings.TrimSpace(doc.Notes),
			Assignment:  mode,
		})
	}
}

func parseConflicts(rs *RuleSet, data []byte, cerr *ConfigError) {
	if len(data) == 0 {
		return
	}
	var doc conflictDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		cerr.addf("%s: %v", ConflictsFile, err)
		return
	}
	rs.guidance = strings.TrimSpace(doc.Guidance)

	for i, r := range doc.Rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule %d", i+1)
		}
		if _, ok := rs.byName[r.Prefer]; !ok {
			cerr.addf("%s: %s: prefers unknown category %q", ConflictsFile, name, r.Prefer)
			continue
		}
		valid := true
		for _, o := range r.Over {
			if _, ok := rs.byName[o]; !ok {
				cerr.addf("%s: %s: references unknown category %q", ConflictsFile, name, o)
				valid = false
			}
		}
		if valid {
			rs.conflicts = append(rs.conflicts, ConflictRule{
				Name:        name,
				Description: strings.TrimSpace(r.Description),
				Prefer:      r.Prefer,
				Over:        r.Over,
			})
		}
	}

	if s := doc.Scales.Quality; s != nil {
		if s.Min > s.Max {
			cerr.addf("%s: quality scale min %d exceeds max %d", ConflictsFile, s.Min, s.Max)
		} else {
			rs.quality = *s
		}
	}
	if s := doc.Scales.Confidence; s != nil {
		if s.Min > s.Max {
			cerr.addf("%s: confidence scale min %d exceeds max %d", ConflictsFile, s.Min, s.Max)
		} else {
			rs.confidence = *s
		}
	}
}

type entry struct {
	name string
	line int
	node *yaml.Node
}

func (e entry) decode(v any) error {
	if e.node == nil || e.node.Tag == "!!null" {
		return nil
	}
	if e.node.Kind != yaml.MappingNode {
		return fmt.Errorf("definition must be a mapping")
	}
	return e.node.Decode(v)
}

// orderedEntries returns the name/definition pairs under key, in file order.
func orderedEntries(data []byte, key string) ([]entry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level must be a mapping")
	}

	var body *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			body = root.Content[i+1]
			break
		}
	}
	if body == nil || body.Tag == "!!null" {
		return nil, nil
	}
	if body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s must be a mapping of name to definition", key)
	}

	entries := make([]entry, 0, len(body.Content)/2)
	for i := 0; i+1 < len(body.Content); i += 2 {
		k := body.Content[i]
		entries = append(entries, entry{name: k.Value, line: k.Line, node: body.Content[i+1]})
	}
	return entries, nil
}
