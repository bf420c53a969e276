// Package source reads the saved items to classify.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

// Source lists the items of a collection in a stable order.
type Source interface {
	ListItems(ctx context.Context) ([]recipe.Item, error)
}

// ErrDuplicateID is returned when two records share an ID.
var ErrDuplicateID = errors.New("duplicate record id")

// export is the extracted-records file layout.
type export struct {
	TotalRecords int      `json:"total_records"`
	Records      []record `json:"records"`
}

type record struct {
	RecordID string   `json:"record_id"`
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Tags     []string `json:"tags"`
	URL      string   `json:"url"`
}

// JSONFile reads items from an extracted-records export.
type JSONFile struct {
	Path string
}

// NewJSONFile creates a source backed by path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: path}
}

// ListItems reads the file and assigns positions in file order.
func (f *JSONFile) ListItems(ctx context.Context) ([]recipe.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading items: %w", err)
	}
	items, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return items, nil
}

// Parse decodes an export. Records fall back to "id" when "record_id" is
// absent; a record with neither, or an ID seen before, is an error.
func Parse(data []byte) ([]recipe.Item, error) {
	var exp export
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("parsing items: %w", err)
	}

	items := make([]recipe.Item, 0, len(exp.Records))
	seen := make(map[string]int, len(exp.Records))
	for i, r := range exp.Records {
		id := strings.TrimSpace(r.RecordID)
		if id == "" {
			id = strings.TrimSpace(r.ID)
		}
		if id == "" {
			return nil, fmt.Errorf("record %d has no id", i)
		}
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("%w: %q at records %d and %d", ErrDuplicateID, id, prev, i)
		}
		seen[id] = i

		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = "Untitled"
		}
		url := r.URL
		if url == "No URL" {
			url = ""
		}
		items = append(items, recipe.Item{
			ID:       id,
			Position: i,
			Title:    title,
			Tags:     r.Tags,
			URL:      url,
		})
	}
	return items, nil
}

// Static serves a fixed item list.
type Static []recipe.Item

func (s Static) ListItems(context.Context) ([]recipe.Item, error) {
	return append([]recipe.Item(nil), s...), nil
}
