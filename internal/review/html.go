package review

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

//go:embed templates/review.html
var reviewTemplate string

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

var page = template.Must(template.New("review").Funcs(template.FuncMap{
	"markdown":    RenderMarkdown,
	"needsReview": NeedsReview,
}).Parse(reviewTemplate))

// RenderMarkdown converts markdown to HTML, falling back to escaped text.
func RenderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// WriteHTML writes a standalone review page: the run summary followed by a
// filterable table of judgments.
func WriteHTML(w io.Writer, rs recipe.ResultSet, summaryMarkdown string, opts ExportOptions) (int, error) {
	entries := selectEntries(rs, opts)
	data := map[string]any{
		"Summary":     summaryMarkdown,
		"Entries":     entries,
		"IssuesOnly":  opts.IssuesOnly,
		"GeneratedAt": time.Now().Format("2006-01-02 15:04"),
	}
	if err := page.Execute(w, data); err != nil {
		return 0, fmt.Errorf("rendering review page: %w", err)
	}
	return len(entries), nil
}
