// Package report composes the markdown run summary shown by the CLI, the HTML
// review page and the server.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/RecipeSorter/internal/llm"
	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

// topN caps the tag and domain tables.
const topN = 10

const highlightsPrompt = `You are summarizing a personal recipe collection after it was categorized.

Collection statistics:

%s

Write 3-5 short bullet points a home cook would find useful: what the collection is strong in, what is thin, and what needs cleanup.

Respond with ONLY this JSON:
{
    "highlights": [
        "First observation",
        "Second observation"
    ]
}`

// Input is everything a summary can draw on. Any part may be empty.
type Input struct {
	Items   []recipe.Item
	Results recipe.ResultSet
	Run     *recipe.RunReport
}

// Composer builds run summaries, optionally asking the classifier service for
// a few highlights.
type Composer struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewComposer creates a composer. A nil provider disables highlights.
func NewComposer(provider llm.Provider, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{provider: provider, logger: logger}
}

// Compose returns the summary with highlights prepended when available.
func (c *Composer) Compose(ctx context.Context, in Input) string {
	body := Summary(in)
	if c.provider == nil || len(in.Results) == 0 {
		return body
	}

	highlights, err := c.highlights(ctx, body)
	if err != nil {
		c.logger.Warn("highlights unavailable", zap.Error(err))
		return body
	}
	return "## Highlights\n\n" + highlights + "\n\n" + body
}

func (c *Composer) highlights(ctx context.Context, stats string) (string, error) {
	text, err := c.provider.Generate(ctx, "", fmt.Sprintf(highlightsPrompt, stats), llm.Options{MaxTokens: 512, JSONMode: true})
	if err != nil {
		return "", err
	}
	obj, err := llm.ParseJSONObject(text)
	if err != nil {
		return "", err
	}
	var bullets []string
	if err := json.Unmarshal(obj["highlights"], &bullets); err != nil {
		return "", fmt.Errorf("highlights: %w", err)
	}

	var lines []string
	for _, b := range bullets {
		if b = strings.TrimSpace(b); b != "" {
			lines = append(lines, "- "+b)
		}
	}
	if len(lines) == 0 {
		return "", llm.ErrEmptyResponse
	}
	return strings.Join(lines, "\n"), nil
}

// Summary renders the deterministic part of a run summary as markdown.
func Summary(in Input) string {
	var sections []string
	if in.Run != nil {
		sections = append(sections, runSection(in.Run))
	}
	if len(in.Items) > 0 {
		sections = append(sections, collectionSection(Collect(in.Items)))
	}
	if len(in.Results) > 0 {
		b := Break(in.Results)
		sections = append(sections, qualitySection(b), distributionSection(b))
	}
	if len(sections) == 0 {
		return "No items or results yet."
	}
	return strings.Join(sections, "\n\n")
}

func runSection(r *recipe.RunReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Run %s\n\n", r.RunID)
	fmt.Fprintf(&sb, "- State: %s\n", r.State)
	if r.Attempted > 0 {
		fmt.Fprintf(&sb, "- Range: %d-%d\n", r.RangeStart, r.RangeEnd)
	}
	fmt.Fprintf(&sb, "- Attempted: %d, succeeded: %d, failed: %d\n", r.Attempted, r.Succeeded, r.Failed)
	if r.Duration > 0 {
		fmt.Fprintf(&sb, "- Duration: %s\n", r.Duration.Round(time.Millisecond))
	}
	if r.AbortError != "" {
		fmt.Fprintf(&sb, "- Aborted: %s\n", r.AbortError)
	}

	if len(r.Failures) > 0 {
		sb.WriteString("\n### Failures\n\n| Position | Item | Title | Reason | Attempts |\n|---:|---|---|---|---:|\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&sb, "| %d | %s | %s | %s: %s | %d |\n",
				f.Position, cell(f.ItemID), cell(f.Title), f.Kind, cell(f.Message), f.Attempts)
		}
		if hint := RetryHint(r); hint != "" {
			fmt.Fprintf(&sb, "\nRetry with `%s`.\n", hint)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RetryHint suggests an analyze invocation covering every failed position.
func RetryHint(r *recipe.RunReport) string {
	start, end, ok := r.FailedSpan()
	if !ok {
		return ""
	}
	return fmt.Sprintf("recipesorter analyze --range %d-%d", start, end)
}

func collectionSection(s CollectionStats) string {
	var sb strings.Builder
	sb.WriteString("## Collection\n\n")
	fmt.Fprintf(&sb, "- Items: %d\n- With URLs: %d\n- With tags: %d\n", s.Items, s.WithURL, s.WithTags)
	writeTable(&sb, "Existing tags", "Tag", s.Tags, topN)
	writeTable(&sb, "Top domains", "Domain", s.Domains, topN)
	return strings.TrimRight(sb.String(), "\n")
}

func qualitySection(b Breakdown) string {
	var sb strings.Builder
	sb.WriteString("## Content quality\n\n")
	fmt.Fprintf(&sb, "- Judgments: %d\n", b.Judgments)
	fmt.Fprintf(&sb, "- Recipes: %d, not recipes: %d\n", b.Recipes, b.NonRecipes)
	fmt.Fprintf(&sb, "- Titles needing improvement: %d\n", b.TitlesToImprove)
	fmt.Fprintf(&sb, "- Quality below %d: %d (average %.1f)\n", LowQualityBelow, b.LowQuality, b.AverageQuality)
	if b.Overridden > 0 {
		fmt.Fprintf(&sb, "- Corrected by hand: %d\n", b.Overridden)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func distributionSection(b Breakdown) string {
	var sb strings.Builder
	sb.WriteString("## Distribution\n")
	writeTable(&sb, "Categories", "Category", b.Categories, 0)
	writeTable(&sb, "Cuisines", "Cuisine", b.Cuisines, 0)
	writeTable(&sb, "Dietary tags", "Tag", b.Dietary, 0)
	writeTable(&sb, "Usage tags", "Tag", b.Usage, 0)
	return strings.TrimRight(sb.String(), "\n")
}

// writeTable appends a markdown table of counts. limit 0 means all rows.
func writeTable(sb *strings.Builder, heading, column string, counts []Count, limit int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n### %s\n\n| %s | Count |\n|---|---:|\n", heading, column)
	for i, c := range counts {
		if limit > 0 && i == limit {
			fmt.Fprintf(sb, "| ... %d more | |\n", len(counts)-limit)
			break
		}
		fmt.Fprintf(sb, "| %s | %d |\n", cell(c.Name), c.N)
	}
}

// cell escapes text for a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
