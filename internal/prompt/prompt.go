// Package prompt renders the classification request for one item.
//
// Rendering is a pure function of the rule set and the item: a retried item
// receives byte-for-byte the same request.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
	"github.com/TobiSchelling/RecipeSorter/internal/rules"
)

// SystemPrompt frames the classifier's role.
const SystemPrompt = "You are a culinary expert helping categorize a personal recipe collection. " +
	"Always respond with valid JSON in the exact format requested."

const responseSchema = `Respond with ONLY this JSON:
{
    "is_recipe": true or false,
    "content_summary": "1-2 sentence summary of the item",
    "proposed_title": "clear, descriptive title",
    "title_needs_improvement": true or false,
    "quality_score": %d-%d,
    "primary_category": "exactly one category name from the list",
    "cuisine_type": "one cuisine name from the list, or null",
    "dietary_tags": ["zero or more dietary tags from the list"],
    "usage_tags": ["zero or more usage tags from the list"],
    "confidence": %d-%d,
    "reasoning": "brief explanation of your choices"
}`

// Request is a rendered classification request.
type Request struct {
	ItemID string
	System string
	User   string
	// Fingerprint identifies the exact request text.
	Fingerprint string
}

// Render composes the request for item. Sections appear in a fixed order:
// item, categories, cuisines, dietary tags, usage tags, conflict guidance,
// scales and response schema.
func Render(rs *rules.RuleSet, item recipe.Item) Request {
	var b strings.Builder

	b.WriteString("Analyze this saved item and categorize it using ONLY the options listed below.\n\n")
	fmt.Fprintf(&b, "Item Title: %q\n", item.Title)
	fmt.Fprintf(&b, "Existing Tags: %s\n", formatExistingTags(item.Tags))

	b.WriteString("\nPRIMARY CATEGORY (choose exactly one):\n")
	writeCategories(&b, rs.Categories())

	for _, t := range rules.Taxonomies {
		writeTaxonomy(&b, t, rs.AutoTags(t))
	}

	writeConflicts(&b, rs)

	q, c := rs.QualityScale(), rs.ConfidenceScale()
	fmt.Fprintf(&b, "\nQUALITY SCORE: %d (poor or incomplete) to %d (complete, well-written recipe).\n", q.Min, q.Max)
	fmt.Fprintf(&b, "CONFIDENCE: %d (uncertain) to %d (very confident).\n\n", c.Min, c.Max)
	fmt.Fprintf(&b, responseSchema, q.Min, q.Max, c.Min, c.Max)

	user := b.String()
	sum := sha256.Sum256([]byte(SystemPrompt + "\x00" + user))
	return Request{
		ItemID:      item.ID,
		System:      SystemPrompt,
		User:        user,
		Fingerprint: hex.EncodeToString(sum[:]),
	}
}

func formatExistingTags(tags []string) string {
	if len(tags) == 0 {
		return "None"
	}
	return strings.Join(tags, ", ")
}

func writeCategories(b *strings.Builder, cats []rules.Category) {
	for _, c := range cats {
		fmt.Fprintf(b, "- **%s** (precedence %d): %s\n", c.Name, c.Precedence, c.Description)
		if len(c.Criteria) > 0 {
			b.WriteString("  - Criteria: " + strings.Join(c.Criteria, "; ") + "\n")
		}
		if len(c.Examples) > 0 {
			b.WriteString("  - Examples: " + strings.Join(c.Examples, ", ") + "\n")
		}
	}
}

var taxonomyHeadings = map[rules.Taxonomy]string{
	rules.Cuisine: "CUISINE TYPE (choose one if applicable, otherwise null)",
	rules.Dietary: "DIETARY TAGS (select all that apply)",
	rules.Usage:   "USAGE TAGS (select all that apply)",
}

func writeTaxonomy(b *strings.Builder, t rules.Taxonomy, tags []rules.Tag) {
	fmt.Fprintf(b, "\n%s:\n", taxonomyHeadings[t])
	if len(tags) == 0 {
		b.WriteString("- (none available)\n")
		return
	}
	for _, tag := range tags {
		fmt.Fprintf(b, "- **%s**: %s\n", tag.Name, tag.Description)
		if len(tag.Criteria) > 0 {
			b.WriteString("  - Criteria: " + strings.Join(tag.Criteria, "; ") + "\n")
		}
		if len(tag.Indicators) > 0 {
			b.WriteString("  - Indicators: " + strings.Join(tag.Indicators, "; ") + "\n")
		}
		if tag.Notes != "" {
			b.WriteString("  - Note: " + tag.Notes + "\n")
		}
	}
}

func writeConflicts(b *strings.Builder, rs *rules.RuleSet) {
	b.WriteString("\nCONFLICT RESOLUTION:\n")
	b.WriteString("When more than one category fits, the category with the LOWER precedence number wins.\n")
	if g := rs.Guidance(); g != "" {
		b.WriteString(g + "\n")
	}
	for _, r := range rs.Conflicts() {
		fmt.Fprintf(b, "- Prefer %s over %s: %s\n", r.Prefer, strings.Join(r.Over, ", "), r.Description)
	}
	for _, tier := range rs.SharedTiers() {
		fmt.Fprintf(b, "- %s share a precedence tier; pick the one matching the main ingredient.\n", strings.Join(tier, ", "))
	}
}
