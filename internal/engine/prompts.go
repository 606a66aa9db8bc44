package engine

import (
	"fmt"
	"strings"

	"github.com/opticrank/siteaudit/internal/assessment"
)

const responseShape = `Respond with a JSON object containing exactly these fields:
"score" (integer 0-100), "grade" (one of A/B/C/D/F), "findings" (array of strings),
"recommendations" (array of objects with "title", "description", "impact",
"difficulty" one of Easy/Medium/Hard, "priority" one of High/Medium/Low,
"estimatedTime"), and "summary" (string).`

var categoryBriefs = map[string]string{
	assessment.CategoryStructuredData: `Assess the structured data readiness of %s for AI search:
schema.org coverage (Organization, Product, FAQ, Article), JSON-LD usage,
entity clarity, and machine-readable signals that help LLM-based crawlers
understand what the business offers.`,

	assessment.CategoryContentQuality: `Assess the content quality of %s for AI visibility:
depth and originality of copy, answer-oriented structure, heading hierarchy,
topical authority, and how well the content maps to questions users would
ask an AI assistant about this business.`,

	assessment.CategoryTechnicalPerformance: `Assess the technical performance of %s as it
affects AI and search crawlers: page weight and load characteristics,
mobile readiness, crawlability, canonical and robots hygiene, and
rendering choices that could hide content from non-rendering fetchers.`,

	assessment.CategoryBusinessContext: `Assess how clearly %s communicates its business context:
who the company is, what it sells, who it serves, pricing and
contact clarity, trust signals, and whether an AI assistant could
accurately describe and recommend this business from the site alone.`,
}

// buildPrompt assembles the category-specific analysis prompt for a
// URL, optionally appending a fetched page snapshot.
func buildPrompt(category, url, snapshot string) string {
	var b strings.Builder
	fmt.Fprintf(&b, categoryBriefs[category], url)
	b.WriteString("\n\n")
	if snapshot != "" {
		b.WriteString(snapshot)
		b.WriteString("\n")
	}
	b.WriteString(responseShape)
	return b.String()
}
