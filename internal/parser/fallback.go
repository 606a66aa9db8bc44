package parser

import (
	"fmt"

	"github.com/opticrank/siteaudit/internal/assessment"
)

var categoryLabels = map[string]string{
	assessment.CategoryStructuredData:       "structured data",
	assessment.CategoryContentQuality:       "content quality",
	assessment.CategoryTechnicalPerformance: "technical performance",
	assessment.CategoryBusinessContext:      "business context",
}

// Fallback returns the static degraded result substituted when a
// category's provider response cannot be parsed or the provider was
// unavailable. The Fallback flag lets callers distinguish synthetic
// content from genuine analysis.
func Fallback(category string) assessment.CategoryResult {
	label := categoryLabels[category]
	if label == "" {
		label = category
	}
	return assessment.CategoryResult{
		Score: 65,
		Grade: "D",
		Findings: []string{
			fmt.Sprintf("Automated %s analysis could not be completed for this site.", label),
		},
		Recommendations: []assessment.Recommendation{
			{
				Title:         fmt.Sprintf("Request a manual %s review", label),
				Description:   fmt.Sprintf("Our automated %s check did not produce a usable result. A manual review will cover the same ground in more depth.", label),
				Impact:        "Accurate baseline for this category",
				Difficulty:    "Easy",
				Priority:      "Medium",
				EstimatedTime: "1-2 days",
			},
		},
		Summary:  fmt.Sprintf("Analysis degraded: the %s assessment fell back to placeholder content and should be re-run.", label),
		Fallback: true,
	}
}
