// Package engine orchestrates one assessment: a provider call per
// analysis category, parsing with fallback substitution, and weighted
// aggregation into the overall result.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/opticrank/siteaudit/internal/assessment"
	"github.com/opticrank/siteaudit/internal/crawler"
	"github.com/opticrank/siteaudit/internal/parser"
)

// EngineError marks the entire pipeline as unusable: every category
// failed at the provider level, so no genuine analysis exists at all.
type EngineError struct {
	Message string
}

func (e *EngineError) Error() string {
	return e.Message
}

// ProviderClient performs one analysis completion.
type ProviderClient interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// Snapshotter fetches a page snapshot for prompt enrichment.
type Snapshotter interface {
	Snapshot(ctx context.Context, url string) (*crawler.Snapshot, error)
}

// Engine runs the multi-category analysis for one URL.
type Engine struct {
	provider ProviderClient
	snap     Snapshotter // nil disables prompt enrichment
	scoring  assessment.Scoring
	logger   *slog.Logger
}

// New creates an Engine. snap may be nil to skip page snapshots.
func New(provider ProviderClient, snap Snapshotter, scoring assessment.Scoring) *Engine {
	return &Engine{
		provider: provider,
		snap:     snap,
		scoring:  scoring,
		logger:   slog.Default(),
	}
}

// Run analyzes the URL across all four categories and aggregates the
// overall result. Per-category provider or parse failures are absorbed
// by substituting fallback content; Run fails only when every category
// failed at the provider level.
func (e *Engine) Run(ctx context.Context, url string) (assessment.Results, error) {
	snapshot := e.snapshot(ctx, url)

	categories := assessment.Categories()
	outcomes := make([]assessment.CategoryResult, len(categories))
	var providerFailures atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	for i, category := range categories {
		i, category := i, category
		g.Go(func() error {
			result, providerFailed := e.analyzeCategory(gctx, category, url, snapshot)
			outcomes[i] = result
			if providerFailed {
				providerFailures.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return assessment.Results{}, err
	}
	if err := ctx.Err(); err != nil {
		return assessment.Results{}, err
	}

	if int(providerFailures.Load()) == len(categories) {
		return assessment.Results{}, &EngineError{Message: "analysis provider unreachable for all categories"}
	}

	var results assessment.Results
	for i, category := range categories {
		results.SetCategory(category, outcomes[i])
	}
	results.Overall = e.aggregate(results)
	return results, nil
}

// analyzeCategory runs one category end to end. The second return
// value reports a provider-level failure (as opposed to a parse
// failure), which Run counts toward total-pipeline failure.
func (e *Engine) analyzeCategory(ctx context.Context, category, url, snapshot string) (assessment.CategoryResult, bool) {
	prompt := buildPrompt(category, url, snapshot)

	raw, err := e.provider.Analyze(ctx, prompt)
	if err != nil {
		e.logger.Warn("provider call failed, substituting fallback",
			"category", category, "url", url, "error", err)
		return parser.Fallback(category), true
	}

	result, err := parser.Parse(raw, category)
	if err != nil {
		e.logger.Warn("response parse failed, substituting fallback",
			"category", category, "url", url, "error", err)
		return parser.Fallback(category), false
	}
	return result, false
}

func (e *Engine) snapshot(ctx context.Context, url string) string {
	if e.snap == nil {
		return ""
	}
	snap, err := e.snap.Snapshot(ctx, url)
	if err != nil {
		e.logger.Debug("page snapshot failed, analyzing without it", "url", url, "error", err)
		return ""
	}
	return snap.Summary()
}

// aggregate computes the weighted overall result from the four
// category outcomes.
func (e *Engine) aggregate(r assessment.Results) assessment.OverallResult {
	scores := make(map[string]int, 4)
	var allRecs []assessment.Recommendation
	for _, category := range assessment.Categories() {
		cr := r.Category(category)
		scores[category] = cr.Score
		allRecs = append(allRecs, cr.Recommendations...)
	}

	score := e.scoring.WeightedScore(scores)
	top := assessment.RankRecommendations(allRecs, 5)

	return assessment.OverallResult{
		Score:                  score,
		Grade:                  e.scoring.Grade(score),
		Insights:               e.deriveInsights(score, scores, allRecs),
		TopRecommendations:     top,
		CompetitivePositioning: positioning(score),
		NextSteps:              nextSteps(top),
		Summary:                overallSummary(score, e.scoring.Grade(score), scores),
		EstimatedImpact:        estimatedImpact(score),
	}
}

// deriveInsights applies the three additive insight rules: strong
// foundation at overall >= 70, the single weakest category below 70,
// and quick wins when High/Easy recommendations exist.
func (e *Engine) deriveInsights(overall int, scores map[string]int, recs []assessment.Recommendation) []assessment.Insight {
	var insights []assessment.Insight

	if overall >= 70 {
		insights = append(insights, assessment.Insight{
			Type:        "positive",
			Title:       "Strong foundation",
			Description: fmt.Sprintf("With an overall score of %d, this site already has a solid base for AI visibility.", overall),
		})
	}

	lowest, lowestScore := "", 101
	for _, category := range assessment.Categories() {
		if s := scores[category]; s < 70 && s < lowestScore {
			lowest, lowestScore = category, s
		}
	}
	if lowest != "" {
		insights = append(insights, assessment.Insight{
			Type:        "opportunity",
			Title:       fmt.Sprintf("Biggest opportunity: %s", categoryTitle(lowest)),
			Description: fmt.Sprintf("%s scored %d, the weakest of the four categories. Improvements here move the overall score fastest.", categoryTitle(lowest), lowestScore),
		})
	}

	quickWins := 0
	for _, rec := range recs {
		if rec.Priority == "High" && rec.Difficulty == "Easy" {
			quickWins++
		}
	}
	if quickWins > 0 {
		insights = append(insights, assessment.Insight{
			Type:        "action",
			Title:       "Quick wins available",
			Description: fmt.Sprintf("%d high-priority recommendations are easy to implement and can be done this week.", quickWins),
		})
	}

	return insights
}

var categoryTitles = map[string]string{
	assessment.CategoryStructuredData:       "Structured data",
	assessment.CategoryContentQuality:       "Content quality",
	assessment.CategoryTechnicalPerformance: "Technical performance",
	assessment.CategoryBusinessContext:      "Business context",
}

func categoryTitle(category string) string {
	if t, ok := categoryTitles[category]; ok {
		return t
	}
	return category
}

func positioning(score int) string {
	switch {
	case score >= 90:
		return "This site is ahead of most competitors in AI visibility and is well positioned to be cited by AI assistants."
	case score >= 70:
		return "This site is competitive for AI visibility but leaves room for rivals that invest in structured, answer-ready content."
	case score >= 50:
		return "This site trails competitors that have optimized for AI search; assistants are likely to cite better-structured alternatives."
	default:
		return "This site is largely invisible to AI-driven discovery today, ceding ground to competitors with machine-readable content."
	}
}

func nextSteps(top []assessment.Recommendation) []string {
	steps := make([]string, 0, len(top)+1)
	for _, rec := range top {
		steps = append(steps, rec.Title)
	}
	steps = append(steps, "Re-run the assessment after changes land to measure the score improvement.")
	return steps
}

func overallSummary(score int, grade string, scores map[string]int) string {
	return fmt.Sprintf(
		"Overall AI visibility score %d (grade %s). Category scores: structured data %d, content quality %d, technical performance %d, business context %d.",
		score, grade,
		scores[assessment.CategoryStructuredData],
		scores[assessment.CategoryContentQuality],
		scores[assessment.CategoryTechnicalPerformance],
		scores[assessment.CategoryBusinessContext],
	)
}

func estimatedImpact(score int) string {
	headroom := 100 - score
	switch {
	case headroom <= 10:
		return "Marginal gains remain; focus on maintaining the current position as AI search evolves."
	case headroom <= 30:
		return fmt.Sprintf("Closing the remaining %d points would noticeably increase how often AI assistants surface this business.", headroom)
	default:
		return fmt.Sprintf("With %d points of headroom, systematic fixes could multiply this site's presence in AI-generated answers.", headroom)
	}
}
