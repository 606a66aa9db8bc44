package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/opticrank/siteaudit/internal/assessment"
	"github.com/opticrank/siteaudit/internal/crawler"
)

type mockProvider struct {
	mu      sync.Mutex
	prompts []string
	fn      func(prompt string) (string, error)
}

func (m *mockProvider) Analyze(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	return m.fn(prompt)
}

type mockSnapshotter struct {
	snap *crawler.Snapshot
	err  error
}

func (m *mockSnapshotter) Snapshot(_ context.Context, _ string) (*crawler.Snapshot, error) {
	return m.snap, m.err
}

func categoryJSON(score int, priority, difficulty string) string {
	return fmt.Sprintf(`{
		"score": %d, "grade": "X",
		"findings": ["finding"],
		"recommendations": [{"title": "rec-%d", "description": "d", "impact": "i", "difficulty": %q, "priority": %q, "estimatedTime": "1h"}],
		"summary": "summary"
	}`, score, score, difficulty, priority)
}

// scoreFor routes a fixed score to each category based on prompt content.
func scoreFor(prompt string) int {
	switch {
	case strings.Contains(prompt, "structured data readiness"):
		return 80
	case strings.Contains(prompt, "content quality"):
		return 60
	case strings.Contains(prompt, "technical performance"):
		return 90
	default:
		return 70
	}
}

func TestRunAggregates(t *testing.T) {
	p := &mockProvider{fn: func(prompt string) (string, error) {
		return categoryJSON(scoreFor(prompt), "High", "Easy"), nil
	}}
	e := New(p, nil, assessment.DefaultScoring())

	results, err := e.Run(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 80*.25 + 60*.30 + 90*.25 + 70*.20 = 74.5 -> 75
	if results.Overall.Score != 75 {
		t.Errorf("overall score = %d, want 75", results.Overall.Score)
	}
	if results.Overall.Grade != "C" {
		t.Errorf("overall grade = %q, want C", results.Overall.Grade)
	}

	for _, category := range assessment.Categories() {
		cr := results.Category(category)
		if cr.Fallback {
			t.Errorf("%s: unexpected fallback", category)
		}
		if !assessment.ValidGrade(cr.Grade) {
			t.Errorf("%s: grade %q", category, cr.Grade)
		}
	}
	if results.ContentQuality.Score != 60 {
		t.Errorf("contentQuality score = %d, want 60", results.ContentQuality.Score)
	}

	if len(results.Overall.TopRecommendations) != 4 {
		t.Errorf("top recommendations = %d, want 4", len(results.Overall.TopRecommendations))
	}
	if len(results.Overall.NextSteps) == 0 || results.Overall.Summary == "" {
		t.Error("missing next steps or summary")
	}
}

func TestRunInsights(t *testing.T) {
	p := &mockProvider{fn: func(prompt string) (string, error) {
		return categoryJSON(scoreFor(prompt), "High", "Easy"), nil
	}}
	e := New(p, nil, assessment.DefaultScoring())

	results, err := e.Run(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	types := map[string]assessment.Insight{}
	for _, in := range results.Overall.Insights {
		types[in.Type] = in
	}
	if _, ok := types["positive"]; !ok {
		t.Error("missing positive insight at overall 75")
	}
	opp, ok := types["opportunity"]
	if !ok {
		t.Fatal("missing opportunity insight for contentQuality at 60")
	}
	if !strings.Contains(opp.Title, "Content quality") {
		t.Errorf("opportunity names %q, want content quality", opp.Title)
	}
	action, ok := types["action"]
	if !ok {
		t.Fatal("missing quick-wins insight")
	}
	if !strings.Contains(action.Description, "4 ") {
		t.Errorf("quick wins description = %q, want count 4", action.Description)
	}
}

func TestRunParseFailureFallsBack(t *testing.T) {
	p := &mockProvider{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "business context") {
			return "I could not produce a structured answer, sorry.", nil
		}
		return categoryJSON(80, "Medium", "Medium"), nil
	}}
	e := New(p, nil, assessment.DefaultScoring())

	results, err := e.Run(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !results.BusinessContext.Fallback {
		t.Error("businessContext should be fallback content")
	}
	if results.StructuredData.Fallback {
		t.Error("structuredData should be genuine")
	}
}

func TestRunSingleProviderOutageDegrades(t *testing.T) {
	p := &mockProvider{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "technical performance") {
			return "", errors.New("provider exhausted retries")
		}
		return categoryJSON(85, "Low", "Hard"), nil
	}}
	e := New(p, nil, assessment.DefaultScoring())

	results, err := e.Run(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Run should degrade gracefully, got %v", err)
	}
	if !results.TechnicalPerformance.Fallback {
		t.Error("technicalPerformance should be fallback content")
	}
}

func TestRunTotalProviderOutageFails(t *testing.T) {
	p := &mockProvider{fn: func(string) (string, error) {
		return "", errors.New("connection refused")
	}}
	e := New(p, nil, assessment.DefaultScoring())

	_, err := e.Run(context.Background(), "https://example.com")
	var eerr *EngineError
	if !errors.As(err, &eerr) {
		t.Fatalf("error = %v, want *EngineError", err)
	}
}

func TestRunIncludesSnapshotInPrompts(t *testing.T) {
	p := &mockProvider{fn: func(string) (string, error) {
		return categoryJSON(75, "Medium", "Easy"), nil
	}}
	snap := &mockSnapshotter{snap: &crawler.Snapshot{Title: "Acme Widgets", H1Count: 1}}
	e := New(p, snap, assessment.DefaultScoring())

	if _, err := e.Run(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) != 4 {
		t.Fatalf("prompts = %d, want 4", len(p.prompts))
	}
	for _, prompt := range p.prompts {
		if !strings.Contains(prompt, "Acme Widgets") {
			t.Errorf("prompt missing snapshot content:\n%s", prompt)
		}
		if !strings.Contains(prompt, "https://example.com") {
			t.Error("prompt missing target URL")
		}
	}
}

func TestRunSnapshotFailureIgnored(t *testing.T) {
	p := &mockProvider{fn: func(string) (string, error) {
		return categoryJSON(75, "Medium", "Easy"), nil
	}}
	snap := &mockSnapshotter{err: errors.New("fetch failed")}
	e := New(p, snap, assessment.DefaultScoring())

	if _, err := e.Run(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
