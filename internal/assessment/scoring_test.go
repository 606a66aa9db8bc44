package assessment

import "testing"

func TestGradeBoundaries(t *testing.T) {
	s := DefaultScoring()
	cases := []struct {
		score int
		want  string
	}{
		{95, "A"}, {90, "A"},
		{85, "B"}, {80, "B"},
		{75, "C"}, {70, "C"},
		{65, "D"}, {60, "D"},
		{55, "F"}, {0, "F"},
	}
	for _, c := range cases {
		if got := s.Grade(c.score); got != c.want {
			t.Errorf("Grade(%d) = %q, want %q", c.score, got, c.want)
		}
	}
}

func TestWeightedScore(t *testing.T) {
	s := DefaultScoring()
	scores := map[string]int{
		CategoryStructuredData:       80,
		CategoryContentQuality:       60,
		CategoryTechnicalPerformance: 90,
		CategoryBusinessContext:      70,
	}
	// 80*.25 + 60*.30 + 90*.25 + 70*.20 = 20 + 18 + 22.5 + 14 = 74.5 -> 75
	if got := s.WeightedScore(scores); got != 75 {
		t.Errorf("WeightedScore = %d, want 75", got)
	}
}

func TestWeightedScoreRenormalizes(t *testing.T) {
	s := DefaultScoring()
	scores := map[string]int{
		CategoryStructuredData: 80,
		CategoryContentQuality: 60,
	}
	// (80*.25 + 60*.30) / .55 = 38/.55 = 69.09 -> 69
	if got := s.WeightedScore(scores); got != 69 {
		t.Errorf("WeightedScore = %d, want 69", got)
	}

	if got := s.WeightedScore(nil); got != 0 {
		t.Errorf("WeightedScore(nil) = %d, want 0", got)
	}
}

func TestClampScore(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{-5, 0}, {0, 0}, {72.4, 72}, {72.5, 73}, {100, 100}, {140, 100},
	}
	for _, c := range cases {
		if got := ClampScore(c.in); got != c.want {
			t.Errorf("ClampScore(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestRankRecommendations(t *testing.T) {
	recs := []Recommendation{
		{Title: "low-easy", Priority: "Low", Difficulty: "Easy"},
		{Title: "high-hard", Priority: "High", Difficulty: "Hard"},
		{Title: "high-easy", Priority: "High", Difficulty: "Easy"},
		{Title: "med-med", Priority: "Medium", Difficulty: "Medium"},
		{Title: "high-med", Priority: "High", Difficulty: "Medium"},
		{Title: "med-easy", Priority: "Medium", Difficulty: "Easy"},
	}

	ranked := RankRecommendations(recs, 5)
	if len(ranked) != 5 {
		t.Fatalf("got %d recommendations, want 5", len(ranked))
	}
	wantOrder := []string{"high-easy", "high-med", "high-hard", "med-easy", "med-med"}
	for i, w := range wantOrder {
		if ranked[i].Title != w {
			t.Errorf("rank %d = %q, want %q", i, ranked[i].Title, w)
		}
	}

	// Input slice must not be reordered.
	if recs[0].Title != "low-easy" {
		t.Error("RankRecommendations mutated its input")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusCrawling, StatusAnalyzing} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
