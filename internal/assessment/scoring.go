package assessment

import (
	"math"
	"sort"
)

// Scoring centralizes the weighting and grading constants so tests can
// override them deterministically.
type Scoring struct {
	Weights map[string]float64
	// Grade thresholds: a score at or above the threshold earns the grade.
	GradeA int
	GradeB int
	GradeC int
	GradeD int
}

// DefaultScoring returns the production weights and grade thresholds.
func DefaultScoring() Scoring {
	return Scoring{
		Weights: map[string]float64{
			CategoryStructuredData:       0.25,
			CategoryContentQuality:       0.30,
			CategoryTechnicalPerformance: 0.25,
			CategoryBusinessContext:      0.20,
		},
		GradeA: 90,
		GradeB: 80,
		GradeC: 70,
		GradeD: 60,
	}
}

// Grade maps a score to a letter grade.
func (s Scoring) Grade(score int) string {
	switch {
	case score >= s.GradeA:
		return "A"
	case score >= s.GradeB:
		return "B"
	case score >= s.GradeC:
		return "C"
	case score >= s.GradeD:
		return "D"
	default:
		return "F"
	}
}

// ValidGrade reports whether g is one of the five letter grades.
func ValidGrade(g string) bool {
	switch g {
	case "A", "B", "C", "D", "F":
		return true
	}
	return false
}

// ClampScore coerces a raw score into the [0,100] integer range.
func ClampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	n := int(math.Round(v))
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// WeightedScore computes the overall score from per-category scores,
// renormalizing the weights over whichever categories are present.
// Returns 0 when no weighted category produced a score.
func (s Scoring) WeightedScore(scores map[string]int) int {
	var sum, weightSum float64
	for category, score := range scores {
		w, ok := s.Weights[category]
		if !ok {
			continue
		}
		sum += float64(score) * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return ClampScore(sum / weightSum)
}

var priorityRank = map[string]int{"High": 0, "Medium": 1, "Low": 2}
var difficultyRank = map[string]int{"Easy": 0, "Medium": 1, "Hard": 2}

func rankOf(m map[string]int, key string) int {
	if r, ok := m[key]; ok {
		return r
	}
	return len(m)
}

// RankRecommendations sorts recommendations by priority (High first)
// then by ease (Easy first) and returns at most limit entries. The
// sort is stable so same-ranked recommendations keep category order.
func RankRecommendations(recs []Recommendation, limit int) []Recommendation {
	ranked := make([]Recommendation, len(recs))
	copy(ranked, recs)
	sort.SliceStable(ranked, func(i, j int) bool {
		pi, pj := rankOf(priorityRank, ranked[i].Priority), rankOf(priorityRank, ranked[j].Priority)
		if pi != pj {
			return pi < pj
		}
		return rankOf(difficultyRank, ranked[i].Difficulty) < rankOf(difficultyRank, ranked[j].Difficulty)
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
