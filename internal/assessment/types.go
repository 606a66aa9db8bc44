package assessment

import (
	"errors"
	"time"
)

// ErrInvalidURL is returned when a submitted URL cannot be normalized
// into a usable http(s) address.
var ErrInvalidURL = errors.New("invalid url")

// Status is the lifecycle state of an assessment. Transitions are
// forward-only; completed and failed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCrawling  Status = "crawling"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// The four fixed analysis categories.
const (
	CategoryStructuredData       = "structuredData"
	CategoryContentQuality       = "contentQuality"
	CategoryTechnicalPerformance = "technicalPerformance"
	CategoryBusinessContext      = "businessContext"
)

// Categories returns the analysis categories in canonical order.
func Categories() []string {
	return []string{
		CategoryStructuredData,
		CategoryContentQuality,
		CategoryTechnicalPerformance,
		CategoryBusinessContext,
	}
}

// Recommendation is a single actionable improvement surfaced by the
// analysis of one category.
type Recommendation struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Impact        string `json:"impact"`
	Difficulty    string `json:"difficulty"` // Easy, Medium, Hard
	Priority      string `json:"priority"`   // High, Medium, Low
	EstimatedTime string `json:"estimatedTime"`
}

// CategoryResult is the scored outcome for one analysis category.
// Fallback marks synthetic content substituted when the provider's
// response could not be parsed or the provider was unreachable.
type CategoryResult struct {
	Score           int              `json:"score"`
	Grade           string           `json:"grade"`
	Findings        []string         `json:"findings"`
	Recommendations []Recommendation `json:"recommendations"`
	Summary         string           `json:"summary"`
	Fallback        bool             `json:"fallback,omitempty"`
}

// Insight is a derived observation about the overall assessment.
type Insight struct {
	Type        string `json:"type"` // positive, opportunity, action
	Title       string `json:"title"`
	Description string `json:"description"`
}

// OverallResult aggregates the four category results.
type OverallResult struct {
	Score                  int              `json:"score"`
	Grade                  string           `json:"grade"`
	Insights               []Insight        `json:"insights"`
	TopRecommendations     []Recommendation `json:"topRecommendations"`
	CompetitivePositioning string           `json:"competitivePositioning"`
	NextSteps              []string         `json:"nextSteps"`
	Summary                string           `json:"summary"`
	EstimatedImpact        string           `json:"estimatedImpact"`
}

// Results is the complete payload of a finished assessment.
type Results struct {
	StructuredData       CategoryResult `json:"structuredData"`
	ContentQuality       CategoryResult `json:"contentQuality"`
	TechnicalPerformance CategoryResult `json:"technicalPerformance"`
	BusinessContext      CategoryResult `json:"businessContext"`
	Overall              OverallResult  `json:"overall"`
}

// Category returns the result for the named category. Unknown names
// return the zero value.
func (r Results) Category(name string) CategoryResult {
	switch name {
	case CategoryStructuredData:
		return r.StructuredData
	case CategoryContentQuality:
		return r.ContentQuality
	case CategoryTechnicalPerformance:
		return r.TechnicalPerformance
	case CategoryBusinessContext:
		return r.BusinessContext
	}
	return CategoryResult{}
}

// SetCategory stores the result for the named category.
func (r *Results) SetCategory(name string, cr CategoryResult) {
	switch name {
	case CategoryStructuredData:
		r.StructuredData = cr
	case CategoryContentQuality:
		r.ContentQuality = cr
	case CategoryTechnicalPerformance:
		r.TechnicalPerformance = cr
	case CategoryBusinessContext:
		r.BusinessContext = cr
	}
}

// Assessment is one end-to-end audit request for a URL. The id doubles
// as the bearer token for result retrieval, so it must be generated
// with enough entropy to be unguessable.
type Assessment struct {
	ID           string
	InputURL     string // as submitted, kept for display
	URL          string // normalized: https default, leading www. stripped
	Name         string
	Email        string
	Status       Status
	Progress     int
	Results      *Results
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}
