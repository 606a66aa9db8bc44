package parser

import (
	"errors"
	"testing"

	"github.com/opticrank/siteaudit/internal/assessment"
)

const validJSON = `{
	"score": 82,
	"grade": "B",
	"findings": ["Schema markup present on product pages", "Missing Organization schema"],
	"recommendations": [
		{"title": "Add Organization schema", "description": "Embed JSON-LD on the homepage", "impact": "Better entity recognition", "difficulty": "Easy", "priority": "High", "estimatedTime": "2 hours"}
	],
	"summary": "Solid structured data coverage with a few gaps."
}`

func TestParseFencedBlock(t *testing.T) {
	raw := "Here is the analysis you asked for:\n```json\n" + validJSON + "\n```\nLet me know if you need more detail."

	cr, err := Parse(raw, assessment.CategoryStructuredData)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cr.Score != 82 || cr.Grade != "B" {
		t.Errorf("score/grade = %d/%s, want 82/B", cr.Score, cr.Grade)
	}
	if len(cr.Findings) != 2 {
		t.Errorf("findings = %d, want 2", len(cr.Findings))
	}
	if len(cr.Recommendations) != 1 || cr.Recommendations[0].Priority != "High" {
		t.Errorf("recommendations = %+v", cr.Recommendations)
	}
	if cr.Fallback {
		t.Error("fallback flag set on genuine parse")
	}
}

func TestParseBareBraces(t *testing.T) {
	raw := "The assessment follows. " + validJSON + " End of report."
	cr, err := Parse(raw, assessment.CategoryContentQuality)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cr.Score != 82 {
		t.Errorf("score = %d, want 82", cr.Score)
	}
}

func TestParseBracesInsideStrings(t *testing.T) {
	raw := `{"score": 70, "grade": "C", "findings": ["uses {curly} markers"], "recommendations": [], "summary": "ok"}`
	cr, err := Parse(raw, assessment.CategoryBusinessContext)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cr.Findings[0] != "uses {curly} markers" {
		t.Errorf("finding = %q", cr.Findings[0])
	}
}

func TestParseGarbageFails(t *testing.T) {
	var perr *ParseError
	for _, raw := range []string{"", "no json here at all", "``` still nothing ```", "{ truncated"} {
		_, err := Parse(raw, assessment.CategoryStructuredData)
		if err == nil {
			t.Errorf("Parse(%q) succeeded, want error", raw)
			continue
		}
		if !errors.As(err, &perr) {
			t.Errorf("Parse(%q) error type %T, want *ParseError", raw, err)
		}
	}
}

func TestParseMissingRequiredField(t *testing.T) {
	raw := `{"score": 80, "grade": "B", "findings": [], "summary": "missing recommendations"}`
	if _, err := Parse(raw, assessment.CategoryTechnicalPerformance); err == nil {
		t.Fatal("Parse succeeded with missing recommendations field")
	}
}

func TestParseNormalization(t *testing.T) {
	raw := `{"score": 140.6, "grade": "Z", "findings": "not-a-list", "recommendations": null, "summary": "odd types"}`
	cr, err := Parse(raw, assessment.CategoryStructuredData)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cr.Score != 100 {
		t.Errorf("score = %d, want clamped 100", cr.Score)
	}
	if cr.Grade != "A" {
		t.Errorf("grade = %q, want re-derived A", cr.Grade)
	}
	if cr.Findings == nil || len(cr.Findings) != 0 {
		t.Errorf("findings = %#v, want empty non-nil list", cr.Findings)
	}
	if cr.Recommendations == nil || len(cr.Recommendations) != 0 {
		t.Errorf("recommendations = %#v, want empty non-nil list", cr.Recommendations)
	}
}

func TestFallback(t *testing.T) {
	for _, category := range assessment.Categories() {
		cr := Fallback(category)
		if !cr.Fallback {
			t.Errorf("%s: fallback flag not set", category)
		}
		if cr.Score <= 0 || cr.Score > 100 {
			t.Errorf("%s: score = %d", category, cr.Score)
		}
		if !assessment.ValidGrade(cr.Grade) {
			t.Errorf("%s: grade = %q", category, cr.Grade)
		}
		if len(cr.Findings) == 0 || len(cr.Recommendations) == 0 {
			t.Errorf("%s: fallback must carry at least one finding and recommendation", category)
		}
		if cr.Summary == "" {
			t.Errorf("%s: empty summary", category)
		}
	}
}
