// Package parser extracts structured category results from free-form
// model output. Providers answer in natural language with a JSON
// payload embedded somewhere inside; this package finds it, validates
// the required fields, and normalizes scores and grades.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opticrank/siteaudit/internal/assessment"
)

// ParseError reports that no recoverable structure was found in the
// provider's response for a category.
type ParseError struct {
	Category string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s response: %s", e.Category, e.Reason)
}

var requiredFields = []string{"score", "grade", "findings", "recommendations", "summary"}

// Parse extracts a CategoryResult from raw model output. It fails with
// *ParseError when no JSON object can be located or a required field
// is missing; one category's failure never affects the others.
func Parse(raw, category string) (assessment.CategoryResult, error) {
	payload, ok := extractJSON(raw)
	if !ok {
		return assessment.CategoryResult{}, &ParseError{Category: category, Reason: "no JSON object found"}
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return assessment.CategoryResult{}, &ParseError{Category: category, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	for _, f := range requiredFields {
		if _, present := fields[f]; !present {
			return assessment.CategoryResult{}, &ParseError{Category: category, Reason: fmt.Sprintf("missing required field %q", f)}
		}
	}

	return normalize(fields), nil
}

// extractJSON finds a JSON object in the text: the interior of a
// fenced code block first, then the first balanced {...} span.
func extractJSON(raw string) (string, bool) {
	if inner, ok := fencedBlock(raw); ok {
		if span, ok := braceSpan(inner); ok {
			return span, true
		}
	}
	return braceSpan(raw)
}

// fencedBlock returns the interior of the first ``` fence, tolerating
// a language tag on the opening line.
func fencedBlock(raw string) (string, bool) {
	start := strings.Index(raw, "```")
	if start < 0 {
		return "", false
	}
	rest := raw[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop a language tag such as "json" on the fence line.
		tag := strings.TrimSpace(rest[:nl])
		if len(tag) <= 10 && !strings.ContainsAny(tag, "{}") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// braceSpan returns the first balanced {...} span, tracking string
// literals so braces inside quoted values are ignored.
func braceSpan(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

// normalize coerces loosely-typed parsed fields into a CategoryResult:
// score clamped to [0,100], grade re-derived when not a letter grade,
// lists never nil.
func normalize(fields map[string]any) assessment.CategoryResult {
	cr := assessment.CategoryResult{
		Findings:        []string{},
		Recommendations: []assessment.Recommendation{},
	}

	if v, ok := fields["score"].(float64); ok {
		cr.Score = assessment.ClampScore(v)
	}

	scoring := assessment.DefaultScoring()
	if g, ok := fields["grade"].(string); ok && assessment.ValidGrade(g) {
		cr.Grade = g
	} else {
		cr.Grade = scoring.Grade(cr.Score)
	}

	if list, ok := fields["findings"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				cr.Findings = append(cr.Findings, s)
			}
		}
	}

	if list, ok := fields["recommendations"].([]any); ok {
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			cr.Recommendations = append(cr.Recommendations, assessment.Recommendation{
				Title:         stringField(m, "title"),
				Description:   stringField(m, "description"),
				Impact:        stringField(m, "impact"),
				Difficulty:    stringField(m, "difficulty"),
				Priority:      stringField(m, "priority"),
				EstimatedTime: stringField(m, "estimatedTime"),
			})
		}
	}

	if s, ok := fields["summary"].(string); ok {
		cr.Summary = s
	} else {
		cr.Summary = fmt.Sprint(fields["summary"])
	}

	return cr
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
