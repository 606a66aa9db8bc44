package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/opticrank/siteaudit/internal/assessment"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newAssessment(id string) assessment.Assessment {
	return assessment.Assessment{
		ID:       id,
		InputURL: "example.com",
		URL:      "https://example.com",
		Name:     "Jane Doe",
		Email:    "jane@example.com",
		Status:   assessment.StatusPending,
	}
}

func sampleResults() assessment.Results {
	r := assessment.Results{}
	for _, category := range assessment.Categories() {
		r.SetCategory(category, assessment.CategoryResult{Score: 80, Grade: "B", Summary: "ok"})
	}
	r.Overall = assessment.OverallResult{Score: 80, Grade: "B", Summary: "overall"}
	return r
}

func TestCreateAndGetAssessment(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateAssessment(newAssessment("a1")); err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}

	got, err := s.GetAssessment("a1")
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if got.Status != assessment.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.Progress != 0 {
		t.Errorf("progress = %d, want 0", got.Progress)
	}
	if got.URL != "https://example.com" || got.InputURL != "example.com" {
		t.Errorf("urls = %q / %q", got.URL, got.InputURL)
	}
	if got.Results != nil {
		t.Error("results should be nil before completion")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestCreateAssessmentConflict(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateAssessment(newAssessment("a1")); err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}
	err := s.CreateAssessment(newAssessment("a1"))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate create = %v, want ErrConflict", err)
	}
}

func TestGetAssessmentNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetAssessment("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateProgressMonotone(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateAssessment(newAssessment("a1")); err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}

	if err := s.UpdateProgress("a1", assessment.StatusAnalyzing, 60); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	// A later, lower report must not move progress backwards.
	if err := s.UpdateProgress("a1", assessment.StatusAnalyzing, 30); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	got, err := s.GetAssessment("a1")
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if got.Progress != 60 {
		t.Errorf("progress = %d, want 60", got.Progress)
	}
	if got.Status != assessment.StatusAnalyzing {
		t.Errorf("status = %q, want analyzing", got.Status)
	}
}

func TestUpdateProgressTerminalRejected(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateAssessment(newAssessment("a1")); err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}
	if err := s.CompleteAssessment("a1", sampleResults()); err != nil {
		t.Fatalf("CompleteAssessment: %v", err)
	}

	err := s.UpdateProgress("a1", assessment.StatusAnalyzing, 50)
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("update after completion = %v, want ErrTerminal", err)
	}

	err = s.UpdateProgress("missing", assessment.StatusAnalyzing, 50)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("update of missing record = %v, want ErrNotFound", err)
	}
}

func TestCompleteAssessment(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateAssessment(newAssessment("a1")); err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}
	if err := s.UpdateProgress("a1", assessment.StatusAnalyzing, 30); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	if err := s.CompleteAssessment("a1", sampleResults()); err != nil {
		t.Fatalf("CompleteAssessment: %v", err)
	}

	got, err := s.GetAssessment("a1")
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if got.Status != assessment.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if got.Results == nil || got.Results.Overall.Score != 80 {
		t.Errorf("results not round-tripped: %+v", got.Results)
	}

	// Completion is one-shot.
	err = s.CompleteAssessment("a1", sampleResults())
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("second completion = %v, want ErrTerminal", err)
	}
}

func TestFailAssessment(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateAssessment(newAssessment("a1")); err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}

	if err := s.FailAssessment("a1", "analysis could not be completed"); err != nil {
		t.Fatalf("FailAssessment: %v", err)
	}
	got, err := s.GetAssessment("a1")
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if got.Status != assessment.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("error_message not set")
	}

	// Failing again is idempotent.
	if err := s.FailAssessment("a1", "second failure"); err != nil {
		t.Errorf("re-fail = %v, want nil", err)
	}

	// A failed record cannot be completed afterwards.
	err = s.CompleteAssessment("a1", sampleResults())
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("complete after fail = %v, want ErrTerminal", err)
	}
}

func TestFailAssessmentCannotResurrectCompleted(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateAssessment(newAssessment("a1")); err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}
	if err := s.CompleteAssessment("a1", sampleResults()); err != nil {
		t.Fatalf("CompleteAssessment: %v", err)
	}

	err := s.FailAssessment("a1", "late failure")
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("fail after completion = %v, want ErrTerminal", err)
	}
	got, _ := s.GetAssessment("a1")
	if got.Status != assessment.StatusCompleted {
		t.Errorf("status = %q, completed record was overwritten", got.Status)
	}
}

func TestListAssessments(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"a1", "a2", "a3"} {
		a := newAssessment(id)
		a.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateAssessment(a); err != nil {
			t.Fatalf("CreateAssessment %s: %v", id, err)
		}
	}

	list, err := s.ListAssessments(2, 0)
	if err != nil {
		t.Fatalf("ListAssessments: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != "a3" || list[1].ID != "a2" {
		t.Errorf("order = %s, %s; want newest first", list[0].ID, list[1].ID)
	}
}

func TestStaleAssessments(t *testing.T) {
	s := openTestStore(t)

	stale := newAssessment("stale")
	stale.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := s.CreateAssessment(stale); err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}
	if err := s.CreateAssessment(newAssessment("fresh")); err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}

	done := newAssessment("done")
	done.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	if err := s.CreateAssessment(done); err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}
	if err := s.CompleteAssessment("done", sampleResults()); err != nil {
		t.Fatalf("CompleteAssessment: %v", err)
	}

	got, err := s.StaleAssessments(time.Now().UTC().Add(-30 * time.Minute))
	if err != nil {
		t.Fatalf("StaleAssessments: %v", err)
	}
	if len(got) != 1 || got[0].ID != "stale" {
		t.Errorf("stale set = %+v, want only %q", got, "stale")
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j1", Type: "analyze_website", PayloadJSON: `{"assessment_id":"a1"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"analyze_website"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed == nil || claimed.ID != "j1" {
		t.Fatalf("claimed = %+v, want j1", claimed)
	}
	if claimed.Status != "running" {
		t.Errorf("status = %q, want running", claimed.Status)
	}

	// A running job cannot be claimed again.
	again, err := s.ClaimNextJob([]string{"analyze_website"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("second claim = %+v, want nil", again)
	}

	if err := s.CompleteJob("j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
}

func TestClaimNextJobFiltersType(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnqueueJob(Job{ID: "j1", Type: "send_email", PayloadJSON: "{}"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"analyze_website"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed = %+v, want nil for unmatched type", claimed)
	}
}

func TestFailJobRetriesWithBackoff(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnqueueJob(Job{ID: "j1", Type: "analyze_website", PayloadJSON: "{}", MaxAttempts: 3}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"analyze_website"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	if err := s.FailJob("j1", "provider timeout"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status string
	var attempts int
	var runAfter string
	err := s.DB().QueryRow(`SELECT status, attempts, run_after FROM jobs WHERE id = 'j1'`).Scan(&status, &attempts, &runAfter)
	if err != nil {
		t.Fatalf("querying job: %v", err)
	}
	if status != "pending" {
		t.Errorf("status = %q, want pending for retry", status)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	due, err := time.Parse(time.RFC3339, runAfter)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !due.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("run_after = %v, want a future backoff", due)
	}

	// Not due yet, so it cannot be claimed.
	claimed, err := s.ClaimNextJob([]string{"analyze_website"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed backed-off job early: %+v", claimed)
	}
}

func TestFailJobDeadLetters(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnqueueJob(Job{ID: "j1", Type: "analyze_website", PayloadJSON: "{}", MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"analyze_website"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	if err := s.FailJob("j1", "fatal error"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status string
	var lastError string
	err := s.DB().QueryRow(`SELECT status, last_error FROM jobs WHERE id = 'j1'`).Scan(&status, &lastError)
	if err != nil {
		t.Fatalf("querying job: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want failed after exhausting attempts", status)
	}
	if lastError != "fatal error" {
		t.Errorf("last_error = %q", lastError)
	}
}
