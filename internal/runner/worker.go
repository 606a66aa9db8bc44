// Package runner drives the background assessment pipeline: it claims
// queued analysis jobs, walks each assessment through its status
// lifecycle, and hands finished reports to the notifier.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opticrank/siteaudit/internal/assessment"
	"github.com/opticrank/siteaudit/internal/notify"
	"github.com/opticrank/siteaudit/internal/storage"
)

// JobTypeAnalyze is the queue type for website analysis jobs.
const JobTypeAnalyze = "analyze_website"

// AnalyzePayload is the JSON payload of an analyze_website job.
type AnalyzePayload struct {
	AssessmentID string `json:"assessment_id"`
}

// Engine runs the full analysis for one URL.
type Engine interface {
	Run(ctx context.Context, url string) (assessment.Results, error)
}

// Worker polls the job queue and processes analysis jobs one at a
// time. Run several workers for parallelism; the claim is atomic.
type Worker struct {
	store    storage.Store
	engine   Engine
	notifier notify.Notifier
	poll     time.Duration
	pacing   time.Duration
	logger   *slog.Logger
}

func NewWorker(store storage.Store, engine Engine, notifier notify.Notifier, poll, pacing time.Duration) *Worker {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Worker{
		store:    store,
		engine:   engine,
		notifier: notifier,
		poll:     poll,
		pacing:   pacing,
		logger:   slog.Default(),
	}
}

// Run polls until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	for {
		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("job processing error", "error", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a
// job was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeAnalyze})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, job); err != nil {
		return true, err
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	var payload AnalyzePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		// A malformed payload can never succeed; dead-letter immediately.
		msg := fmt.Sprintf("invalid job payload: %v", err)
		if failErr := w.store.FailJob(job.ID, msg); failErr != nil {
			return fmt.Errorf("failing job %s: %w", job.ID, failErr)
		}
		return errors.New(msg)
	}

	a, err := w.store.GetAssessment(payload.AssessmentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			w.logger.Warn("job references unknown assessment", "job", job.ID, "assessment", payload.AssessmentID)
			return w.store.CompleteJob(job.ID)
		}
		return fmt.Errorf("loading assessment %s: %w", payload.AssessmentID, err)
	}

	// A retried job can find the assessment already terminal, for
	// example after a staleness sweep. The job has nothing left to do.
	if a.Status.Terminal() {
		w.logger.Info("assessment already terminal, dropping job",
			"job", job.ID, "assessment", a.ID, "status", a.Status)
		return w.store.CompleteJob(job.ID)
	}

	w.logger.Info("starting assessment", "assessment", a.ID, "url", a.URL)

	if err := w.advance(a.ID, assessment.StatusCrawling, 10); err != nil {
		return w.settleTerminal(job, a.ID, err)
	}
	w.pause(ctx)
	if err := w.advance(a.ID, assessment.StatusAnalyzing, 30); err != nil {
		return w.settleTerminal(job, a.ID, err)
	}

	results, err := w.engine.Run(ctx, a.URL)
	if err != nil {
		return w.failAssessment(job, a.ID, err)
	}

	if err := w.advance(a.ID, assessment.StatusAnalyzing, 90); err != nil {
		return w.settleTerminal(job, a.ID, err)
	}
	w.pause(ctx)

	if err := w.store.CompleteAssessment(a.ID, results); err != nil {
		return w.settleTerminal(job, a.ID, err)
	}

	w.logger.Info("assessment completed", "assessment", a.ID,
		"score", results.Overall.Score, "grade", results.Overall.Grade)

	// Notification problems never affect the stored outcome.
	if err := w.notifier.AssessmentCompleted(ctx, completedEmail(a, results)); err != nil {
		w.logger.Error("notification failed", "assessment", a.ID, "error", err)
	}

	return w.store.CompleteJob(job.ID)
}

func (w *Worker) advance(id string, status assessment.Status, progress int) error {
	return w.store.UpdateProgress(id, status, progress)
}

// settleTerminal handles a mutation rejected because the assessment
// turned terminal underneath the worker. The job is finished either
// way; any other storage error triggers the job retry path.
func (w *Worker) settleTerminal(job *storage.Job, id string, err error) error {
	if errors.Is(err, storage.ErrTerminal) || errors.Is(err, storage.ErrNotFound) {
		w.logger.Warn("assessment changed underneath worker, dropping job",
			"job", job.ID, "assessment", id, "error", err)
		return w.store.CompleteJob(job.ID)
	}
	if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
		return errors.Join(err, failErr)
	}
	return err
}

func (w *Worker) failAssessment(job *storage.Job, id string, cause error) error {
	w.logger.Error("analysis failed", "assessment", id, "error", cause)
	if err := w.store.FailAssessment(id, failureMessage(cause)); err != nil && !errors.Is(err, storage.ErrTerminal) {
		w.logger.Error("marking assessment failed", "assessment", id, "error", err)
	}
	if err := w.store.FailJob(job.ID, cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// failureMessage is the client-visible error, trimmed so internal
// error chains do not leak verbatim into API responses.
func failureMessage(cause error) string {
	msg := cause.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// pause spaces out the visible status transitions.
func (w *Worker) pause(ctx context.Context) {
	if w.pacing <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(w.pacing):
	}
}

func completedEmail(a assessment.Assessment, results assessment.Results) notify.Completed {
	actions := make([]string, 0, len(results.Overall.TopRecommendations))
	for _, rec := range results.Overall.TopRecommendations {
		actions = append(actions, rec.Title)
	}
	return notify.Completed{
		AssessmentID: a.ID,
		URL:          a.URL,
		Name:         a.Name,
		Email:        a.Email,
		Score:        results.Overall.Score,
		Grade:        results.Overall.Grade,
		Summary:      results.Overall.Summary,
		TopActions:   actions,
	}
}

// Sweeper force-fails assessments that stopped making progress, so
// clients polling the status endpoint are not left waiting forever.
type Sweeper struct {
	store      storage.Store
	staleAfter time.Duration
	interval   time.Duration
	logger     *slog.Logger
}

func NewSweeper(store storage.Store, staleAfter, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:      store,
		staleAfter: staleAfter,
		interval:   interval,
		logger:     slog.Default(),
	}
}

// Run sweeps on a fixed interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep fails every assessment whose last update is older than the
// staleness cutoff.
func (s *Sweeper) Sweep() {
	stale, err := s.store.StaleAssessments(time.Now().Add(-s.staleAfter))
	if err != nil {
		s.logger.Error("stale assessment query failed", "error", err)
		return
	}
	for _, a := range stale {
		s.logger.Warn("failing stale assessment", "assessment", a.ID, "status", a.Status, "updated_at", a.UpdatedAt)
		if err := s.store.FailAssessment(a.ID, "assessment timed out"); err != nil && !errors.Is(err, storage.ErrTerminal) {
			s.logger.Error("failing stale assessment", "assessment", a.ID, "error", err)
		}
	}
}
