// Package api exposes the public HTTP surface: assessment intake,
// status polling, result retrieval, and health.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/opticrank/siteaudit/internal/assessment"
	"github.com/opticrank/siteaudit/internal/runner"
	"github.com/opticrank/siteaudit/internal/storage"
)

// estimatedTimeSeconds is the completion estimate reported at intake.
const estimatedTimeSeconds = 90

// Handler serves the assessment API.
type Handler struct {
	store  storage.Store
	logger *slog.Logger
}

func NewHandler(store storage.Store) *Handler {
	return &Handler{store: store, logger: slog.Default()}
}

// Router builds the chi router with all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Post("/assessment/start", h.handleStart)
	r.Get("/assessment/status/{id}", h.handleStatus)
	r.Get("/assessment/results/{id}", h.handleResults)
	r.Get("/assessments", h.handleList)

	return r
}

type errorResponse struct {
	Error        string `json:"error"`
	Details      string `json:"details,omitempty"`
	AssessmentID string `json:"assessmentId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type startResponse struct {
	AssessmentID         string `json:"assessmentId"`
	Status               string `json:"status"`
	EstimatedTimeSeconds int    `json:"estimatedTimeSeconds"`
}

// maxStartBody bounds the intake request body.
const maxStartBody = 64 * 1024

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStartBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)

	if req.URL == "" || req.Name == "" || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "missing required fields",
			Details: "url, name, and email are required",
		})
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid email address",
			Details: req.Email,
		})
		return
	}

	normalized, err := assessment.NormalizeURL(req.URL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid url",
			Details: req.URL,
		})
		return
	}

	a := assessment.Assessment{
		ID:       uuid.NewString(),
		InputURL: req.URL,
		URL:      normalized,
		Name:     req.Name,
		Email:    req.Email,
		Status:   assessment.StatusPending,
	}
	if err := h.store.CreateAssessment(a); err != nil {
		h.logger.Error("creating assessment", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not start assessment"})
		return
	}

	payload, _ := json.Marshal(runner.AnalyzePayload{AssessmentID: a.ID})
	err = h.store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        runner.JobTypeAnalyze,
		PayloadJSON: string(payload),
	})
	if err != nil {
		// The record exists but no job will ever pick it up; fail it
		// rather than leave a forever-pending assessment.
		h.logger.Error("enqueuing analysis job", "assessment", a.ID, "error", err)
		if failErr := h.store.FailAssessment(a.ID, "could not schedule analysis"); failErr != nil {
			h.logger.Error("failing orphaned assessment", "assessment", a.ID, "error", failErr)
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not start assessment"})
		return
	}

	h.logger.Info("assessment started", "assessment", a.ID, "url", a.URL)
	writeJSON(w, http.StatusCreated, startResponse{
		AssessmentID:         a.ID,
		Status:               "started",
		EstimatedTimeSeconds: estimatedTimeSeconds,
	})
}

type statusResponse struct {
	AssessmentID string              `json:"assessmentId"`
	Status       string              `json:"status"`
	Progress     int                 `json:"progress"`
	CurrentStep  string              `json:"currentStep"`
	URL          string              `json:"url"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
	CompletedAt  *time.Time          `json:"completedAt,omitempty"`
	Results      *assessment.Results `json:"results,omitempty"`
	Error        string              `json:"error,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.store.GetAssessment(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "assessment not found", AssessmentID: id})
			return
		}
		h.logger.Error("loading assessment", "assessment", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load assessment"})
		return
	}

	resp := statusResponse{
		AssessmentID: a.ID,
		Status:       string(a.Status),
		Progress:     a.Progress,
		CurrentStep:  currentStep(a.Status, a.Progress),
		URL:          a.URL,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		CompletedAt:  a.CompletedAt,
		Error:        a.ErrorMessage,
	}
	// Polling clients read the finished report from this endpoint.
	if a.Status == assessment.StatusCompleted {
		resp.Results = a.Results
	}
	writeJSON(w, http.StatusOK, resp)
}

// currentStep maps status and progress to a human-readable phase label
// for the polling UI.
func currentStep(status assessment.Status, progress int) string {
	switch status {
	case assessment.StatusPending:
		return "Queued for analysis"
	case assessment.StatusCrawling:
		return "Fetching site content"
	case assessment.StatusAnalyzing:
		if progress < 60 {
			return "Running AI analysis"
		}
		return "Scoring and aggregating results"
	case assessment.StatusCompleted:
		return "Assessment complete"
	case assessment.StatusFailed:
		return "Assessment failed"
	}
	return string(status)
}

type resultsResponse struct {
	AssessmentID         string                    `json:"assessmentId"`
	URL                  string                    `json:"url"`
	CompletedAt          *time.Time                `json:"completedAt"`
	StructuredData       assessment.CategoryResult `json:"structuredData"`
	ContentQuality       assessment.CategoryResult `json:"contentQuality"`
	TechnicalPerformance assessment.CategoryResult `json:"technicalPerformance"`
	BusinessContext      assessment.CategoryResult `json:"businessContext"`
	Overall              assessment.OverallResult  `json:"overall"`
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.store.GetAssessment(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "assessment not found", AssessmentID: id})
			return
		}
		h.logger.Error("loading assessment", "assessment", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load assessment"})
		return
	}

	if a.Status != assessment.StatusCompleted || a.Results == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:        "assessment not completed",
			Details:      "current status: " + string(a.Status),
			AssessmentID: a.ID,
		})
		return
	}

	writeJSON(w, http.StatusOK, resultsResponse{
		AssessmentID:         a.ID,
		URL:                  a.URL,
		CompletedAt:          a.CompletedAt,
		StructuredData:       a.Results.StructuredData,
		ContentQuality:       a.Results.ContentQuality,
		TechnicalPerformance: a.Results.TechnicalPerformance,
		BusinessContext:      a.Results.BusinessContext,
		Overall:              a.Results.Overall,
	})
}

type listItem struct {
	AssessmentID string    `json:"assessmentId"`
	URL          string    `json:"url"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	Score        *int      `json:"score,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	assessments, err := h.store.ListAssessments(limit, offset)
	if err != nil {
		h.logger.Error("listing assessments", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not list assessments"})
		return
	}

	items := make([]listItem, 0, len(assessments))
	for _, a := range assessments {
		item := listItem{
			AssessmentID: a.ID,
			URL:          a.URL,
			Name:         a.Name,
			Email:        a.Email,
			Status:       string(a.Status),
			Progress:     a.Progress,
			CreatedAt:    a.CreatedAt,
		}
		if a.Results != nil {
			score := a.Results.Overall.Score
			item.Score = &score
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{"assessments": items})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
