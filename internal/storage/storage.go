// Package storage persists assessments and the background job queue.
// Two backends implement Store: SQLite (default) and Postgres,
// selected by configuration.
package storage

import (
	"errors"
	"time"

	"github.com/opticrank/siteaudit/internal/assessment"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when creating a record whose id already exists.
	ErrConflict = errors.New("id already exists")
	// ErrTerminal is returned when mutating an assessment that has
	// already reached completed or failed.
	ErrTerminal = errors.New("assessment is terminal")
)

// Job is one queued unit of background work. Failed attempts are
// retried with exponential backoff until MaxAttempts, then the job is
// dead-lettered with status "failed".
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Store is the persistence boundary for the assessment pipeline. It is
// the sole source of truth for assessment status.
type Store interface {
	// CreateAssessment inserts a new pending record. ErrConflict if the
	// id already exists.
	CreateAssessment(a assessment.Assessment) error
	// GetAssessment returns the record or ErrNotFound.
	GetAssessment(id string) (assessment.Assessment, error)
	// UpdateProgress sets status and progress and stamps updated_at.
	// ErrTerminal once the record is completed or failed.
	UpdateProgress(id string, status assessment.Status, progress int) error
	// CompleteAssessment writes the results, stamps completed_at, and
	// sets progress to 100. ErrTerminal if already completed or failed.
	CompleteAssessment(id string, results assessment.Results) error
	// FailAssessment marks the record failed with a message. Idempotent
	// for an already-failed record; ErrTerminal after completion.
	FailAssessment(id string, message string) error
	// ListAssessments returns recent assessments, newest first.
	ListAssessments(limit, offset int) ([]assessment.Assessment, error)
	// StaleAssessments returns non-terminal assessments whose last
	// update is older than the cutoff.
	StaleAssessments(cutoff time.Time) ([]assessment.Assessment, error)

	EnqueueJob(job Job) error
	// ClaimNextJob atomically claims the next runnable job of one of the
	// given types, or returns nil when none is due.
	ClaimNextJob(types []string) (*Job, error)
	CompleteJob(id string) error
	// FailJob records the error and either reschedules with backoff or
	// dead-letters the job once attempts are exhausted.
	FailJob(id string, errMsg string) error

	Close() error
}
