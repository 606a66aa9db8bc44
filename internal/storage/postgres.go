package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/opticrank/siteaudit/internal/assessment"
)

// PostgresStore is the multi-instance-friendly backend, selected when
// a Postgres DSN is configured.
type PostgresStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to the database and ensures the schema exists.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(db),
	}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS assessments (
			id TEXT PRIMARY KEY,
			input_url TEXT NOT NULL,
			url TEXT NOT NULL,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			progress INTEGER NOT NULL DEFAULT 0,
			results_json TEXT,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(status)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			run_after TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			last_error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_run_after ON jobs(status, run_after)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// isUniqueViolation reports a Postgres duplicate-key error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- Assessments ---

func (s *PostgresStore) CreateAssessment(a assessment.Assessment) error {
	now := time.Now().UTC()
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	status := a.Status
	if status == "" {
		status = assessment.StatusPending
	}

	_, err := s.sb.Insert("assessments").
		Columns("id", "input_url", "url", "name", "email", "status", "progress", "error_message", "created_at", "updated_at").
		Values(a.ID, a.InputURL, a.URL, a.Name, a.Email, string(status), a.Progress, "", createdAt, createdAt).
		Exec()
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating assessment %s: %w", a.ID, ErrConflict)
		}
		return fmt.Errorf("inserting assessment %s: %w", a.ID, err)
	}
	return nil
}

var pgAssessmentColumns = []string{
	"id", "input_url", "url", "name", "email", "status", "progress",
	"results_json", "error_message", "created_at", "updated_at", "completed_at",
}

func (s *PostgresStore) GetAssessment(id string) (assessment.Assessment, error) {
	row := s.sb.Select(pgAssessmentColumns...).
		From("assessments").
		Where(sq.Eq{"id": id}).
		QueryRow()

	a, err := scanPGAssessment(row)
	if err == sql.ErrNoRows {
		return assessment.Assessment{}, ErrNotFound
	}
	if err != nil {
		return assessment.Assessment{}, fmt.Errorf("reading assessment %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateProgress(id string, status assessment.Status, progress int) error {
	res, err := s.sb.Update("assessments").
		Set("status", string(status)).
		Set("progress", sq.Expr("GREATEST(progress, ?)", progress)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": []string{"completed", "failed"}}).
		Exec()
	if err != nil {
		return fmt.Errorf("updating progress for %s: %w", id, err)
	}
	return s.checkMutated(res, id)
}

func (s *PostgresStore) CompleteAssessment(id string, results assessment.Results) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshaling results for %s: %w", id, err)
	}
	now := time.Now().UTC()
	res, err := s.sb.Update("assessments").
		Set("status", "completed").
		Set("progress", 100).
		Set("results_json", string(payload)).
		Set("updated_at", now).
		Set("completed_at", now).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": []string{"completed", "failed"}}).
		Exec()
	if err != nil {
		return fmt.Errorf("completing assessment %s: %w", id, err)
	}
	return s.checkMutated(res, id)
}

func (s *PostgresStore) FailAssessment(id string, message string) error {
	res, err := s.sb.Update("assessments").
		Set("status", "failed").
		Set("error_message", message).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": "completed"}).
		Exec()
	if err != nil {
		return fmt.Errorf("failing assessment %s: %w", id, err)
	}
	return s.checkMutated(res, id)
}

func (s *PostgresStore) checkMutated(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.sb.Select("status").From("assessments").Where(sq.Eq{"id": id}).QueryRow().Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking assessment %s: %w", id, err)
	}
	return fmt.Errorf("assessment %s is %s: %w", id, status, ErrTerminal)
}

func (s *PostgresStore) ListAssessments(limit, offset int) ([]assessment.Assessment, error) {
	rows, err := s.sb.Select(pgAssessmentColumns...).
		From("assessments").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		Query()
	if err != nil {
		return nil, fmt.Errorf("listing assessments: %w", err)
	}
	defer rows.Close()
	return collectPGAssessments(rows)
}

func (s *PostgresStore) StaleAssessments(cutoff time.Time) ([]assessment.Assessment, error) {
	rows, err := s.sb.Select(pgAssessmentColumns...).
		From("assessments").
		Where(sq.NotEq{"status": []string{"completed", "failed"}}).
		Where(sq.Lt{"updated_at": cutoff.UTC()}).
		Query()
	if err != nil {
		return nil, fmt.Errorf("querying stale assessments: %w", err)
	}
	defer rows.Close()
	return collectPGAssessments(rows)
}

func scanPGAssessment(row rowScanner) (assessment.Assessment, error) {
	var a assessment.Assessment
	var status string
	var resultsJSON sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&a.ID, &a.InputURL, &a.URL, &a.Name, &a.Email, &status, &a.Progress,
		&resultsJSON, &a.ErrorMessage, &a.CreatedAt, &a.UpdatedAt, &completedAt)
	if err != nil {
		return assessment.Assessment{}, err
	}

	a.Status = assessment.Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	if resultsJSON.Valid && resultsJSON.String != "" {
		var results assessment.Results
		if err := json.Unmarshal([]byte(resultsJSON.String), &results); err != nil {
			return assessment.Assessment{}, fmt.Errorf("unmarshaling results: %w", err)
		}
		a.Results = &results
	}
	return a, nil
}

func collectPGAssessments(rows *sql.Rows) ([]assessment.Assessment, error) {
	var out []assessment.Assessment
	for rows.Next() {
		a, err := scanPGAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Jobs ---

func (s *PostgresStore) EnqueueJob(job Job) error {
	now := time.Now().UTC()
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.sb.Insert("jobs").
		Columns("id", "type", "payload_json", "status", "attempts", "max_attempts", "run_after", "created_at", "updated_at").
		Values(job.ID, job.Type, job.PayloadJSON, "pending", 0, maxAttempts, runAfter, now, now).
		Exec()
	if err != nil {
		return fmt.Errorf("enqueuing job %s: %w", job.ID, err)
	}
	return nil
}

// ClaimNextJob uses FOR UPDATE SKIP LOCKED so multiple worker
// processes can claim jobs without contending.
func (s *PostgresStore) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("id", "type", "payload_json", "status", "attempts", "max_attempts", "run_after", "created_at", "updated_at", "last_error").
		From("jobs").
		Where(sq.Eq{"status": "pending", "type": types}).
		Where(sq.LtOrEq{"run_after": now}).
		OrderBy("run_after ASC", "created_at ASC").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building claim query: %w", err)
	}

	var j Job
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.RunAfter, &j.CreatedAt, &j.UpdatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	if _, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = $1 WHERE id = $2`, now, j.ID); err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	j.UpdatedAt = now
	return &j, nil
}

func (s *PostgresStore) CompleteJob(id string) error {
	res, err := s.sb.Update("jobs").
		Set("status", "completed").
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Exec()
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
			attempts, errMsg, now, id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = $1, last_error = $2, run_after = $3, updated_at = $4 WHERE id = $5`,
			attempts, errMsg, now.Add(backoff), now, id)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}
