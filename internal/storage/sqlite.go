package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opticrank/siteaudit/internal/assessment"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the default single-file backend.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the database in dataDir and runs
// pending migrations. Pass ":memory:" for an in-memory database (used
// by tests).
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "siteaudit.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// --- Assessments ---

func (s *SQLiteStore) CreateAssessment(a assessment.Assessment) error {
	now := time.Now().UTC()
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	status := a.Status
	if status == "" {
		status = assessment.StatusPending
	}

	_, err := s.db.Exec(`
		INSERT INTO assessments (id, input_url, url, name, email, status, progress, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		a.ID, a.InputURL, a.URL, a.Name, a.Email, string(status), a.Progress,
		createdAt.Format(time.RFC3339), createdAt.Format(time.RFC3339),
	)
	if err != nil {
		var exists int
		if s.db.QueryRow("SELECT COUNT(*) FROM assessments WHERE id = ?", a.ID).Scan(&exists) == nil && exists > 0 {
			return fmt.Errorf("creating assessment %s: %w", a.ID, ErrConflict)
		}
		return fmt.Errorf("inserting assessment %s: %w", a.ID, err)
	}
	return nil
}

const assessmentColumns = `id, input_url, url, name, email, status, progress, results_json, error_message, created_at, updated_at, completed_at`

func (s *SQLiteStore) GetAssessment(id string) (assessment.Assessment, error) {
	row := s.db.QueryRow(`SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, id)
	a, err := scanAssessment(row)
	if err == sql.ErrNoRows {
		return assessment.Assessment{}, ErrNotFound
	}
	if err != nil {
		return assessment.Assessment{}, fmt.Errorf("reading assessment %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) UpdateProgress(id string, status assessment.Status, progress int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	// Progress never decreases while the assessment is live.
	res, err := s.db.Exec(`
		UPDATE assessments
		SET status = ?, progress = MAX(progress, ?), updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		string(status), progress, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating progress for %s: %w", id, err)
	}
	return s.checkMutated(res, id)
}

func (s *SQLiteStore) CompleteAssessment(id string, results assessment.Results) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshaling results for %s: %w", id, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE assessments
		SET status = 'completed', progress = 100, results_json = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		string(payload), now, now, id,
	)
	if err != nil {
		return fmt.Errorf("completing assessment %s: %w", id, err)
	}
	return s.checkMutated(res, id)
}

func (s *SQLiteStore) FailAssessment(id string, message string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	// Re-failing an already-failed record is a no-op update, which keeps
	// Fail idempotent; a completed record must never be resurrected.
	res, err := s.db.Exec(`
		UPDATE assessments
		SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status != 'completed'`,
		message, now, id,
	)
	if err != nil {
		return fmt.Errorf("failing assessment %s: %w", id, err)
	}
	return s.checkMutated(res, id)
}

// checkMutated translates a zero-row update into ErrNotFound or
// ErrTerminal depending on whether the record exists.
func (s *SQLiteStore) checkMutated(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRow("SELECT status FROM assessments WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking assessment %s: %w", id, err)
	}
	return fmt.Errorf("assessment %s is %s: %w", id, status, ErrTerminal)
}

func (s *SQLiteStore) ListAssessments(limit, offset int) ([]assessment.Assessment, error) {
	rows, err := s.db.Query(`
		SELECT `+assessmentColumns+` FROM assessments
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing assessments: %w", err)
	}
	defer rows.Close()
	return collectAssessments(rows)
}

func (s *SQLiteStore) StaleAssessments(cutoff time.Time) ([]assessment.Assessment, error) {
	rows, err := s.db.Query(`
		SELECT `+assessmentColumns+` FROM assessments
		WHERE status NOT IN ('completed', 'failed') AND updated_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying stale assessments: %w", err)
	}
	defer rows.Close()
	return collectAssessments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (assessment.Assessment, error) {
	var a assessment.Assessment
	var status, createdAt, updatedAt string
	var resultsJSON, completedAt sql.NullString

	err := row.Scan(&a.ID, &a.InputURL, &a.URL, &a.Name, &a.Email, &status, &a.Progress,
		&resultsJSON, &a.ErrorMessage, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return assessment.Assessment{}, err
	}

	a.Status = assessment.Status(status)
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return assessment.Assessment{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return assessment.Assessment{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return assessment.Assessment{}, fmt.Errorf("parsing completed_at: %w", err)
		}
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

func collectAssessments(rows *sql.Rows) ([]assessment.Assessment, error) {
	var out []assessment.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Jobs ---

func (s *SQLiteStore) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	if err != nil {
		return fmt.Errorf("enqueuing job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *SQLiteStore) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
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

func (s *SQLiteStore) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}
