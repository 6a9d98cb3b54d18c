// Package store provides persistent storage for filter snapshots and band
// depth jobs using SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/trackviz/server/internal/model"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a snapshot or job does not exist.
var ErrNotFound = errors.New("not found")

// JobStatus represents the current state of a depth job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job in this status will not change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// DepthJobParams selects the curves and attributes of a depth job.
type DepthJobParams struct {
	DatasetID string `json:"dataset_id"`
	DepthKey  string `json:"depth_key"`
	ValueKey  string `json:"value_key"`
	// Brushed restricts the job to the curves in brush when it starts.
	Brushed bool `json:"brushed"`
}

// DepthJob is a band depth computation.
type DepthJob struct {
	ID         string         `json:"job_id"`
	DatasetID  string         `json:"dataset_id"`
	Status     JobStatus      `json:"status"`
	Params     DepthJobParams `json:"params"`
	Curves     int            `json:"curves"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// CurveDepth is one curve's result.
type CurveDepth struct {
	CurveID string  `json:"curve_id"`
	Depth   float64 `json:"depth"`
}

// Snapshot is a named set of brushes saved from a dataset.
type Snapshot struct {
	ID        string             `json:"snapshot_id"`
	DatasetID string             `json:"dataset_id"`
	Name      string             `json:"name"`
	Filters   []model.DataFilter `json:"filters"`
	CreatedAt time.Time          `json:"created_at"`
}

// Store persists snapshots and depth jobs.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (creating if needed) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS filter_snapshots (
		snapshot_id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		name TEXT NOT NULL,
		filters_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_filter_snapshots_dataset ON filter_snapshots(dataset_id);

	CREATE TABLE IF NOT EXISTS depth_jobs (
		job_id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		curves INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_depth_jobs_dataset ON depth_jobs(dataset_id);
	CREATE INDEX IF NOT EXISTS idx_depth_jobs_status ON depth_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_depth_jobs_finished ON depth_jobs(finished_at);

	CREATE TABLE IF NOT EXISTS depth_results (
		job_id TEXT NOT NULL,
		curve_id TEXT NOT NULL,
		depth REAL NOT NULL,
		PRIMARY KEY (job_id, curve_id),
		FOREIGN KEY (job_id) REFERENCES depth_jobs(job_id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveSnapshot inserts snap.
func (s *Store) SaveSnapshot(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtersJSON, err := json.Marshal(snap.Filters)
	if err != nil {
		return fmt.Errorf("failed to marshal filters: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO filter_snapshots (snapshot_id, dataset_id, name, filters_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, snap.ID, snap.DatasetID, snap.Name, string(filtersJSON), snap.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// GetSnapshot retrieves a snapshot of datasetID by ID.
func (s *Store) GetSnapshot(datasetID, snapshotID string) (*Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT snapshot_id, dataset_id, name, filters_json, created_at
		FROM filter_snapshots WHERE dataset_id = ? AND snapshot_id = ?
	`, datasetID, snapshotID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", snapshotID, ErrNotFound)
	}
	return snap, err
}

// ListSnapshots returns datasetID's snapshots, newest first.
func (s *Store) ListSnapshots(datasetID string) ([]*Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT snapshot_id, dataset_id, name, filters_json, created_at
		FROM filter_snapshots WHERE dataset_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes a snapshot.
func (s *Store) DeleteSnapshot(datasetID, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM filter_snapshots WHERE dataset_id = ? AND snapshot_id = ?", datasetID, snapshotID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("snapshot %s: %w", snapshotID, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var snap Snapshot
	var filtersJSON, createdAtStr string
	if err := row.Scan(&snap.ID, &snap.DatasetID, &snap.Name, &filtersJSON, &createdAtStr); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(filtersJSON), &snap.Filters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal filters: %w", err)
	}
	snap.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	return &snap, nil
}

// CreateJob creates a new job record with status=queued.
func (s *Store) CreateJob(job *DepthJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO depth_jobs (job_id, dataset_id, status, params_json, curves, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.Params.DatasetID,
		string(job.Status),
		string(paramsJSON),
		job.Curves,
		job.Error,
		job.CreatedAt.UTC().Format(time.RFC3339),
		nil,
		nil,
	)
	return err
}

const jobColumns = `job_id, dataset_id, status, params_json, curves, error, created_at, started_at, finished_at`

// GetJob retrieves a job by ID.
func (s *Store) GetJob(jobID string) (*DepthJob, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM depth_jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, err
}

// UpdateJobStatus updates the job status and error message. Terminal
// statuses also set the finish time.
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status.Terminal() {
		t := time.Now().UTC().Format(time.RFC3339)
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE depth_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// UpdateJobStarted marks a job as running with start time.
func (s *Store) UpdateJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE depth_jobs SET status = ?, started_at = ?
		WHERE job_id = ?
	`, string(JobStatusRunning), now, jobID)
	return err
}

// UpdateJobCurves records how many curves a job covers.
func (s *Store) UpdateJobCurves(jobID string, curves int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE depth_jobs SET curves = ? WHERE job_id = ?`, curves, jobID)
	return err
}

// InsertResults stores per-curve depths in one transaction.
func (s *Store) InsertResults(jobID string, results []CurveDepth) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO depth_results (job_id, curve_id, depth) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.Exec(jobID, r.CurveID, r.Depth); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// QueryResults returns a job's depths, deepest first.
func (s *Store) QueryResults(jobID string, offset, limit int) ([]CurveDepth, int, error) {
	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM depth_results WHERE job_id = ?", jobID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = total
	}

	rows, err := s.db.Query(`
		SELECT curve_id, depth FROM depth_results
		WHERE job_id = ?
		ORDER BY depth DESC, curve_id ASC
		LIMIT ? OFFSET ?
	`, jobID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []CurveDepth
	for rows.Next() {
		var r CurveDepth
		if err := rows.Scan(&r.CurveID, &r.Depth); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// ListJobsByDataset returns all jobs for a dataset, newest first.
func (s *Store) ListJobsByDataset(datasetID string) ([]*DepthJob, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM depth_jobs WHERE dataset_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListQueuedJobs returns all queued jobs (for restart recovery).
func (s *Store) ListQueuedJobs() ([]*DepthJob, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM depth_jobs WHERE status = ?
		ORDER BY created_at ASC, rowid ASC
	`, string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// MarkRunningAsFailed marks all running jobs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE depth_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(JobStatusFailed), errMsg, now, string(JobStatusRunning))
	return err
}

// DeleteExpiredJobs deletes jobs that finished more than retention ago.
func (s *Store) DeleteExpiredJobs(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339)

	_, err := s.db.Exec(`
		DELETE FROM depth_results WHERE job_id IN (
			SELECT job_id FROM depth_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`
		DELETE FROM depth_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteJob deletes a job and its results.
func (s *Store) DeleteJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM depth_results WHERE job_id = ?", jobID); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM depth_jobs WHERE job_id = ?", jobID)
	return err
}

func scanJobs(rows *sql.Rows) ([]*DepthJob, error) {
	var jobs []*DepthJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row scanner) (*DepthJob, error) {
	var job DepthJob
	var paramsJSON string
	var createdAtStr string
	var startedAtStr, finishedAtStr sql.NullString

	err := row.Scan(
		&job.ID,
		&job.DatasetID,
		&job.Status,
		&paramsJSON,
		&job.Curves,
		&job.Error,
		&createdAtStr,
		&startedAtStr,
		&finishedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}

	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	if startedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, startedAtStr.String)
		job.StartedAt = &t
	}
	if finishedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
		job.FinishedAt = &t
	}
	return &job, nil
}
