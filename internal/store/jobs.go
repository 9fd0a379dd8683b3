package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tms-dashboard/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	batch_id TEXT,
	action_code INTEGER NOT NULL,
	action_name TEXT NOT NULL,
	cluster_url TEXT,
	created_at TIMESTAMP NOT NULL,
	request_payload TEXT,
	response_summary TEXT,
	status TEXT NOT NULL DEFAULT 'IN_PROGRESS',
	http_status INTEGER,
	error_message TEXT,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS job_customers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	cid TEXT NOT NULL,
	UNIQUE(job_id, cid)
);

CREATE TABLE IF NOT EXISTS appstatus_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cid TEXT NOT NULL,
	app_name TEXT NOT NULL,
	status_data TEXT NOT NULL,
	cached_at TIMESTAMP NOT NULL,
	ttl_seconds INTEGER NOT NULL DEFAULT 1800,
	UNIQUE(cid, app_name)
);

CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON jobs(user_id);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_job_customers_job_id ON job_customers(job_id);
CREATE INDEX IF NOT EXISTS idx_appstatus_cache_cid ON appstatus_cache(cid);
CREATE INDEX IF NOT EXISTS idx_appstatus_cache_cid_app ON appstatus_cache(cid, app_name);
`

// JobStore persists jobs and their customer sets in jobs.db. The appstatus
// cache shares the same file; see AppStatusCache.
type JobStore struct {
	db *sql.DB
}

// NewJobStore opens the jobs database and ensures its schema.
func NewJobStore(db *sql.DB) (*JobStore, error) {
	if _, err := db.Exec(jobsSchema); err != nil {
		return nil, fmt.Errorf("init jobs schema: %w", err)
	}
	return &JobStore{db: db}, nil
}

// DB exposes the underlying handle so the appstatus cache can share the file.
func (s *JobStore) DB() *sql.DB { return s.db }

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	UserID          string
	ActionCode      int
	ActionName      string
	CustomerIDs     []string
	ClusterURL      string
	BatchID         string
	RequestPayload  map[string]any
	ResponseSummary string
	InitialStatus   string
}

// CreateJob inserts the job row and one row per customer id as a single
// transaction. Customer ids are deduplicated and sorted before insertion, so
// the stored set is canonical regardless of input order or repeats.
func (s *JobStore) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	if p.InitialStatus == "" {
		p.InitialStatus = models.StatusInProgress
	}
	cids := models.NormalizeCustomerIDs(p.CustomerIDs)

	var payloadJSON *string
	if p.RequestPayload != nil {
		raw, err := json.Marshal(p.RequestPayload)
		if err != nil {
			return models.Job{}, fmt.Errorf("marshal payload: %w", err)
		}
		str := string(raw)
		payloadJSON = &str
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs
		(job_id, user_id, batch_id, action_code, action_name, cluster_url,
		 created_at, request_payload, response_summary, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, p.UserID, emptyToNil(p.BatchID), p.ActionCode, p.ActionName, emptyToNil(p.ClusterURL),
		now, payloadJSON, emptyToNil(p.ResponseSummary), p.InitialStatus, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	for _, cid := range cids {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO job_customers (job_id, cid) VALUES (?, ?)
		`, id, cid); err != nil {
			return models.Job{}, fmt.Errorf("insert job customer %s: %w", cid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Job{}, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		ID:              id,
		UserID:          p.UserID,
		BatchID:         emptyToNil(p.BatchID),
		ActionCode:      p.ActionCode,
		ActionName:      p.ActionName,
		ClusterURL:      emptyToNil(p.ClusterURL),
		Status:          p.InitialStatus,
		RequestPayload:  p.RequestPayload,
		ResponseSummary: emptyToNil(p.ResponseSummary),
		CustomerCount:   len(cids),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// UpdateJobParams carries the partial-update fields for a job. Nil fields are
// left untouched; status and updated_at are always written.
type UpdateJobParams struct {
	Status          string
	HTTPStatus      *int
	ErrorMessage    *string
	ResponseSummary *string
}

// UpdateJob applies a partial update to a job's status and result fields.
func (s *JobStore) UpdateJob(ctx context.Context, jobID string, p UpdateJobParams) error {
	query := `UPDATE jobs SET status = ?, updated_at = ?`
	args := []any{p.Status, time.Now().UTC()}

	if p.HTTPStatus != nil {
		query += `, http_status = ?`
		args = append(args, *p.HTTPStatus)
	}
	if p.ErrorMessage != nil {
		query += `, error_message = ?`
		args = append(args, *p.ErrorMessage)
	}
	if p.ResponseSummary != nil {
		query += `, response_summary = ?`
		args = append(args, *p.ResponseSummary)
	}

	query += ` WHERE job_id = ?`
	args = append(args, jobID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob fetches full details for a job, including its customer count.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT j.job_id, j.user_id, j.batch_id, j.action_code, j.action_name,
		       j.cluster_url, j.created_at, j.request_payload, j.response_summary,
		       j.status, j.http_status, j.error_message, j.updated_at,
		       COUNT(jc.cid) AS customer_count
		FROM jobs j
		LEFT JOIN job_customers jc ON j.job_id = jc.job_id
		WHERE j.job_id = ?
		GROUP BY j.job_id
	`, jobID)

	var job models.Job
	var batchID, clusterURL, payload, summary, errMsg sql.NullString
	var httpStatus sql.NullInt64

	err := row.Scan(&job.ID, &job.UserID, &batchID, &job.ActionCode, &job.ActionName,
		&clusterURL, &job.CreatedAt, &payload, &summary,
		&job.Status, &httpStatus, &errMsg, &job.UpdatedAt, &job.CustomerCount)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job %s: %w", jobID, err)
	}

	job.BatchID = nullStr(batchID)
	job.ClusterURL = nullStr(clusterURL)
	job.ResponseSummary = nullStr(summary)
	job.ErrorMessage = nullStr(errMsg)
	if httpStatus.Valid {
		v := int(httpStatus.Int64)
		job.HTTPStatus = &v
	}
	if payload.Valid && payload.String != "" {
		// Payloads older than the JSON column migration may not parse; keep going.
		_ = json.Unmarshal([]byte(payload.String), &job.RequestPayload)
	}
	return job, nil
}

// GetJobCustomers returns a job's customer ids in lexicographic order.
func (s *JobStore) GetJobCustomers(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cid FROM job_customers WHERE job_id = ? ORDER BY cid
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job customers: %w", err)
	}
	defer rows.Close()

	var cids []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, fmt.Errorf("scan cid: %w", err)
		}
		cids = append(cids, cid)
	}
	return cids, rows.Err()
}

// ListUserJobs returns up to limit jobs for a user, newest first.
func (s *JobStore) ListUserJobs(ctx context.Context, userID string, limit int) ([]models.JobSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT j.job_id, j.user_id, j.action_code, j.action_name, j.cluster_url,
		       j.created_at, j.status, j.http_status, j.error_message,
		       COUNT(jc.cid) AS customer_count
		FROM jobs j
		LEFT JOIN job_customers jc ON j.job_id = jc.job_id
		WHERE j.user_id = ?
		GROUP BY j.job_id
		ORDER BY j.created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query user jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.JobSummary
	for rows.Next() {
		var j models.JobSummary
		var clusterURL, errMsg sql.NullString
		var httpStatus sql.NullInt64
		if err := rows.Scan(&j.ID, &j.UserID, &j.ActionCode, &j.ActionName, &clusterURL,
			&j.CreatedAt, &j.Status, &httpStatus, &errMsg, &j.CustomerCount); err != nil {
			return nil, fmt.Errorf("scan job summary: %w", err)
		}
		j.ClusterURL = nullStr(clusterURL)
		j.ErrorMessage = nullStr(errMsg)
		if httpStatus.Valid {
			v := int(httpStatus.Int64)
			j.HTTPStatus = &v
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nullStr(v sql.NullString) *string {
	if v.Valid {
		return &v.String
	}
	return nil
}
