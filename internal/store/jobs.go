package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no job exists for an id.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyTerminal is returned when a job has already left pending.
	ErrAlreadyTerminal = errors.New("job already reached a terminal state")
)

// JobStore persists asynchronous query jobs in the queries table.
type JobStore struct {
	DB *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{DB: db}
}

// CreatePending inserts a new job in the pending state.
func (s *JobStore) CreatePending(ctx context.Context, id string) (*Job, error) {
	query := `INSERT INTO queries (id, status, result) VALUES (?, ?, '')`
	if _, err := s.DB.ExecContext(ctx, query, id, string(JobStatusPending)); err != nil {
		return nil, fmt.Errorf("insert pending job %s: %w", id, err)
	}
	return &Job{ID: id, Status: JobStatusPending}, nil
}

// MarkFinished stores the serialized response of a successful run.
func (s *JobStore) MarkFinished(ctx context.Context, id string, resultJSON string) error {
	return s.finish(ctx, id, JobStatusFinished, resultJSON)
}

// MarkError stores the failure message of a run.
func (s *JobStore) MarkError(ctx context.Context, id string, message string) error {
	return s.finish(ctx, id, JobStatusError, message)
}

// finish performs the single pending -> terminal transition. The status guard
// in the WHERE clause makes a second transition a no-op at the database level.
func (s *JobStore) finish(ctx context.Context, id string, status JobStatus, result string) error {
	query := `UPDATE queries SET status = ?, result = ? WHERE id = ? AND status = ?`
	res, err := s.DB.ExecContext(ctx, query, string(status), result, id, string(JobStatusPending))
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyTerminal
}

// Get returns the job with the given id.
func (s *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT id, status, COALESCE(result, '') FROM queries WHERE id = ?`
	var job Job
	var status string
	err := s.DB.QueryRowContext(ctx, query, id).Scan(&job.ID, &status, &job.Result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select job %s: %w", id, err)
	}
	job.Status = JobStatus(status)
	return &job, nil
}

// FailPending moves every job still pending to error. It is meant for startup,
// when no run from a previous process can finish them anymore.
func (s *JobStore) FailPending(ctx context.Context, message string) (int64, error) {
	query := `UPDATE queries SET status = ?, result = ? WHERE status = ?`
	res, err := s.DB.ExecContext(ctx, query, string(JobStatusError), message, string(JobStatusPending))
	if err != nil {
		return 0, fmt.Errorf("fail pending jobs: %w", err)
	}
	return res.RowsAffected()
}
