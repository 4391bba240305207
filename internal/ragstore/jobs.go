package ragstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"manifold/internal/ragerr"
)

func (s *Store) CreateJob(ctx context.Context, j Job) error {
	if j.Payload == nil {
		j.Payload = map[string]any{}
	}
	if j.Result == nil {
		j.Result = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO jobs(job_id, job_type, status, payload, progress, result, error, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,now(),now())`,
		j.JobID, j.JobType, string(j.Status), j.Payload, j.Progress, j.Result, j.Error)
	return ragerr.Wrap(ragerr.TransientExternal, "ragstore.CreateJob", err)
}

func (s *Store) GetJob(ctx context.Context, jobID string) (Job, error) {
	row := s.pool.QueryRow(ctx, `
SELECT job_id, job_type, status, payload, progress, result, error, created_at, updated_at
FROM jobs WHERE job_id=$1`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ragerr.New(ragerr.NotFound, "ragstore.GetJob", err)
	}
	if err != nil {
		return Job{}, ragerr.Wrap(ragerr.TransientExternal, "ragstore.GetJob", err)
	}
	return j, nil
}

// ClaimNextPending is the polling worker's fetch step: SELECT ... FOR UPDATE
// SKIP LOCKED so multiple workers never race on the same job, then marks it
// RUNNING within the same transaction.
func (s *Store) ClaimNextPending(ctx context.Context) (*Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.ClaimNextPending", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
SELECT job_id, job_type, status, payload, progress, result, error, created_at, updated_at
FROM jobs WHERE status='PENDING'
ORDER BY created_at ASC
FOR UPDATE SKIP LOCKED
LIMIT 1`)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.ClaimNextPending.scan", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE jobs SET status='RUNNING', updated_at=now() WHERE job_id=$1`, j.JobID); err != nil {
		return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.ClaimNextPending.markRunning", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.ClaimNextPending.commit", err)
	}
	j.Status = JobRunning
	return &j, nil
}

func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, progress float64, payload map[string]any) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET progress=$2, payload=$3, updated_at=now() WHERE job_id=$1`, jobID, progress, payload)
	return ragerr.Wrap(ragerr.TransientExternal, "ragstore.UpdateJobProgress", err)
}

func (s *Store) FinishJob(ctx context.Context, jobID string, status JobStatus, result map[string]any, errMsg string) error {
	progress := 0.0
	if status == JobDone {
		progress = 100
	}
	_, err := s.pool.Exec(ctx, `
UPDATE jobs SET status=$2, progress=$3, result=$4, error=$5, updated_at=now() WHERE job_id=$1`,
		jobID, string(status), progress, result, errMsg)
	return ragerr.Wrap(ragerr.TransientExternal, "ragstore.FinishJob", err)
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	var status string
	if err := row.Scan(&j.JobID, &j.JobType, &status, &j.Payload, &j.Progress, &j.Result, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return Job{}, err
	}
	j.Status = JobStatus(status)
	return j, nil
}
