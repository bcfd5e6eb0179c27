package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"extraction-worker/internal/models"
)

// JobStore implements queue.JobStore on Postgres. The pick is one
// conditional UPDATE over a SKIP LOCKED subselect, so concurrent pickers
// against the same queue never share a job.
type JobStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func (s *JobStore) PushJob(ctx context.Context, queue, name, namespace string, params json.RawMessage, opts models.JobOptions) (string, error) {
	id := uuid.NewString()
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, queue, name, namespace, params, lock_window, locked_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
	`, id, queue, name, namespace, params, opts.LockWindow.Milliseconds(), s.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

func (s *JobStore) PickJob(ctx context.Context, queue string) (*models.Job, error) {
	now := s.now().UnixMilli()
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET locked_until = $2 + lock_window
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1 AND locked_until <= $2
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, queue, name, namespace, params, lock_window, locked_until, created_at
	`, queue, now)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick job: %w", err)
	}
	return job, nil
}

func (s *JobStore) RenewJobLock(ctx context.Context, job *models.Job) error {
	lockedUntil := s.now().Add(job.Options.LockWindow).UnixMilli()
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET locked_until = $2 WHERE id = $1`, job.ID, lockedUntil)
	if err != nil {
		return fmt.Errorf("renew job lock: %w", err)
	}
	job.LockedUntil = lockedUntil
	return nil
}

func (s *JobStore) DeleteJob(ctx context.Context, job *models.Job) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, job.ID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	var lockWindowMillis int64
	var params []byte
	if err := row.Scan(&job.ID, &job.Queue, &job.Name, &job.Namespace, &params, &lockWindowMillis, &job.LockedUntil, &job.CreatedAt); err != nil {
		return nil, err
	}
	job.Params = params
	job.Options.LockWindow = time.Duration(lockWindowMillis) * time.Millisecond
	return &job, nil
}
