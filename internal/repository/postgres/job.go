package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/repository"
)

type jobRepository struct {
	BaseRepository
}

func NewJobRepository(base BaseRepository) repository.JobRepository {
	return &jobRepository{base}
}

func (r *jobRepository) Enqueue(ctx context.Context, job *model.QueueJob) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if len(job.Payload) == 0 {
		return fmt.Errorf("job payload cannot be empty")
	}

	job.ID = uuid.New()
	job.Status = model.JobStatusPending
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	if job.RunAt.IsZero() {
		job.RunAt = job.CreatedAt
	}

	query := `
		INSERT INTO queue_jobs (
			id, job_type, payload, status, priority, attempts, max_attempts,
			run_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.JobType,
		job.Payload,
		job.Status,
		job.Priority,
		job.MaxAttempts,
		job.RunAt,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Claim moves due jobs to active in a single statement. SKIP LOCKED keeps
// concurrent claimers from blocking on or double-claiming the same rows.
func (r *jobRepository) Claim(ctx context.Context, jobType model.JobType, limit int) ([]*model.QueueJob, error) {
	query := `
		UPDATE queue_jobs
		SET status = 'active', attempts = attempts + 1,
			started_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id
			FROM queue_jobs
			WHERE job_type = $1
			AND status IN ('pending', 'retry')
			AND run_at <= NOW()
			ORDER BY priority DESC, run_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING id, job_type, payload, status, priority, attempts,
			max_attempts, run_at, last_error, created_at, updated_at,
			started_at, finished_at
	`
	var jobs []*model.QueueJob
	if err := r.db.SelectContext(ctx, &jobs, query, jobType, limit); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	return jobs, nil
}

func (r *jobRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE queue_jobs
		SET status = 'completed', finished_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

func (r *jobRepository) MarkRetry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	query := `
		UPDATE queue_jobs
		SET status = 'retry', run_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, runAt, lastError); err != nil {
		return fmt.Errorf("failed to mark job for retry: %w", err)
	}
	return nil
}

// MarkFailed parks the job for operator inspection; failed rows are never
// deleted by the queue itself.
func (r *jobRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `
		UPDATE queue_jobs
		SET status = 'failed', last_error = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, lastError); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// RequeueStuck returns crashed workers' jobs to the pending pool. This is the
// at-least-once redelivery path; handlers are expected to tolerate it.
func (r *jobRepository) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE queue_jobs
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'active'
		AND started_at < NOW() - ($1 * INTERVAL '1 second')
	`
	result, err := r.db.ExecContext(ctx, query, int64(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck jobs: %w", err)
	}
	return result.RowsAffected()
}

func (r *jobRepository) Depth(ctx context.Context, jobType model.JobType) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM queue_jobs
		WHERE job_type = $1 AND status IN ('pending', 'retry', 'active')
	`
	var depth int64
	if err := r.db.GetContext(ctx, &depth, query, jobType); err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return depth, nil
}

func (r *jobRepository) ListRepeatable(ctx context.Context) ([]*model.RepeatableJob, error) {
	query := `
		SELECT key, schedule, timezone, next_run_at, created_at, updated_at
		FROM repeatable_jobs
		ORDER BY key
	`
	var jobs []*model.RepeatableJob
	if err := r.db.SelectContext(ctx, &jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list repeatable jobs: %w", err)
	}
	return jobs, nil
}

func (r *jobRepository) UpsertRepeatable(ctx context.Context, job *model.RepeatableJob) error {
	query := `
		INSERT INTO repeatable_jobs (key, schedule, timezone, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (key) DO UPDATE
		SET schedule = EXCLUDED.schedule,
			timezone = EXCLUDED.timezone,
			next_run_at = EXCLUDED.next_run_at,
			updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, job.Key, job.Schedule, job.Timezone, job.NextRunAt); err != nil {
		return fmt.Errorf("failed to upsert repeatable job: %w", err)
	}
	return nil
}

func (r *jobRepository) DeleteRepeatable(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM repeatable_jobs WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete repeatable job: %w", err)
	}
	return nil
}

// ClaimDueRepeatable locks due schedules, advances their next_run_at via the
// supplied callback and returns the claimed rows. Row locking guarantees one
// firing per tick even with several schedulers running.
func (r *jobRepository) ClaimDueRepeatable(ctx context.Context, now time.Time, advance func(*model.RepeatableJob) time.Time) ([]*model.RepeatableJob, error) {
	var claimed []*model.RepeatableJob

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			SELECT key, schedule, timezone, next_run_at, created_at, updated_at
			FROM repeatable_jobs
			WHERE next_run_at <= $1
			ORDER BY next_run_at ASC
			FOR UPDATE SKIP LOCKED
		`
		var due []*model.RepeatableJob
		if err := tx.SelectContext(ctx, &due, query, now); err != nil {
			return fmt.Errorf("failed to select due repeatable jobs: %w", err)
		}

		for _, job := range due {
			next := advance(job)
			if _, err := tx.ExecContext(ctx,
				`UPDATE repeatable_jobs SET next_run_at = $2, updated_at = NOW() WHERE key = $1`,
				job.Key, next,
			); err != nil {
				return fmt.Errorf("failed to advance repeatable job %s: %w", job.Key, err)
			}
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
