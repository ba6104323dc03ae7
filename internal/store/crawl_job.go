package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/northcloud/crawlctl/internal/domain"
)

// CrawlJobRepo persists domain.CrawlJob rows, the unit of work the
// Worker Loop (C10) consumes and the Retry Handler (C7) resubmits.
type CrawlJobRepo struct {
	db *sqlx.DB
}

const crawlJobInsertColumns = `id, website_id, scheduled_job_id, status, priority, config, retry_count, max_retries, progress`

const crawlJobSelectColumns = `id, website_id, scheduled_job_id, status, priority, config, retry_count, max_retries, progress, error_message, started_at, completed_at, created_at, updated_at`

// Create inserts a new CrawlJob.
func (r *CrawlJobRepo) Create(ctx context.Context, j *domain.CrawlJob) error {
	cfg, err := json.Marshal(j.Config)
	if err != nil {
		return fmt.Errorf("store: marshal crawl job config: %w", err)
	}
	progress, err := json.Marshal(j.Progress)
	if err != nil {
		return fmt.Errorf("store: marshal crawl job progress: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO crawl_jobs (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`, crawlJobInsertColumns)
	return r.db.QueryRowContext(ctx, query,
		j.ID, j.WebsiteID, j.ScheduledJobID, j.Status, j.Priority, cfg, j.RetryCount, j.MaxRetries, progress,
	).Scan(&j.CreatedAt, &j.UpdatedAt)
}

// GetByID loads a CrawlJob by id.
func (r *CrawlJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.CrawlJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM crawl_jobs WHERE id = $1`, crawlJobSelectColumns)
	var j domain.CrawlJob
	if err := r.db.GetContext(ctx, &j, query, id); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get crawl job: %w", err)
	}
	return &j, nil
}

// TransitionTo sets status and, for the running/processing transition,
// started_at; for terminal transitions, completed_at. It is a no-op if
// the job is already in a terminal state, giving C10/C7 their
// idempotent-redelivery guard "for free" at the data layer.
func (r *CrawlJobRepo) TransitionTo(ctx context.Context, id uuid.UUID, status domain.JobStatus, errMsg *string) error {
	var query string
	var args []any

	switch status {
	case domain.JobStatusProcessing:
		query = `
			UPDATE crawl_jobs SET status = $2, started_at = now(), updated_at = now()
			WHERE id = $1 AND status NOT IN ('completed', 'cancelled', 'failed')`
		args = []any{id, status}
	case domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled:
		query = `
			UPDATE crawl_jobs SET status = $2, error_message = $3, completed_at = now(), updated_at = now()
			WHERE id = $1 AND status NOT IN ('completed', 'cancelled', 'failed')`
		args = []any{id, status, errMsg}
	default:
		query = `UPDATE crawl_jobs SET status = $2, updated_at = now() WHERE id = $1`
		args = []any{id, status}
	}

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: transition crawl job status: %w", err)
	}
	return nil
}

// ResetForRetry clears started_at/completed_at, sets status=pending,
// and increments retry_count — the write C7's handle_failure performs
// before re-enqueuing.
func (r *CrawlJobRepo) ResetForRetry(ctx context.Context, id uuid.UUID) (newRetryCount int, err error) {
	query := `
		UPDATE crawl_jobs
		SET status = 'pending', started_at = NULL, completed_at = NULL,
		    retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING retry_count`
	err = r.db.QueryRowContext(ctx, query, id).Scan(&newRetryCount)
	if err != nil {
		return 0, fmt.Errorf("store: reset crawl job for retry: %w", err)
	}
	return newRetryCount, nil
}

// UpdateProgress merges progress into the stored progress JSON column.
func (r *CrawlJobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, progress domain.JSONMap) error {
	b, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("store: marshal progress: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `UPDATE crawl_jobs SET progress = progress || $2::jsonb, updated_at = now() WHERE id = $1`, id, b)
	if err != nil {
		return fmt.Errorf("store: update crawl job progress: %w", err)
	}
	return nil
}

// LastRetryAttemptedAt returns the attempted_at of a job's last
// RetryHistory row, used by C7's add_to_dlq to compute last_attempt_at.
func (r *CrawlJobRepo) LastRetryAttemptedAt(ctx context.Context, jobID uuid.UUID) (time.Time, bool, error) {
	var t time.Time
	err := r.db.GetContext(ctx, &t, `SELECT created_at FROM retry_history WHERE job_id = $1 ORDER BY attempt_number DESC LIMIT 1`, jobID)
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("store: last retry attempt: %w", err)
	}
	return t, true, nil
}
