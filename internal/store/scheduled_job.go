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

// ScheduledJobRepo persists domain.ScheduledJob rows.
type ScheduledJobRepo struct {
	db *sqlx.DB
}

const scheduledJobSelectColumns = `id, website_id, name, cron_expression, timezone, job_config, is_active, next_run_time, last_run_time, created_at, updated_at`

// GetDueJobs returns up to limit active jobs whose next_run_time has
// passed, selected FOR UPDATE SKIP LOCKED — this is the exact query
// C8 polls. The query runs outside a transaction, so the row locks
// last only for the statement and do not keep a second scheduler from
// claiming the same rows afterwards.
func (r *ScheduledJobRepo) GetDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scheduled_jobs
		WHERE is_active AND next_run_time <= $1
		ORDER BY next_run_time
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, scheduledJobSelectColumns)
	var jobs []domain.ScheduledJob
	if err := r.db.SelectContext(ctx, &jobs, query, now, limit); err != nil {
		return nil, fmt.Errorf("store: get due scheduled jobs: %w", err)
	}
	return jobs, nil
}

// UpdateScheduleState advances next_run_time / last_run_time after a
// C8 tick processes a job.
func (r *ScheduledJobRepo) UpdateScheduleState(ctx context.Context, id uuid.UUID, nextRunTime time.Time, lastRunTime *time.Time) error {
	query := `UPDATE scheduled_jobs SET next_run_time = $2, last_run_time = COALESCE($3, last_run_time), updated_at = now() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, nextRunTime, lastRunTime)
	if err != nil {
		return fmt.Errorf("store: update scheduled job state: %w", err)
	}
	return nil
}

// Deactivate flips is_active to false (e.g. the job's website was
// deleted, or its cron expression stopped parsing).
func (r *ScheduledJobRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE scheduled_jobs SET is_active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: deactivate scheduled job: %w", err)
	}
	return nil
}

// BackfillTimezone sets timezone to "UTC" when it is null or empty.
func (r *ScheduledJobRepo) BackfillTimezone(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE scheduled_jobs SET timezone = 'UTC', updated_at = now() WHERE id = $1 AND (timezone IS NULL OR timezone = '')`, id)
	if err != nil {
		return fmt.Errorf("store: backfill scheduled job timezone: %w", err)
	}
	return nil
}

// Create inserts a new ScheduledJob.
func (r *ScheduledJobRepo) Create(ctx context.Context, j *domain.ScheduledJob) error {
	cfg, err := json.Marshal(j.JobConfig)
	if err != nil {
		return fmt.Errorf("store: marshal job config: %w", err)
	}
	query := `
		INSERT INTO scheduled_jobs (id, website_id, name, cron_expression, timezone, job_config, is_active, next_run_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, j.ID, j.WebsiteID, j.Name, j.CronExpression, j.Timezone, cfg, j.IsActive, j.NextRunTime).
		Scan(&j.CreatedAt, &j.UpdatedAt)
}

// ToggleActive flips is_active for a ScheduledJob.
func (r *ScheduledJobRepo) ToggleActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE scheduled_jobs SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("store: toggle scheduled job active: %w", err)
	}
	return nil
}
