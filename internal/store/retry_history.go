package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/northcloud/crawlctl/internal/domain"
)

// RetryHistoryRepo persists domain.RetryHistory rows (C7).
type RetryHistoryRepo struct {
	db *sqlx.DB
}

// Record inserts a RetryHistory row. attempt_number is caller-supplied
// (retry_count + 1) so attempt numbers form the gapless strict prefix
// of ℕ⁺ the spec's invariant requires.
func (r *RetryHistoryRepo) Record(ctx context.Context, jobID uuid.UUID, attemptNum int, category domain.ErrorCategory, errMsg string, delay time.Duration) error {
	query := `
		INSERT INTO retry_history (id, job_id, attempt_number, error_category, error_message, delay_applied)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, jobID, attemptNum, category, errMsg, delay)
	if err != nil {
		return fmt.Errorf("store: record retry history: %w", err)
	}
	return nil
}

// ListForJob returns a job's retry attempts ordered by attempt_number.
func (r *RetryHistoryRepo) ListForJob(ctx context.Context, jobID uuid.UUID) ([]domain.RetryHistory, error) {
	query := `SELECT id, job_id, attempt_number, error_category, error_message, delay_applied, created_at FROM retry_history WHERE job_id = $1 ORDER BY attempt_number`
	var hist []domain.RetryHistory
	if err := r.db.SelectContext(ctx, &hist, query, jobID); err != nil {
		return nil, fmt.Errorf("store: list retry history: %w", err)
	}
	return hist, nil
}
