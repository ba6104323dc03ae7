package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/northcloud/crawlctl/internal/domain"
)

// DLQRepo persists domain.DeadLetterQueue rows (C7) and the 4.16 admin
// resolve/annotate operations.
type DLQRepo struct {
	db *sqlx.DB
}

// Add inserts a DLQ row for a job that exhausted its retry budget or
// failed with a permanent error. ON CONFLICT (job_id) makes a repeated
// call for the same job a no-op, matching "a DLQ row keyed by job_id
// uniquely".
func (r *DLQRepo) Add(ctx context.Context, d *domain.DeadLetterQueue) error {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal dlq payload: %w", err)
	}
	query := `
		INSERT INTO dead_letter_queue (id, job_id, job_type, error_category, error_message, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO NOTHING
		RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query, d.ID, d.JobID, d.JobType, d.Category, d.ErrorMessage, payload).Scan(&d.CreatedAt)
	if err != nil && !isNoRows(err) {
		return fmt.Errorf("store: add dlq entry: %w", err)
	}
	return nil
}

// GetByJobID loads the DLQ entry for a job, if any.
func (r *DLQRepo) GetByJobID(ctx context.Context, jobID uuid.UUID) (*domain.DeadLetterQueue, error) {
	query := `SELECT id, job_id, job_type, error_category, error_message, payload, resolved, resolution_notes, retry_attempted, retry_success, created_at FROM dead_letter_queue WHERE job_id = $1`
	var d domain.DeadLetterQueue
	if err := r.db.GetContext(ctx, &d, query, jobID); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get dlq entry: %w", err)
	}
	return &d, nil
}

// MarkResolved annotates a DLQ entry as resolved with operator notes.
func (r *DLQRepo) MarkResolved(ctx context.Context, id uuid.UUID, notes string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE dead_letter_queue SET resolved = true, resolution_notes = $2 WHERE id = $1`, id, notes)
	if err != nil {
		return fmt.Errorf("store: mark dlq resolved: %w", err)
	}
	return nil
}

// MarkRetryAttempted records that an operator manually retried a DLQ
// entry and whether it succeeded.
func (r *DLQRepo) MarkRetryAttempted(ctx context.Context, id uuid.UUID, success bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE dead_letter_queue SET retry_attempted = true, retry_success = $2 WHERE id = $1`, id, success)
	if err != nil {
		return fmt.Errorf("store: mark dlq retry attempted: %w", err)
	}
	return nil
}

// List returns DLQ entries, optionally filtered to unresolved-only.
func (r *DLQRepo) List(ctx context.Context, unresolvedOnly bool) ([]domain.DeadLetterQueue, error) {
	query := `SELECT id, job_id, job_type, error_category, error_message, payload, resolved, resolution_notes, retry_attempted, retry_success, created_at FROM dead_letter_queue`
	if unresolvedOnly {
		query += ` WHERE resolved = false`
	}
	query += ` ORDER BY created_at DESC`
	var entries []domain.DeadLetterQueue
	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("store: list dlq entries: %w", err)
	}
	return entries, nil
}
