package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/northcloud/crawlctl/internal/domain"
)

const retryPolicySelectColumns = `error_category, is_retryable, strategy, initial_delay_seconds, max_delay_seconds, backoff_multiplier, max_attempts, description, created_at, updated_at`

// RetryPolicyRepo persists domain.RetryPolicy rows (C6), one per
// domain.ErrorCategory. The table is seeded at install by the schema
// migration and mutable afterward via Upsert.
type RetryPolicyRepo struct {
	db *sqlx.DB
}

// GetByCategory loads the policy for category, returning ErrNotFound
// if the table hasn't been seeded for it yet.
func (r *RetryPolicyRepo) GetByCategory(ctx context.Context, category domain.ErrorCategory) (*domain.RetryPolicy, error) {
	query := fmt.Sprintf(`SELECT %s FROM retry_policies WHERE error_category = $1`, retryPolicySelectColumns)
	var p domain.RetryPolicy
	if err := r.db.GetContext(ctx, &p, query, category); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get retry policy: %w", err)
	}
	return &p, nil
}

// List returns every configured retry policy, ordered by category.
func (r *RetryPolicyRepo) List(ctx context.Context) ([]domain.RetryPolicy, error) {
	query := fmt.Sprintf(`SELECT %s FROM retry_policies ORDER BY error_category`, retryPolicySelectColumns)
	var policies []domain.RetryPolicy
	if err := r.db.SelectContext(ctx, &policies, query); err != nil {
		return nil, fmt.Errorf("store: list retry policies: %w", err)
	}
	return policies, nil
}

// Upsert creates or replaces the policy for p.Category, the admin-facing
// mutation path the spec allows for an otherwise install-seeded table.
func (r *RetryPolicyRepo) Upsert(ctx context.Context, p *domain.RetryPolicy) error {
	query := `
		INSERT INTO retry_policies (error_category, is_retryable, strategy, initial_delay_seconds, max_delay_seconds, backoff_multiplier, max_attempts, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (error_category) DO UPDATE SET
			is_retryable = EXCLUDED.is_retryable,
			strategy = EXCLUDED.strategy,
			initial_delay_seconds = EXCLUDED.initial_delay_seconds,
			max_delay_seconds = EXCLUDED.max_delay_seconds,
			backoff_multiplier = EXCLUDED.backoff_multiplier,
			max_attempts = EXCLUDED.max_attempts,
			description = EXCLUDED.description,
			updated_at = now()
		RETURNING created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		p.Category, p.IsRetryable, p.Strategy, p.InitialDelaySec, p.MaxDelaySec, p.BackoffMultiplier, p.MaxAttempts, p.Description,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}
