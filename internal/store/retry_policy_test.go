package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/crawlctl/internal/domain"
	"github.com/northcloud/crawlctl/internal/store"
)

func TestRetryPolicyRepo_GetByCategory_NotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM retry_policies WHERE error_category = \$1`).
		WithArgs(domain.ErrorCategoryUnknown).
		WillReturnError(sql.ErrNoRows)

	_, err := st.RetryPolicies.GetByCategory(context.Background(), domain.ErrorCategoryUnknown)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetryPolicyRepo_GetByCategory_Found(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"error_category", "is_retryable", "strategy", "initial_delay_seconds",
		"max_delay_seconds", "backoff_multiplier", "max_attempts", "description",
		"created_at", "updated_at",
	}).AddRow(domain.ErrorCategoryRateLimit, true, domain.RetryStrategyExponential, 30, 1800, 2.0, 5, "rate limited", now, now)

	mock.ExpectQuery(`SELECT .* FROM retry_policies WHERE error_category = \$1`).
		WithArgs(domain.ErrorCategoryRateLimit).
		WillReturnRows(rows)

	p, err := st.RetryPolicies.GetByCategory(context.Background(), domain.ErrorCategoryRateLimit)
	require.NoError(t, err)
	require.True(t, p.IsRetryable)
	require.Equal(t, 5, p.MaxAttempts)
}

func TestRetryPolicyRepo_List(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"error_category", "is_retryable", "strategy", "initial_delay_seconds",
		"max_delay_seconds", "backoff_multiplier", "max_attempts", "description",
		"created_at", "updated_at",
	}).
		AddRow(domain.ErrorCategoryAuthError, false, domain.RetryStrategyFixed, 0, 0, 1.0, 0, "never retryable", now, now).
		AddRow(domain.ErrorCategoryTimeout, true, domain.RetryStrategyExponential, 5, 900, 2.0, 3, "transient", now, now)

	mock.ExpectQuery(`SELECT .* FROM retry_policies ORDER BY error_category`).WillReturnRows(rows)

	policies, err := st.RetryPolicies.List(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 2)
}

func TestRetryPolicyRepo_Upsert(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	p := &domain.RetryPolicy{
		Category:          domain.ErrorCategoryNetworkError,
		IsRetryable:       true,
		Strategy:          domain.RetryStrategyExponential,
		InitialDelaySec:   10,
		MaxDelaySec:       600,
		BackoffMultiplier: 1.5,
		MaxAttempts:       4,
		Description:       "operator-tuned",
	}

	mock.ExpectQuery(`INSERT INTO retry_policies`).
		WithArgs(p.Category, p.IsRetryable, p.Strategy, p.InitialDelaySec, p.MaxDelaySec, p.BackoffMultiplier, p.MaxAttempts, p.Description).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	err := st.RetryPolicies.Upsert(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, now, p.UpdatedAt)
}
