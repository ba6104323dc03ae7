package retryhandler_test

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/crawlctl/internal/domain"
	"github.com/northcloud/crawlctl/internal/logging"
	"github.com/northcloud/crawlctl/internal/queue"
	"github.com/northcloud/crawlctl/internal/retryhandler"
	"github.com/northcloud/crawlctl/internal/store"
)

func newTestHandler(t *testing.T, policy domain.RetryPolicy) (*retryhandler.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	streams := queue.NewStreamsClientFromRedis(redisClient, "crawlctl-test")
	producer := queue.NewProducer(streams, queue.ProducerConfig{})

	st := store.New(sqlx.NewDb(db, "postgres"))
	lookup := func(context.Context, string, domain.ErrorCategory) (domain.RetryPolicy, error) {
		return policy, nil
	}
	h := retryhandler.New(st, producer, lookup, logging.NewNop())
	return h, mock
}

func crawlJobRows(id uuid.UUID, retryCount int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "website_id", "scheduled_job_id", "status", "priority", "config",
		"retry_count", "max_retries", "progress", "error_message", "started_at", "completed_at",
		"created_at", "updated_at",
	}).AddRow(
		id, uuid.New(), nil, domain.JobStatusProcessing, 5, []byte(`{}`),
		retryCount, 3, []byte(`{}`), nil, nil, nil, time.Now(), time.Now(),
	)
}

func TestHandleFailure_UnknownJobIsIdempotentNoOp(t *testing.T) {
	h, mock := newTestHandler(t, domain.RetryPolicy{})
	jobID := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM crawl_jobs WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnError(sql.ErrNoRows)

	retried, err := h.HandleFailure(context.Background(), retryhandler.Failure{JobID: jobID})
	require.NoError(t, err)
	require.False(t, retried)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleFailure_WithinBudget_RecordsAndReenqueues(t *testing.T) {
	policy := domain.RetryPolicy{
		IsRetryable:       true,
		Strategy:          domain.RetryStrategyFixed,
		InitialDelaySec:   0,
		MaxDelaySec:       1,
		BackoffMultiplier: 2.0,
		MaxAttempts:       3,
	}
	h, mock := newTestHandler(t, policy)
	jobID := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM crawl_jobs WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(crawlJobRows(jobID, 0))

	mock.ExpectExec(`INSERT INTO retry_history`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`UPDATE crawl_jobs\s+SET status = 'pending'`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(1))

	retried, err := h.HandleFailure(context.Background(), retryhandler.Failure{
		JobID:        jobID,
		HTTPStatus:   http.StatusServiceUnavailable,
		ErrorMessage: "upstream unavailable",
	})
	require.NoError(t, err)
	require.True(t, retried)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleFailure_BudgetExhausted_MarksFailedAndArchivesToDLQ(t *testing.T) {
	policy := domain.RetryPolicy{
		IsRetryable:       true,
		Strategy:          domain.RetryStrategyFixed,
		InitialDelaySec:   0,
		MaxDelaySec:       1,
		BackoffMultiplier: 2.0,
		MaxAttempts:       2,
	}
	h, mock := newTestHandler(t, policy)
	jobID := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM crawl_jobs WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(crawlJobRows(jobID, 2))

	mock.ExpectExec(`UPDATE crawl_jobs SET status = \$2, error_message = \$3`).
		WithArgs(jobID, domain.JobStatusFailed, "permanently gone").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`INSERT INTO dead_letter_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	retried, err := h.HandleFailure(context.Background(), retryhandler.Failure{
		JobID:        jobID,
		HTTPStatus:   http.StatusNotFound,
		ErrorMessage: "permanently gone",
	})
	require.NoError(t, err)
	require.False(t, retried)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleFailure_NotRetryableCategory_GoesStraightToDLQOnFirstAttempt(t *testing.T) {
	policy := domain.RetryPolicy{
		IsRetryable: false,
		MaxAttempts: 0,
	}
	h, mock := newTestHandler(t, policy)
	jobID := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM crawl_jobs WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(crawlJobRows(jobID, 0))

	mock.ExpectExec(`UPDATE crawl_jobs SET status = \$2, error_message = \$3`).
		WithArgs(jobID, domain.JobStatusFailed, "not found").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`INSERT INTO dead_letter_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	retried, err := h.HandleFailure(context.Background(), retryhandler.Failure{
		JobID:        jobID,
		HTTPStatus:   http.StatusNotFound,
		ErrorMessage: "not found",
	})
	require.NoError(t, err)
	require.False(t, retried)
	require.NoError(t, mock.ExpectationsWereMet())
}
