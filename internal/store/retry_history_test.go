package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/crawlctl/internal/domain"
)

func TestRetryHistoryRepo_Record(t *testing.T) {
	st, mock := newMockStore(t)
	jobID := uuid.New()

	mock.ExpectExec(`INSERT INTO retry_history`).
		WithArgs(jobID, 1, domain.ErrorCategoryServerError, "connection reset", 5*time.Second).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.RetryHistory.Record(context.Background(), jobID, 1, domain.ErrorCategoryServerError, "connection reset", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryHistoryRepo_ListForJob_OrderedByAttempt(t *testing.T) {
	st, mock := newMockStore(t)
	jobID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "job_id", "attempt_number", "error_category", "error_message", "delay_applied", "created_at"}).
		AddRow(uuid.New(), jobID, 1, domain.ErrorCategoryServerError, "timeout", time.Second, now).
		AddRow(uuid.New(), jobID, 2, domain.ErrorCategoryServerError, "timeout", 2*time.Second, now)

	mock.ExpectQuery(`SELECT .* FROM retry_history WHERE job_id = \$1 ORDER BY attempt_number`).
		WithArgs(jobID).
		WillReturnRows(rows)

	hist, err := st.RetryHistory.ListForJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, 1, hist[0].AttemptNum)
	require.Equal(t, 2, hist[1].AttemptNum)
}
