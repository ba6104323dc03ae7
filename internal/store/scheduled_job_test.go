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

func TestScheduledJobRepo_GetDueJobs(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	id := uuid.New()
	websiteID := uuid.New()

	rows := sqlmock.NewRows([]string{
		"id", "website_id", "name", "cron_expression", "timezone", "job_config",
		"is_active", "next_run_time", "last_run_time", "created_at", "updated_at",
	}).AddRow(id, websiteID, "nightly", "0 2 * * *", "UTC", []byte(`{}`), true, now, nil, now, now)

	mock.ExpectQuery(`SELECT .* FROM scheduled_jobs.*WHERE is_active AND next_run_time <= \$1.*FOR UPDATE SKIP LOCKED`).
		WithArgs(now, 50).
		WillReturnRows(rows)

	jobs, err := st.ScheduledJobs.GetDueJobs(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "nightly", jobs[0].Name)
}

func TestScheduledJobRepo_UpdateScheduleState(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()
	next := time.Now().Add(time.Hour)
	last := time.Now()

	mock.ExpectExec(`UPDATE scheduled_jobs SET next_run_time = \$2, last_run_time = COALESCE\(\$3, last_run_time\)`).
		WithArgs(id, next, &last).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.ScheduledJobs.UpdateScheduleState(context.Background(), id, next, &last)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduledJobRepo_BackfillTimezone(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE scheduled_jobs SET timezone = 'UTC'.*WHERE id = \$1 AND \(timezone IS NULL OR timezone = ''\)`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.ScheduledJobs.BackfillTimezone(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduledJobRepo_Create(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	j := &domain.ScheduledJob{
		ID:             uuid.New(),
		WebsiteID:      uuid.New(),
		Name:           "hourly",
		CronExpression: "0 * * * *",
		Timezone:       "UTC",
		JobConfig:      domain.JSONMap{},
		IsActive:       true,
		NextRunTime:    &now,
	}

	mock.ExpectQuery(`INSERT INTO scheduled_jobs`).
		WithArgs(j.ID, j.WebsiteID, j.Name, j.CronExpression, j.Timezone, sqlmock.AnyArg(), j.IsActive, j.NextRunTime).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	err := st.ScheduledJobs.Create(context.Background(), j)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduledJobRepo_ToggleActive(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE scheduled_jobs SET is_active = \$2`).
		WithArgs(id, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.ScheduledJobs.ToggleActive(context.Background(), id, false)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
