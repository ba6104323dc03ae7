package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/crawlctl/internal/domain"
	"github.com/northcloud/crawlctl/internal/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return store.New(sqlxDB), mock
}

func TestWebsiteRepo_GetByID_Found(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "name", "base_url", "config", "is_active", "created_at", "updated_at", "deleted_at"}).
		AddRow(id, "example", "https://example.com", []byte(`{"seed":"a"}`), true, now, now, nil)
	mock.ExpectQuery(`SELECT .* FROM websites WHERE id = \$1`).WithArgs(id).WillReturnRows(rows)

	got, err := st.Websites.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "example", got.Name)
	require.Equal(t, "a", got.Config["seed"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWebsiteRepo_GetByID_NotFound(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM websites WHERE id = \$1`).WithArgs(id).WillReturnError(sql.ErrNoRows)

	_, err := st.Websites.GetByID(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWebsiteRepo_Create(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	w := &domain.Website{ID: uuid.New(), Name: "site", BaseURL: "https://site.example", Config: domain.JSONMap{}, IsActive: true}

	mock.ExpectQuery(`INSERT INTO websites`).
		WithArgs(w.ID, w.Name, w.BaseURL, sqlmock.AnyArg(), w.IsActive).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	err := st.Websites.Create(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, now, w.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWebsiteRepo_SoftDelete_NotFound(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE websites SET is_active`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Websites.SoftDelete(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
}
