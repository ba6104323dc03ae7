package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/crawlctl/internal/fingerprint"
)

func TestContentHashRepo_Upsert(t *testing.T) {
	st, mock := newMockStore(t)
	pageID := uuid.New()
	fp := fingerprint.Fingerprint{Value: 0xF00D}

	mock.ExpectExec(`INSERT INTO content_hashes.*ON CONFLICT \(page_id\) DO UPDATE`).
		WithArgs(pageID, "abc123", fingerprint.ToSigned(fp.Value), 120).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.ContentHashes.Upsert(context.Background(), pageID, "abc123", fp, 120)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentHashRepo_FindSimilar(t *testing.T) {
	st, mock := newMockStore(t)
	target := fingerprint.Fingerprint{Value: 0xF00D}

	rows := sqlmock.NewRows([]string{"id", "page_id", "content_hash", "simhash_signed", "token_count", "created_at", "distance"}).
		AddRow(uuid.New(), uuid.New(), "def456", int64(42), 90, time.Now(), 2)

	mock.ExpectQuery(`SELECT .* FROM content_hashes WHERE content_hash <> \$2`).
		WithArgs(fingerprint.ToSigned(target.Value), "abc123", 4, 10).
		WillReturnRows(rows)

	got, err := st.ContentHashes.FindSimilar(context.Background(), target, 4, "abc123", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "def456", got[0].ContentHash)
}
