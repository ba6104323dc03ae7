package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/northcloud/crawlctl/internal/domain"
	"github.com/northcloud/crawlctl/internal/fingerprint"
)

// ContentHashRepo persists domain.ContentHash rows and serves the C2
// near-duplicate query.
type ContentHashRepo struct {
	db *sqlx.DB
}

// Upsert writes a ContentHash row keyed by page_id, storing the
// fingerprint's signed-int64 transform (C2).
func (r *ContentHashRepo) Upsert(ctx context.Context, pageID uuid.UUID, contentHash string, fp fingerprint.Fingerprint, tokenCount int) error {
	signed := fingerprint.ToSigned(fp.Value)
	query := `
		INSERT INTO content_hashes (id, page_id, content_hash, simhash_signed, token_count)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		ON CONFLICT (page_id) DO UPDATE
		SET content_hash = EXCLUDED.content_hash,
		    simhash_signed = EXCLUDED.simhash_signed,
		    token_count = EXCLUDED.token_count`
	_, err := r.db.ExecContext(ctx, query, pageID, contentHash, signed, tokenCount)
	if err != nil {
		return fmt.Errorf("store: upsert content hash: %w", err)
	}
	return nil
}

// GetByPageID loads the ContentHash for a page.
func (r *ContentHashRepo) GetByPageID(ctx context.Context, pageID uuid.UUID) (*domain.ContentHash, error) {
	var h domain.ContentHash
	query := `SELECT id, page_id, content_hash, simhash_signed, token_count, created_at FROM content_hashes WHERE page_id = $1`
	if err := r.db.GetContext(ctx, &h, query, pageID); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get content hash: %w", err)
	}
	return &h, nil
}

// near holds one row of a FindSimilar result: the candidate hash and
// its popcount distance from the target fingerprint.
type near struct {
	domain.ContentHash
	Distance int `db:"distance"`
}

// FindSimilar runs the C2 near-duplicate query: rows within maxDistance
// of target, excluding excludeHash, ordered by ascending distance,
// capped at limit. The XOR/popcount is computed in SQL so the database
// does the filtering rather than pulling every row into the process.
func (r *ContentHashRepo) FindSimilar(ctx context.Context, target fingerprint.Fingerprint, maxDistance int, excludeHash string, limit int) ([]domain.ContentHash, error) {
	query := `
		SELECT id, page_id, content_hash, simhash_signed, token_count, created_at,
		       length(replace(((simhash_signed # $1::bigint)::bit(64))::text, '0', '')) AS distance
		FROM content_hashes
		WHERE content_hash <> $2
		  AND length(replace(((simhash_signed # $1::bigint)::bit(64))::text, '0', '')) <= $3
		ORDER BY distance ASC
		LIMIT $4`
	var rows []near
	if err := r.db.SelectContext(ctx, &rows, query, fingerprint.ToSigned(target.Value), excludeHash, maxDistance, limit); err != nil {
		return nil, fmt.Errorf("store: find similar content hashes: %w", err)
	}
	out := make([]domain.ContentHash, len(rows))
	for i, row := range rows {
		out[i] = row.ContentHash
	}
	return out, nil
}
