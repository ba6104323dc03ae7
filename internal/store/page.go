package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/northcloud/crawlctl/internal/domain"
)

// PageRepo persists domain.CrawledPage rows.
type PageRepo struct {
	db *sqlx.DB
}

// Create inserts a CrawledPage discovered by the Seed-URL Crawler (C9).
func (r *PageRepo) Create(ctx context.Context, p *domain.CrawledPage) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal page metadata: %w", err)
	}
	query := `
		INSERT INTO crawled_pages (id, job_id, url, canonical_url, url_hash, status_code, title, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`
	return r.db.QueryRowContext(ctx, query, p.ID, p.JobID, p.URL, p.CanonicalURL, p.URLHash, p.StatusCode, p.Title, meta).
		Scan(&p.CreatedAt)
}

// GetByID loads a CrawledPage by id.
func (r *PageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.CrawledPage, error) {
	var p domain.CrawledPage
	query := `SELECT id, job_id, url, canonical_url, url_hash, status_code, title, metadata, created_at FROM crawled_pages WHERE id = $1`
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get page: %w", err)
	}
	return &p, nil
}
