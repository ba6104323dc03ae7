package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/northcloud/crawlctl/internal/domain"
)

// WebsiteRepo persists domain.Website rows and their append-only
// config history (4.15).
type WebsiteRepo struct {
	db *sqlx.DB
}

const websiteSelectColumns = `id, name, base_url, config, is_active, created_at, updated_at, deleted_at`

// GetByID loads a Website by id, including soft-deleted rows (callers
// check DeletedAt themselves, matching the spec's soft-delete-preserves
// intent).
func (r *WebsiteRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Website, error) {
	query := fmt.Sprintf(`SELECT %s FROM websites WHERE id = $1`, websiteSelectColumns)
	var w domain.Website
	if err := r.db.GetContext(ctx, &w, query, id); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get website: %w", err)
	}
	return &w, nil
}

// GetByName loads an active Website by name.
func (r *WebsiteRepo) GetByName(ctx context.Context, name string) (*domain.Website, error) {
	query := fmt.Sprintf(`SELECT %s FROM websites WHERE name = $1 AND deleted_at IS NULL`, websiteSelectColumns)
	var w domain.Website
	if err := r.db.GetContext(ctx, &w, query, name); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get website by name: %w", err)
	}
	return &w, nil
}

// Create inserts a new Website.
func (r *WebsiteRepo) Create(ctx context.Context, w *domain.Website) error {
	cfg, err := json.Marshal(w.Config)
	if err != nil {
		return fmt.Errorf("store: marshal website config: %w", err)
	}
	query := `
		INSERT INTO websites (id, name, base_url, config, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, w.ID, w.Name, w.BaseURL, cfg, w.IsActive).
		Scan(&w.CreatedAt, &w.UpdatedAt)
}

// Update changes a Website's mutable fields and, on every call,
// appends a WebsiteConfigHistory snapshot in the same transaction
// (gapless version = prior max + 1).
func (r *WebsiteRepo) Update(ctx context.Context, w *domain.Website, changedBy string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin update website tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cfg, err := json.Marshal(w.Config)
	if err != nil {
		return fmt.Errorf("store: marshal website config: %w", err)
	}

	query := `
		UPDATE websites
		SET name = $2, base_url = $3, config = $4, is_active = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`
	if err := tx.QueryRowContext(ctx, query, w.ID, w.Name, w.BaseURL, cfg, w.IsActive).Scan(&w.UpdatedAt); err != nil {
		if isNoRows(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: update website: %w", err)
	}

	var nextVersion int
	verQuery := `SELECT COALESCE(MAX(version), 0) + 1 FROM website_config_history WHERE website_id = $1`
	if err := tx.GetContext(ctx, &nextVersion, verQuery, w.ID); err != nil {
		return fmt.Errorf("store: compute config history version: %w", err)
	}

	histQuery := `
		INSERT INTO website_config_history (id, website_id, version, config, changed_by)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, histQuery, w.ID, nextVersion, cfg, changedBy); err != nil {
		return fmt.Errorf("store: insert config history: %w", err)
	}

	return tx.Commit()
}

// SoftDelete marks a Website inactive and deleted without removing its
// row or history, per the soft-delete retention intent.
func (r *WebsiteRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE websites SET is_active = false, deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: soft delete website: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns active (non-deleted) websites.
func (r *WebsiteRepo) List(ctx context.Context) ([]domain.Website, error) {
	query := fmt.Sprintf(`SELECT %s FROM websites WHERE deleted_at IS NULL ORDER BY name`, websiteSelectColumns)
	var ws []domain.Website
	if err := r.db.SelectContext(ctx, &ws, query); err != nil {
		return nil, fmt.Errorf("store: list websites: %w", err)
	}
	return ws, nil
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
