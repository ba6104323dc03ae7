package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/northcloud/crawlctl/internal/domain"
)

// DuplicateGroupRepo implements C4: create/add/remove operations that
// keep DuplicateGroup.group_size consistent with its relationship
// count, plus the admin lookups of 4.17.
type DuplicateGroupRepo struct {
	db *sqlx.DB
}

// CreateGroup creates a new DuplicateGroup with group_size=1.
func (r *DuplicateGroupRepo) CreateGroup(ctx context.Context, canonicalPageID uuid.UUID, method string) (*domain.DuplicateGroup, error) {
	g := &domain.DuplicateGroup{ID: uuid.New(), CanonicalPage: canonicalPageID, Method: method, GroupSize: 1}
	query := `
		INSERT INTO duplicate_groups (id, canonical_page_id, method, group_size)
		VALUES ($1, $2, $3, 1)
		RETURNING created_at`
	if err := r.db.QueryRowContext(ctx, query, g.ID, g.CanonicalPage, g.Method).Scan(&g.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: create duplicate group: %w", err)
	}
	return g, nil
}

// AddDuplicate inserts a DuplicateRelationship and atomically
// increments the parent group's group_size in one transaction, so a
// failed relationship insert never leaves group_size drifted.
func (r *DuplicateGroupRepo) AddDuplicate(ctx context.Context, groupID, pageID uuid.UUID, similarity float64, hammingDist int) (*domain.DuplicateRelationship, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin add duplicate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rel := &domain.DuplicateRelationship{ID: uuid.New(), GroupID: groupID, PageID: pageID, Similarity: similarity, HammingDist: hammingDist}
	insQuery := `
		INSERT INTO duplicate_relationships (id, group_id, page_id, similarity, hamming_distance)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING detected_at`
	if err := tx.QueryRowContext(ctx, insQuery, rel.ID, rel.GroupID, rel.PageID, rel.Similarity, rel.HammingDist).Scan(&rel.DetectedAt); err != nil {
		return nil, fmt.Errorf("store: insert duplicate relationship: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE duplicate_groups SET group_size = group_size + 1 WHERE id = $1`, groupID); err != nil {
		return nil, fmt.Errorf("store: increment group size: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit add duplicate tx: %w", err)
	}
	return rel, nil
}

// RemoveRelationship deletes a relationship and decrements group_size
// atomically.
func (r *DuplicateGroupRepo) RemoveRelationship(ctx context.Context, relID uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin remove relationship tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var groupID uuid.UUID
	if err := tx.GetContext(ctx, &groupID, `DELETE FROM duplicate_relationships WHERE id = $1 RETURNING group_id`, relID); err != nil {
		if isNoRows(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: delete duplicate relationship: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE duplicate_groups SET group_size = group_size - 1 WHERE id = $1`, groupID); err != nil {
		return fmt.Errorf("store: decrement group size: %w", err)
	}

	return tx.Commit()
}

// RemoveGroup deletes a group; relationships cascade via the foreign
// key's ON DELETE CASCADE.
func (r *DuplicateGroupRepo) RemoveGroup(ctx context.Context, groupID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM duplicate_groups WHERE id = $1`, groupID)
	if err != nil {
		return fmt.Errorf("store: remove duplicate group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSimilarityScore rewrites a relationship's similarity score,
// clamped to [0, 100] by the caller beforehand.
func (r *DuplicateGroupRepo) UpdateSimilarityScore(ctx context.Context, relID uuid.UUID, score float64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE duplicate_relationships SET similarity = $2 WHERE id = $1`, relID, score)
	if err != nil {
		return fmt.Errorf("store: update similarity score: %w", err)
	}
	return nil
}

// GroupStats is the 4.4/4.17 stats lookup result.
type GroupStats struct {
	GroupSize            int       `db:"group_size"`
	RelationshipCount    int       `db:"relationship_count"`
	AverageSimilarity    float64   `db:"average_similarity"`
	FirstDetection       time.Time `db:"first_detection"`
	LastDetection        time.Time `db:"last_detection"`
}

// Stats returns aggregate statistics for a duplicate group.
func (r *DuplicateGroupRepo) Stats(ctx context.Context, groupID uuid.UUID) (*GroupStats, error) {
	query := `
		SELECT g.group_size,
		       COUNT(rel.id) AS relationship_count,
		       COALESCE(AVG(rel.similarity), 0) AS average_similarity,
		       COALESCE(MIN(rel.detected_at), g.created_at) AS first_detection,
		       COALESCE(MAX(rel.detected_at), g.created_at) AS last_detection
		FROM duplicate_groups g
		LEFT JOIN duplicate_relationships rel ON rel.group_id = g.id
		WHERE g.id = $1
		GROUP BY g.id, g.group_size, g.created_at`
	var s GroupStats
	if err := r.db.GetContext(ctx, &s, query, groupID); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: duplicate group stats: %w", err)
	}
	return &s, nil
}

// CountByMethod returns the number of groups per detection method.
func (r *DuplicateGroupRepo) CountByMethod(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT method, COUNT(*) AS c FROM duplicate_groups GROUP BY method`)
	if err != nil {
		return nil, fmt.Errorf("store: count duplicate groups by method: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var method string
		var c int
		if err := rows.Scan(&method, &c); err != nil {
			return nil, fmt.Errorf("store: scan count by method: %w", err)
		}
		counts[method] = c
	}
	return counts, rows.Err()
}

// ListForPage returns every DuplicateRelationship naming pageID, for
// admin inspection (4.17).
func (r *DuplicateGroupRepo) ListForPage(ctx context.Context, pageID uuid.UUID) ([]domain.DuplicateRelationship, error) {
	query := `SELECT id, group_id, page_id, similarity, hamming_distance, detected_at FROM duplicate_relationships WHERE page_id = $1`
	var rels []domain.DuplicateRelationship
	if err := r.db.SelectContext(ctx, &rels, query, pageID); err != nil {
		return nil, fmt.Errorf("store: list relationships for page: %w", err)
	}
	return rels, nil
}
