// Package duplicates implements C4: the Duplicate Group Store's
// validated operations layer over internal/store's persistence.
package duplicates

import (
	"context"

	"github.com/google/uuid"

	"github.com/northcloud/crawlctl/internal/errs"
	"github.com/northcloud/crawlctl/internal/store"
)

// validMethods is the closed enum of detection methods add_duplicate
// accepts.
var validMethods = map[string]struct{}{
	"simhash":    {},
	"exact_hash": {},
	"url_match":  {},
	"manual":     {},
}

// Store is C4, backed by a *store.DuplicateGroupRepo.
type Store struct {
	repo *store.DuplicateGroupRepo
}

// New constructs a Store.
func New(repo *store.DuplicateGroupRepo) *Store {
	return &Store{repo: repo}
}

// CreateGroup creates a group with group_size=1.
func (s *Store) CreateGroup(ctx context.Context, canonicalPageID uuid.UUID) (uuid.UUID, error) {
	g, err := s.repo.CreateGroup(ctx, canonicalPageID, "simhash")
	if err != nil {
		return uuid.Nil, err
	}
	return g.ID, nil
}

// AddDuplicate validates method and similarity score, then atomically
// inserts the relationship and bumps group_size.
func (s *Store) AddDuplicate(ctx context.Context, groupID, pageID uuid.UUID, method string, similarity float64, hammingDist int) (uuid.UUID, error) {
	if _, ok := validMethods[method]; !ok {
		return uuid.Nil, errs.New(errs.KindValidation, "INVALID_METHOD", "method must be one of the recognized detection methods")
	}
	if similarity < 0 || similarity > 100 {
		return uuid.Nil, errs.New(errs.KindValidation, "INVALID_SCORE", "similarity score must be within [0, 100]")
	}

	rel, err := s.repo.AddDuplicate(ctx, groupID, pageID, similarity, hammingDist)
	if err != nil {
		return uuid.Nil, err
	}
	return rel.ID, nil
}

// RemoveRelationship deletes a relationship and decrements group_size.
func (s *Store) RemoveRelationship(ctx context.Context, relID uuid.UUID) error {
	return s.repo.RemoveRelationship(ctx, relID)
}

// RemoveGroup deletes a group, cascading relationship deletes.
func (s *Store) RemoveGroup(ctx context.Context, groupID uuid.UUID) error {
	return s.repo.RemoveGroup(ctx, groupID)
}

// UpdateSimilarityScore rewrites a relationship's score after
// validating it is within [0, 100].
func (s *Store) UpdateSimilarityScore(ctx context.Context, relID uuid.UUID, score float64) error {
	if score < 0 || score > 100 {
		return errs.New(errs.KindValidation, "INVALID_SCORE", "similarity score must be within [0, 100]")
	}
	return s.repo.UpdateSimilarityScore(ctx, relID, score)
}

// Stats returns group_size, relationship_count, average similarity,
// and first/last detection timestamps for a group.
func (s *Store) Stats(ctx context.Context, groupID uuid.UUID) (*store.GroupStats, error) {
	return s.repo.Stats(ctx, groupID)
}

// CountByMethod returns group counts bucketed by detection method.
func (s *Store) CountByMethod(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByMethod(ctx)
}
