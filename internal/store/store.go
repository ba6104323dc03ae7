// Package store persists the control plane's entities (C3's §3 data
// model) via sqlx against PostgreSQL.
package store

import (
	"errors"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store bundles the per-entity repositories behind one constructor so
// callers wire a single *sqlx.DB through the control plane.
type Store struct {
	DB *sqlx.DB

	Websites      *WebsiteRepo
	ScheduledJobs *ScheduledJobRepo
	CrawlJobs     *CrawlJobRepo
	Pages         *PageRepo
	ContentHashes *ContentHashRepo
	Duplicates    *DuplicateGroupRepo
	RetryHistory  *RetryHistoryRepo
	DLQ           *DLQRepo
	RetryPolicies *RetryPolicyRepo
}

// New wires all repositories around db.
func New(db *sqlx.DB) *Store {
	return &Store{
		DB:            db,
		Websites:      &WebsiteRepo{db: db},
		ScheduledJobs: &ScheduledJobRepo{db: db},
		CrawlJobs:     &CrawlJobRepo{db: db},
		Pages:         &PageRepo{db: db},
		ContentHashes: &ContentHashRepo{db: db},
		Duplicates:    &DuplicateGroupRepo{db: db},
		RetryHistory:  &RetryHistoryRepo{db: db},
		DLQ:           &DLQRepo{db: db},
		RetryPolicies: &RetryPolicyRepo{db: db},
	}
}
