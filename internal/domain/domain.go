// Package domain defines the persisted entities of the crawl control
// plane: websites, scheduled jobs, crawl jobs, crawled pages, content
// fingerprints, duplicate groups, retry policy and history, and the
// dead letter queue.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONMap is an opaque JSON object column (metadata, variables, config).
type JSONMap map[string]any

// Website is a crawl target the scheduler rotates jobs against.
type Website struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	BaseURL   string    `db:"base_url"`
	Config    JSONMap   `db:"config"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// WebsiteConfigHistory is an append-only snapshot of Website.Config,
// written every time Update changes the config column. Version numbers
// are gapless per website, starting at 1.
type WebsiteConfigHistory struct {
	ID        uuid.UUID `db:"id"`
	WebsiteID uuid.UUID `db:"website_id"`
	Version   int       `db:"version"`
	Config    JSONMap   `db:"config"`
	ChangedBy string    `db:"changed_by"`
	CreatedAt time.Time `db:"created_at"`
}

// ScheduledJob is a cron-driven definition that the Scheduled-Job
// Processor (C8) polls and materializes into CrawlJob rows.
type ScheduledJob struct {
	ID             uuid.UUID  `db:"id"`
	WebsiteID      uuid.UUID  `db:"website_id"`
	Name           string     `db:"name"`
	CronExpression string     `db:"cron_expression"`
	Timezone       string     `db:"timezone"`
	JobConfig      JSONMap    `db:"job_config"`
	IsActive       bool       `db:"is_active"`
	NextRunTime    *time.Time `db:"next_run_time"`
	LastRunTime    *time.Time `db:"last_run_time"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// JobStatus is the CrawlJob lifecycle state.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// CrawlJob is a single unit of crawl work, queued and consumed by the
// Worker Loop (C10).
type CrawlJob struct {
	ID             uuid.UUID  `db:"id"`
	WebsiteID      uuid.UUID  `db:"website_id"`
	ScheduledJobID *uuid.UUID `db:"scheduled_job_id"`
	Status         JobStatus  `db:"status"`
	Priority       int        `db:"priority"`
	Config         JSONMap    `db:"config"`
	RetryCount     int        `db:"retry_count"`
	MaxRetries     int        `db:"max_retries"`
	Progress       JSONMap    `db:"progress"`
	ErrorMessage   *string    `db:"error_message"`
	StartedAt      *time.Time `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// CrawledPage is a single fetched page recorded against a CrawlJob.
type CrawledPage struct {
	ID          uuid.UUID `db:"id"`
	JobID       uuid.UUID `db:"job_id"`
	URL         string    `db:"url"`
	CanonicalURL string   `db:"canonical_url"`
	URLHash     string    `db:"url_hash"`
	StatusCode  int       `db:"status_code"`
	Title       *string   `db:"title"`
	Metadata    JSONMap   `db:"metadata"`
	CreatedAt   time.Time `db:"created_at"`
}

// ContentHash stores the simhash fingerprint of a page's extracted text.
type ContentHash struct {
	ID            uuid.UUID `db:"id"`
	PageID        uuid.UUID `db:"page_id"`
	ContentHash   string    `db:"content_hash"`
	SimhashSigned int64     `db:"simhash_signed"`
	TokenCount    int       `db:"token_count"`
	CreatedAt     time.Time `db:"created_at"`
}

// DuplicateGroup clusters CrawledPages whose fingerprints fall within
// the similarity threshold of one canonical member.
type DuplicateGroup struct {
	ID             uuid.UUID `db:"id"`
	CanonicalPage  uuid.UUID `db:"canonical_page_id"`
	Method         string    `db:"method"`
	GroupSize      int       `db:"group_size"`
	CreatedAt      time.Time `db:"created_at"`
}

// DuplicateRelationship links a member page to its group with the
// similarity score that put it there.
type DuplicateRelationship struct {
	ID          uuid.UUID `db:"id"`
	GroupID     uuid.UUID `db:"group_id"`
	PageID      uuid.UUID `db:"page_id"`
	Similarity  float64   `db:"similarity"`
	HammingDist int       `db:"hamming_distance"`
	DetectedAt  time.Time `db:"detected_at"`
}

// RetryStrategy names the backoff shape the Retry Policy Engine (C6)
// applies for an ErrorCategory.
type RetryStrategy string

const (
	RetryStrategyExponential RetryStrategy = "exponential"
	RetryStrategyLinear      RetryStrategy = "linear"
	RetryStrategyFixed       RetryStrategy = "fixed"
)

// RetryPolicy configures backoff and retry eligibility for one
// ErrorCategory. ErrorCategory is the policy's primary key: the table
// is seeded at install with one row per category and is mutable
// afterward via an admin path (store.RetryPolicyRepo.Upsert).
type RetryPolicy struct {
	Category          ErrorCategory `db:"error_category"`
	IsRetryable       bool          `db:"is_retryable"`
	Strategy          RetryStrategy `db:"strategy"`
	InitialDelaySec   int           `db:"initial_delay_seconds"`
	MaxDelaySec       int           `db:"max_delay_seconds"`
	BackoffMultiplier float64       `db:"backoff_multiplier"`
	MaxAttempts       int           `db:"max_attempts"`
	Description       string        `db:"description"`
	CreatedAt         time.Time     `db:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at"`
}

// ErrorCategory classifies a job failure for retry eligibility. The
// ten values are a closed enum: every RetryHistory/DeadLetterQueue row
// and RetryPolicy PK must use one of these literal tokens.
type ErrorCategory string

const (
	ErrorCategoryNotFound        ErrorCategory = "NOT_FOUND"
	ErrorCategoryAuthError       ErrorCategory = "AUTH_ERROR"
	ErrorCategoryRateLimit       ErrorCategory = "RATE_LIMIT"
	ErrorCategoryTimeout         ErrorCategory = "TIMEOUT"
	ErrorCategoryClientError     ErrorCategory = "CLIENT_ERROR"
	ErrorCategoryServerError     ErrorCategory = "SERVER_ERROR"
	ErrorCategoryNetworkError    ErrorCategory = "NETWORK_ERROR"
	ErrorCategoryParseError      ErrorCategory = "PARSE_ERROR"
	ErrorCategoryValidationError ErrorCategory = "VALIDATION_ERROR"
	ErrorCategoryUnknown         ErrorCategory = "UNKNOWN"
)

// RetryHistory records one retry attempt for a CrawlJob.
type RetryHistory struct {
	ID           uuid.UUID     `db:"id"`
	JobID        uuid.UUID     `db:"job_id"`
	AttemptNum   int           `db:"attempt_number"`
	Category     ErrorCategory `db:"error_category"`
	ErrorMessage string        `db:"error_message"`
	DelayApplied time.Duration `db:"delay_applied"`
	CreatedAt    time.Time     `db:"created_at"`
}

// DeadLetterQueue is the terminal resting place for jobs that exhausted
// their retry budget or failed with a permanent error.
type DeadLetterQueue struct {
	ID             uuid.UUID     `db:"id"`
	JobID          uuid.UUID     `db:"job_id"`
	JobType        string        `db:"job_type"`
	Category       ErrorCategory `db:"error_category"`
	ErrorMessage   string        `db:"error_message"`
	Payload        JSONMap       `db:"payload"`
	Resolved       bool          `db:"resolved"`
	ResolutionNotes *string      `db:"resolution_notes"`
	RetryAttempted bool          `db:"retry_attempted"`
	RetrySuccess   *bool         `db:"retry_success"`
	CreatedAt      time.Time     `db:"created_at"`
}

// MarshalJSON satisfies json.Marshaler for JSONMap to keep nil maps
// encoding as `{}` rather than `null`, matching the Postgres jsonb
// NOT NULL DEFAULT '{}' columns these back.
func (m JSONMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(m))
}

// Value satisfies driver.Valuer so sqlx/lib-pq can write a JSONMap
// straight into a jsonb column without callers marshaling by hand.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(m))
}

// Scan satisfies sql.Scanner so sqlx can populate a JSONMap field
// directly from a jsonb column's raw bytes.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("domain: JSONMap.Scan: unsupported source type %T", src)
	}
	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("domain: JSONMap.Scan: %w", err)
	}
	*m = decoded
	return nil
}
