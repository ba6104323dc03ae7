// Package cancel implements C11: a process-external cancellation flag
// with a short TTL and single-writer-many-readers contract.
package cancel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/northcloud/crawlctl/internal/logging"
)

const keyPrefix = "job:cancel:"

// DefaultTTL bounds how long a cancellation marker survives if never
// cleared, so a crashed caller can't wedge a job cancelled forever.
const DefaultTTL = 1 * time.Hour

// Signal is C11: non-blocking, best-effort. Every operation logs and
// swallows Redis failures rather than propagating them — cancellation
// is advisory, never a hard dependency for crawl correctness.
type Signal struct {
	client *redis.Client
	log    logging.Logger
	ttl    time.Duration
}

// New constructs a Signal backed by client.
func New(client *redis.Client, log logging.Logger) *Signal {
	return &Signal{client: client, log: log, ttl: DefaultTTL}
}

func key(jobID uuid.UUID) string {
	return keyPrefix + jobID.String()
}

// Set marks jobID cancelled with an optional human-readable reason.
// Single-writer per job_id by contract; a write failure is logged, not
// returned, so callers never block or error on this best-effort path.
func (s *Signal) Set(ctx context.Context, jobID uuid.UUID, reason string) {
	if err := s.client.Set(ctx, key(jobID), reason, s.ttl).Err(); err != nil {
		s.log.Error("cancel: failed to set flag", logging.String("job_id", jobID.String()), logging.Error(err))
	}
}

// IsCancelled is a cheap existence check readers poll at checkpoints.
func (s *Signal) IsCancelled(ctx context.Context, jobID uuid.UUID) bool {
	n, err := s.client.Exists(ctx, key(jobID)).Result()
	if err != nil {
		s.log.Error("cancel: failed to check flag", logging.String("job_id", jobID.String()), logging.Error(err))
		return false
	}
	return n > 0
}

// Reason returns the stored cancellation reason, if any was given.
func (s *Signal) Reason(ctx context.Context, jobID uuid.UUID) (string, bool) {
	val, err := s.client.Get(ctx, key(jobID)).Result()
	if err != nil {
		if err != redis.Nil {
			s.log.Error("cancel: failed to read reason", logging.String("job_id", jobID.String()), logging.Error(err))
		}
		return "", false
	}
	return val, true
}

// Clear removes a cancellation marker.
func (s *Signal) Clear(ctx context.Context, jobID uuid.UUID) {
	if err := s.client.Del(ctx, key(jobID)).Err(); err != nil {
		s.log.Error("cancel: failed to clear flag", logging.String("job_id", jobID.String()), logging.Error(err))
	}
}
