// Package ratelimit implements the supplemental rate limiter: an
// in-process golang.org/x/time/rate limiter for same-process callers,
// and a Redis-backed fixed-window counter for cross-process
// enforcement (spec §5: "Rate-limit counter uses INCR with TTL set on
// first write — window counter, not sliding").
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/northcloud/crawlctl/internal/logging"
)

const keyPrefix = "ratelimit:"

// Limiter wraps an in-process token bucket, for callers that don't
// need cross-process coordination.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter constructs an in-process Limiter allowing requestsPerPeriod
// over period, refilled continuously.
func NewLimiter(requestsPerPeriod int, period time.Duration) *Limiter {
	r := rate.Limit(float64(requestsPerPeriod) / period.Seconds())
	return &Limiter{limiter: rate.NewLimiter(r, requestsPerPeriod)}
}

// Allow reports whether a request may proceed now.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// DistributedLimiter enforces a fixed-window request count per scope
// across processes, keyed `ratelimit:<scope>`.
type DistributedLimiter struct {
	client *redis.Client
	log    logging.Logger
	limit  int
	period time.Duration
}

// NewDistributedLimiter constructs a DistributedLimiter.
func NewDistributedLimiter(client *redis.Client, log logging.Logger, limit int, period time.Duration) *DistributedLimiter {
	return &DistributedLimiter{client: client, log: log, limit: limit, period: period}
}

// Allow increments scope's window counter, setting the window TTL only
// on the first increment. Returns (allowed, retryAfter). On Redis
// failure the request is allowed through (fail-open), logged, not
// propagated.
func (d *DistributedLimiter) Allow(ctx context.Context, scope string) (bool, time.Duration, error) {
	key := keyPrefix + scope

	count, err := d.client.Incr(ctx, key).Result()
	if err != nil {
		d.log.Error("ratelimit: incr failed", logging.String("scope", scope), logging.Error(err))
		return true, 0, nil
	}
	if count == 1 {
		if err := d.client.Expire(ctx, key, d.period).Err(); err != nil {
			d.log.Error("ratelimit: expire failed", logging.String("scope", scope), logging.Error(err))
		}
	}

	if count <= int64(d.limit) {
		return true, 0, nil
	}

	ttl, err := d.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = d.period
	}
	return false, ttl, nil
}

// Reset clears scope's window counter.
func (d *DistributedLimiter) Reset(ctx context.Context, scope string) error {
	if err := d.client.Del(ctx, keyPrefix+scope).Err(); err != nil {
		return fmt.Errorf("ratelimit: reset: %w", err)
	}
	return nil
}
