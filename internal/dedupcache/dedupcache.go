// Package dedupcache implements the TTL-keyed URL digest cache (C3).
// All operations are best-effort: failures are logged and degrade to
// empty/absent results rather than propagating, per the spec's
// "callers must tolerate false negatives" contract.
package dedupcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/northcloud/crawlctl/internal/canonical"
	"github.com/northcloud/crawlctl/internal/logging"
)

const keyPrefix = "url:dedup:"

// DefaultTTL is used when Set is called without an explicit ttl.
const DefaultTTL = 24 * time.Hour

// Cache is the C3 deduplication cache backed by Redis.
type Cache struct {
	client *redis.Client
	log    logging.Logger
}

// New constructs a Cache around an existing Redis client.
func New(client *redis.Client, log logging.Logger) *Cache {
	return &Cache{client: client, log: log}
}

func key(digest string) string { return keyPrefix + digest }

// Set writes digest with optional metadata and a TTL (DefaultTTL when
// ttl <= 0), overwriting and resetting TTL if the digest already
// exists.
func (c *Cache) Set(ctx context.Context, digest string, metadata map[string]any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		c.log.Warn("dedupcache: marshal metadata failed", logging.Error(err))
		payload = []byte("{}")
	}
	if err := c.client.Set(ctx, key(digest), payload, ttl).Err(); err != nil {
		c.log.Warn("dedupcache: set failed", logging.Error(err))
	}
}

// Get returns the metadata attached to digest, or (nil, false) if
// absent or on error.
func (c *Cache) Get(ctx context.Context, digest string) (map[string]any, bool) {
	raw, err := c.client.Get(ctx, key(digest)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("dedupcache: get failed", logging.Error(err))
		}
		return nil, false
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		c.log.Warn("dedupcache: unmarshal failed", logging.Error(err))
		return nil, false
	}
	return meta, true
}

// Exists reports whether digest is present. Errors are treated as
// absent per the cache's non-fatal contract.
func (c *Cache) Exists(ctx context.Context, digest string) bool {
	n, err := c.client.Exists(ctx, key(digest)).Result()
	if err != nil {
		c.log.Warn("dedupcache: exists failed", logging.Error(err))
		return false
	}
	return n > 0
}

// Delete removes digest from the cache.
func (c *Cache) Delete(ctx context.Context, digest string) {
	if err := c.client.Del(ctx, key(digest)).Err(); err != nil {
		c.log.Warn("dedupcache: delete failed", logging.Error(err))
	}
}

// ExistsBatch returns the subset of digests present, determined in one
// round trip via a pipeline.
func (c *Cache) ExistsBatch(ctx context.Context, digests []string) map[string]bool {
	present := make(map[string]bool, len(digests))
	if len(digests) == 0 {
		return present
	}

	pipe := c.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(digests))
	for _, d := range digests {
		cmds[d] = pipe.Exists(ctx, key(d))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.log.Warn("dedupcache: exists_batch pipeline failed", logging.Error(err))
		return present
	}
	for d, cmd := range cmds {
		if n, err := cmd.Result(); err == nil && n > 0 {
			present[d] = true
		}
	}
	return present
}

// SetURL canonicalizes rawURL via C1 and stores its digest.
func (c *Cache) SetURL(ctx context.Context, rawURL string, metadata map[string]any, ttl time.Duration) error {
	_, digest, err := canonical.Digest(rawURL, canonical.Options{})
	if err != nil {
		return err
	}
	c.Set(ctx, digest, metadata, ttl)
	return nil
}

// ExistsURL canonicalizes rawURL via C1 and checks the resulting digest.
func (c *Cache) ExistsURL(ctx context.Context, rawURL string) (bool, error) {
	_, digest, err := canonical.Digest(rawURL, canonical.Options{})
	if err != nil {
		return false, err
	}
	return c.Exists(ctx, digest), nil
}
