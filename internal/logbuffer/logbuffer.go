// Package logbuffer implements the per-job bounded log tail (4.14):
// Redis LPUSH/LTRIM/LRANGE/LLEN under logs:buffer:<job_id>, written
// alongside the structured zap logger so operators can tail a job's
// recent log lines without a full log-aggregation query. Best-effort,
// same non-fatal contract as C3/C11.
package logbuffer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/northcloud/crawlctl/internal/logging"
)

const keyPrefix = "logs:buffer:"

// DefaultCapacity is the number of log lines retained per job.
const DefaultCapacity = 200

// DefaultTTL bounds how long a job's buffer survives after its last
// write.
const DefaultTTL = 24 * time.Hour

// Buffer is the per-job log tail.
type Buffer struct {
	client   *redis.Client
	log      logging.Logger
	capacity int64
	ttl      time.Duration
}

// New constructs a Buffer with DefaultCapacity/DefaultTTL.
func New(client *redis.Client, log logging.Logger) *Buffer {
	return &Buffer{client: client, log: log, capacity: DefaultCapacity, ttl: DefaultTTL}
}

func key(jobID uuid.UUID) string { return keyPrefix + jobID.String() }

// Append pushes line onto jobID's tail, trimming to capacity.
func (b *Buffer) Append(ctx context.Context, jobID uuid.UUID, line string) {
	k := key(jobID)
	pipe := b.client.Pipeline()
	pipe.LPush(ctx, k, line)
	pipe.LTrim(ctx, k, 0, b.capacity-1)
	pipe.Expire(ctx, k, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Warn("logbuffer: append failed", logging.String("job_id", jobID.String()), logging.Error(err))
	}
}

// Tail returns up to n most recent lines, newest first.
func (b *Buffer) Tail(ctx context.Context, jobID uuid.UUID, n int64) []string {
	if n <= 0 || n > b.capacity {
		n = b.capacity
	}
	lines, err := b.client.LRange(ctx, key(jobID), 0, n-1).Result()
	if err != nil {
		b.log.Warn("logbuffer: tail failed", logging.String("job_id", jobID.String()), logging.Error(err))
		return nil
	}
	return lines
}

// Len reports how many lines are currently buffered for a job.
func (b *Buffer) Len(ctx context.Context, jobID uuid.UUID) int64 {
	n, err := b.client.LLen(ctx, key(jobID)).Result()
	if err != nil {
		b.log.Warn("logbuffer: len failed", logging.String("job_id", jobID.String()), logging.Error(err))
		return 0
	}
	return n
}
