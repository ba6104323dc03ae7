package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultConsumerGroup = "scheduler"
	defaultBlockTimeout  = 5 * time.Second
	// defaultBatchSize is 1: the Worker Loop (C10) pulls in batches of 1.
	defaultBatchSize    = 1
	defaultClaimMinIdle = 5 * time.Minute
	maxPendingCheck     = 100
)

// Consumer reads CrawlJob references from the priority streams (C10's
// pull subscription).
type Consumer struct {
	client        *StreamsClient
	consumerGroup string
	consumerID    string
	blockTimeout  time.Duration
	batchSize     int64
	claimMinIdle  time.Duration
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	ConsumerGroup string
	ConsumerID    string
	BlockTimeout  time.Duration
	BatchSize     int64
	ClaimMinIdle  time.Duration
}

// ConsumedJob is a job pulled off a priority stream, not yet acked.
type ConsumedJob struct {
	MessageID  string
	JobID      string
	Priority   Priority
	EnqueuedAt time.Time
}

// NewConsumer constructs a Consumer.
func NewConsumer(client *StreamsClient, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.ConsumerID == "" {
		return nil, errors.New("queue: consumer ID is required")
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = defaultConsumerGroup
	}
	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	claimMinIdle := cfg.ClaimMinIdle
	if claimMinIdle <= 0 {
		claimMinIdle = defaultClaimMinIdle
	}

	return &Consumer{
		client:        client,
		consumerGroup: group,
		consumerID:    cfg.ConsumerID,
		blockTimeout:  blockTimeout,
		batchSize:     batchSize,
		claimMinIdle:  claimMinIdle,
	}, nil
}

// Initialize creates the consumer group on every priority stream.
func (c *Consumer) Initialize(ctx context.Context) error {
	for _, priority := range AllPriorities() {
		stream := c.client.StreamName(priority)
		if err := c.client.CreateConsumerGroup(ctx, stream, c.consumerGroup); err != nil {
			return fmt.Errorf("queue: create consumer group for %s: %w", stream, err)
		}
	}
	return nil
}

// ReadOne blocks up to the configured timeout for a single job,
// checking pending-reclaim first so a crashed consumer's unacked
// message is eventually picked back up. Returns (nil, nil) when
// nothing is available within the block window.
func (c *Consumer) ReadOne(ctx context.Context) (*ConsumedJob, error) {
	if reclaimed := c.reclaimPending(ctx); len(reclaimed) > 0 {
		return reclaimed[0], nil
	}

	priorities := AllPriorities()
	streams := make([]string, 0, len(priorities)*2)
	for _, p := range priorities {
		streams = append(streams, c.client.StreamName(p))
	}
	for range priorities {
		streams = append(streams, ">")
	}

	result, err := c.client.XReadGroup(ctx, c.consumerGroup, c.consumerID, streams, c.batchSize, c.blockTimeout)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: read from streams: %w", err)
	}

	// XREADGROUP only returns streams that had messages, so map each
	// result back to its priority by stream name, not by position.
	for _, xs := range result {
		priority := priorities[0]
		for _, p := range priorities {
			if c.client.StreamName(p) == xs.Stream {
				priority = p
				break
			}
		}
		for _, msg := range xs.Messages {
			return c.parseMessage(msg, priority)
		}
	}
	return nil, nil
}

// Ack acknowledges successful processing of job, removing it from the
// stream's pending entries list.
func (c *Consumer) Ack(ctx context.Context, job *ConsumedJob) error {
	stream := c.client.StreamName(job.Priority)
	return c.client.XAck(ctx, stream, c.consumerGroup, job.MessageID)
}

// Nak is a negative acknowledgment: it simply does not ack, leaving
// the message pending so a future ReadOne's reclaim picks it back up
// once claimMinIdle elapses, triggering C7's retry accounting on the
// next attempt.
func (c *Consumer) Nak(_ context.Context, _ *ConsumedJob) error {
	return nil
}

func (c *Consumer) reclaimPending(ctx context.Context) []*ConsumedJob {
	var reclaimed []*ConsumedJob

	for _, priority := range AllPriorities() {
		stream := c.client.StreamName(priority)

		pending, err := c.client.XPendingExt(ctx, stream, c.consumerGroup, "-", "+", maxPendingCheck)
		if err != nil {
			continue
		}

		var ids []string
		for _, entry := range pending {
			if entry.Idle >= c.claimMinIdle {
				ids = append(ids, entry.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		claimed, err := c.client.XClaim(ctx, stream, c.consumerGroup, c.consumerID, c.claimMinIdle, ids...)
		if err != nil {
			continue
		}
		for _, msg := range claimed {
			if job, err := c.parseMessage(msg, priority); err == nil {
				reclaimed = append(reclaimed, job)
			}
		}
	}

	return reclaimed
}

func (c *Consumer) parseMessage(msg redis.XMessage, priority Priority) (*ConsumedJob, error) {
	raw, ok := msg.Values[JobDataField].(string)
	if !ok {
		return nil, errors.New("queue: missing or invalid job payload")
	}

	var envelope JobMessage
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("queue: unmarshal job message: %w", err)
	}

	job := &ConsumedJob{
		MessageID: msg.ID,
		JobID:     envelope.JobID.String(),
		Priority:  priority,
	}
	if enqueuedStr, ok := msg.Values[EnqueuedAtField].(string); ok {
		if t, err := time.Parse(time.RFC3339, enqueuedStr); err == nil {
			job.EnqueuedAt = t
		}
	}
	return job, nil
}
