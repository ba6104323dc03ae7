package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// JobDataField is the field name holding the JSON job payload.
	JobDataField = "job"
	// EnqueuedAtField is the field name holding the enqueue timestamp.
	EnqueuedAtField = "enqueued_at"

	defaultMaxStreamLen = 10000
)

// Producer publishes CrawlJob references to the durable queue external
// interface (§6): "payload = UTF-8 JSON {"job_id": "<uuid>", ...};
// subject = <stream>.jobs".
type Producer struct {
	client       *StreamsClient
	maxStreamLen int64
}

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	MaxStreamLen int64
}

// NewProducer constructs a Producer.
func NewProducer(client *StreamsClient, cfg ProducerConfig) *Producer {
	maxLen := cfg.MaxStreamLen
	if maxLen <= 0 {
		maxLen = defaultMaxStreamLen
	}
	return &Producer{client: client, maxStreamLen: maxLen}
}

// JobMessage is the envelope published to a priority stream.
type JobMessage struct {
	JobID    uuid.UUID `json:"job_id"`
	Priority int       `json:"priority,omitempty"`
}

// Enqueue publishes a JobMessage to its priority-bucketed stream.
// The message ID the stream assigns is not returned.
func (p *Producer) Enqueue(ctx context.Context, msg JobMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal job message: %w", err)
	}

	values := map[string]any{
		JobDataField:    string(payload),
		EnqueuedAtField: time.Now().UTC().Format(time.RFC3339),
	}

	stream := p.client.StreamName(BucketPriority(msg.Priority))
	if _, err := p.client.XAdd(ctx, stream, values); err != nil {
		return fmt.Errorf("queue: enqueue to stream %s: %w", stream, err)
	}
	return nil
}

// EnqueueWithTimeout publishes with a bounded context timeout.
func (p *Producer) EnqueueWithTimeout(ctx context.Context, msg JobMessage, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Enqueue(ctx, msg)
}

// TrimAllStreams trims every priority stream to the configured maximum
// length.
func (p *Producer) TrimAllStreams(ctx context.Context) error {
	for _, priority := range AllPriorities() {
		stream := p.client.StreamName(priority)
		if err := p.client.XTrimMaxLen(ctx, stream, p.maxStreamLen); err != nil {
			return fmt.Errorf("queue: trim stream %s: %w", stream, err)
		}
	}
	return nil
}

// GetAllQueueDepths returns the current length of every priority
// stream, used for operator-facing queue depth gauges.
func (p *Producer) GetAllQueueDepths(ctx context.Context) (map[Priority]int64, error) {
	depths := make(map[Priority]int64, len(AllPriorities()))
	for _, priority := range AllPriorities() {
		depth, err := p.client.XLen(ctx, p.client.StreamName(priority))
		if err != nil {
			return depths, fmt.Errorf("queue: depth for %s: %w", priority, err)
		}
		depths[priority] = depth
	}
	return depths, nil
}
