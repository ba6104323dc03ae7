package logbuffer_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/crawlctl/internal/logbuffer"
	"github.com/northcloud/crawlctl/internal/logging"
)

func newTestBuffer(t *testing.T) *logbuffer.Buffer {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return logbuffer.New(client, logging.NewNop())
}

func TestAppendThenTail_NewestFirst(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()
	jobID := uuid.New()

	b.Append(ctx, jobID, "line one")
	b.Append(ctx, jobID, "line two")
	b.Append(ctx, jobID, "line three")

	lines := b.Tail(ctx, jobID, 10)
	require.Equal(t, []string{"line three", "line two", "line one"}, lines)
}

func TestAppend_TrimsToCapacity(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()
	jobID := uuid.New()

	for i := 0; i < logbuffer.DefaultCapacity+20; i++ {
		b.Append(ctx, jobID, fmt.Sprintf("line %d", i))
	}

	require.Equal(t, int64(logbuffer.DefaultCapacity), b.Len(ctx, jobID))
}

func TestTail_ClampsRequestAboveCapacity(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()
	jobID := uuid.New()

	b.Append(ctx, jobID, "only line")

	lines := b.Tail(ctx, jobID, int64(logbuffer.DefaultCapacity)+500)
	require.Equal(t, []string{"only line"}, lines)
}

func TestLen_EmptyJob(t *testing.T) {
	b := newTestBuffer(t)
	require.Equal(t, int64(0), b.Len(context.Background(), uuid.New()))
}

func TestTail_UnknownJob_ReturnsEmpty(t *testing.T) {
	b := newTestBuffer(t)
	lines := b.Tail(context.Background(), uuid.New(), 10)
	require.Empty(t, lines)
}
