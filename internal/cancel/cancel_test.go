package cancel_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/crawlctl/internal/cancel"
	"github.com/northcloud/crawlctl/internal/logging"
)

func newTestSignal(t *testing.T) (*cancel.Signal, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cancel.New(client, logging.NewNop()), mr
}

func TestSignal_SetThenIsCancelled(t *testing.T) {
	sig, _ := newTestSignal(t)
	ctx := context.Background()
	jobID := uuid.New()

	require.False(t, sig.IsCancelled(ctx, jobID))

	sig.Set(ctx, jobID, "operator requested stop")
	require.True(t, sig.IsCancelled(ctx, jobID))

	reason, ok := sig.Reason(ctx, jobID)
	require.True(t, ok)
	require.Equal(t, "operator requested stop", reason)
}

func TestSignal_Clear(t *testing.T) {
	sig, _ := newTestSignal(t)
	ctx := context.Background()
	jobID := uuid.New()

	sig.Set(ctx, jobID, "stop")
	require.True(t, sig.IsCancelled(ctx, jobID))

	sig.Clear(ctx, jobID)
	require.False(t, sig.IsCancelled(ctx, jobID))

	_, ok := sig.Reason(ctx, jobID)
	require.False(t, ok)
}

func TestSignal_DistinctJobsDoNotInterfere(t *testing.T) {
	sig, _ := newTestSignal(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	sig.Set(ctx, a, "a cancelled")
	require.True(t, sig.IsCancelled(ctx, a))
	require.False(t, sig.IsCancelled(ctx, b))
}

func TestSignal_RedisUnavailable_FailsOpenAndLogsNotPanics(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr})
	sig := cancel.New(client, logging.NewNop())
	ctx := context.Background()
	jobID := uuid.New()

	require.NotPanics(t, func() {
		sig.Set(ctx, jobID, "whatever")
	})
	require.False(t, sig.IsCancelled(ctx, jobID))
}
