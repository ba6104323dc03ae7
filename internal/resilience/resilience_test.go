package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/crawlctl/internal/resilience"
)

func TestBreaker_OpensAfterThresholdFailures(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	boom := errors.New("boom")

	_ = b.Execute(context.Background(), func() error { return boom })
	assert.Equal(t, resilience.StateClosed, b.State())

	_ = b.Execute(context.Background(), func() error { return boom })
	assert.Equal(t, resilience.StateOpen, b.State())

	err := b.Execute(context.Background(), func() error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	boom := errors.New("boom")

	_ = b.Execute(context.Background(), func() error { return boom })
	_ = b.Execute(context.Background(), func() error { return nil })
	_ = b.Execute(context.Background(), func() error { return boom })
	assert.Equal(t, resilience.StateClosed, b.State())
}

func TestBreaker_HalfOpenAfterTimeoutThenCloses(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond})
	boom := errors.New("boom")

	_ = b.Execute(context.Background(), func() error { return boom })
	require.Equal(t, resilience.StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	err := b.Execute(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, resilience.StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})
	boom := errors.New("boom")

	_ = b.Execute(context.Background(), func() error { return boom })
	time.Sleep(20 * time.Millisecond)

	_ = b.Execute(context.Background(), func() error { return boom })
	assert.Equal(t, resilience.StateOpen, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute})
	_ = b.Execute(context.Background(), func() error { return errors.New("boom") })
	require.Equal(t, resilience.StateOpen, b.State())

	b.Reset()
	assert.Equal(t, resilience.StateClosed, b.State())
}

func TestDefaultIsRetryable_MatchesKnownPatterns(t *testing.T) {
	assert.True(t, resilience.DefaultIsRetryable(errors.New("dial tcp: connection refused")))
	assert.True(t, resilience.DefaultIsRetryable(errors.New("context deadline exceeded")))
	assert.False(t, resilience.DefaultIsRetryable(errors.New("invalid argument")))
	assert.False(t, resilience.DefaultIsRetryable(nil))
}

func TestRetry_SucceedsWithoutRetryingOnFirstTry(t *testing.T) {
	calls := 0
	err := resilience.Retry(context.Background(), resilience.DefaultConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesRetryableErrorThenSucceeds(t *testing.T) {
	calls := 0
	cfg := resilience.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	err := resilience.Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 2 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_NonRetryableErrorStopsImmediately(t *testing.T) {
	calls := 0
	err := resilience.Retry(context.Background(), resilience.DefaultConfig(), func() error {
		calls++
		return errors.New("invalid input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	cfg := resilience.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	err := resilience.Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("timeout")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrMaxAttemptsExceeded)
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancelledBeforeCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := resilience.Retry(ctx, resilience.DefaultConfig(), func() error {
		t.Fatal("fn should not be called with an already-cancelled context")
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrContextCancelled)
}

func TestRetryWithDefaults_DelegatesToRetry(t *testing.T) {
	calls := 0
	err := resilience.RetryWithDefaults(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
