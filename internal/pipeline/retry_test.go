package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DTeam-Top/docpilot/internal/llm"
)

func transientErr() error {
	return &llm.TransientError{StatusCode: 429, Message: "slow down"}
}

func TestWithRetry_FailsKTimesThenSucceeds(t *testing.T) {
	for _, k := range []int{0, 1, 2, 3} {
		calls := 0
		got, err := WithRetry(context.Background(), RetryOptions{
			MaxAttempts: k + 1,
			ShouldRetry: RetryModel,
			BaseDelay:   time.Millisecond,
		}, func() (string, error) {
			calls++
			if calls <= k {
				return "", transientErr()
			}
			return "ok", nil
		})

		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, "ok", got)
		assert.Equal(t, k+1, calls, "k=%d", k)
	}
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	for _, k := range []int{1, 2, 3} {
		calls := 0
		_, err := WithRetry(context.Background(), RetryOptions{
			MaxAttempts: k,
			ShouldRetry: RetryModel,
			BaseDelay:   time.Millisecond,
		}, func() (string, error) {
			calls++
			return "", transientErr()
		})

		require.Error(t, err, "k=%d", k)
		assert.True(t, llm.IsTransient(err))
		assert.Equal(t, k, calls, "k=%d", k)
	}
}

func TestWithRetry_NeverRetriesRefusal(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), RetryOptions{
		MaxAttempts: 5,
		ShouldRetry: RetryModel,
		BaseDelay:   time.Millisecond,
	}, func() (string, error) {
		calls++
		return "", &llm.RefusalError{Reason: "content policy"}
	})

	require.Error(t, err)
	assert.True(t, llm.IsRefusal(err))
	assert.Equal(t, 1, calls)
}

func TestWithRetry_StopsOnNonRetryableError(t *testing.T) {
	calls := 0
	boom := errors.New("schema mismatch")
	_, err := WithRetry(context.Background(), RetryOptions{
		MaxAttempts: 4,
		ShouldRetry: RetryModel,
		BaseDelay:   time.Millisecond,
	}, func() (int, error) {
		calls++
		return 0, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := WithRetry(ctx, RetryOptions{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() (string, error) {
		calls++
		return "", transientErr()
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestWithRetry_CancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := WithRetry(ctx, RetryOptions{
		MaxAttempts: 3,
		ShouldRetry: RetryModel,
		BaseDelay:   10 * time.Second,
	}, func() (string, error) {
		calls++
		cancel()
		return "", transientErr()
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_DefaultMaxAttempts(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), RetryOptions{
		ShouldRetry: RetryModel,
		BaseDelay:   time.Millisecond,
	}, func() (string, error) {
		calls++
		return "", transientErr()
	})

	require.Error(t, err)
	assert.Equal(t, DefaultMaxAttempts, calls)
}

func TestRetryPredicates(t *testing.T) {
	assert.True(t, RetryTransport(transientErr()))
	assert.False(t, RetryTransport(errors.New("plain")))

	assert.True(t, RetryModel(transientErr()))
	assert.False(t, RetryModel(&llm.RefusalError{Reason: "no"}))
	assert.False(t, RetryModel(errors.New("plain")))
}
