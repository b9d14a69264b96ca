package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithExponentialBackoff_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	result := WithExponentialBackoff(context.Background(), fastConfig(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, calls)
	assert.NoError(t, result.LastError)
}

func TestWithExponentialBackoff_GivesUp(t *testing.T) {
	boom := errors.New("down")
	err := Do(context.Background(), fastConfig(), func(ctx context.Context, attempt int) error {
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "4 attempts")
}

func TestWithExponentialBackoff_NonRetryableStopsEarly(t *testing.T) {
	cfg := fastConfig()
	fatal := errors.New("bad request")
	cfg.Retryable = func(err error) bool { return !errors.Is(err, fatal) }

	result := WithExponentialBackoff(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		return fatal
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, fatal)
}

func TestWithExponentialBackoff_ContextCancelled(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	result := WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
		cancel()
		return errors.New("fail")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestCalculateDelay(t *testing.T) {
	cfg := &RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, calculateDelay(cfg, 1))
	assert.Equal(t, 2*time.Second, calculateDelay(cfg, 2))
	assert.Equal(t, 4*time.Second, calculateDelay(cfg, 3))
	assert.Equal(t, 5*time.Second, calculateDelay(cfg, 4))
}

func TestWithExponentialBackoff_HonoursUpstreamWait(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 2

	result := WithExponentialBackoff(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			return apperrors.NewPublisherRateLimitError(30*time.Millisecond, nil)
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.GreaterOrEqual(t, result.TotalDuration, 30*time.Millisecond)
}
