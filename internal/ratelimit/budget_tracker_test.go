package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getTestRedisClient returns a client backed by an in-process Redis.
func getTestRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

// newTestTracker pins the clock to a fixed point inside a window.
func newTestTracker(t *testing.T, client redis.Cmdable, budget int, now time.Time) *BudgetTracker {
	t.Helper()

	tracker, err := NewBudgetTracker(&BudgetTrackerConfig{
		Redis:      client,
		Name:       "coingecko",
		Budget:     budget,
		WindowSize: time.Minute,
	})
	require.NoError(t, err)
	tracker.now = func() time.Time { return now }
	return tracker
}

func TestNewBudgetTracker(t *testing.T) {
	client, _ := getTestRedisClient(t)

	tests := []struct {
		name   string
		cfg    *BudgetTrackerConfig
		errMsg string
	}{
		{"nil config", nil, "configuration is required"},
		{"nil redis client", &BudgetTrackerConfig{Name: "coingecko", Budget: 10}, "redis client is required"},
		{"missing name", &BudgetTrackerConfig{Redis: client, Budget: 10}, "budget name is required"},
		{"zero budget", &BudgetTrackerConfig{Redis: client, Name: "coingecko"}, "budget must be positive"},
		{"negative window", &BudgetTrackerConfig{Redis: client, Name: "coingecko", Budget: 1, WindowSize: -time.Second}, "window size cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBudgetTracker(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	tracker, err := NewBudgetTracker(&BudgetTrackerConfig{Redis: client, Name: "coingecko", Budget: 30})
	require.NoError(t, err)
	assert.Equal(t, 30, tracker.Budget())
	assert.Equal(t, DefaultWindowSize, tracker.WindowSize())
}

func TestBudgetTracker_TryConsume(t *testing.T) {
	client, mr := getTestRedisClient(t)
	now := time.Date(2024, 5, 1, 12, 0, 15, 0, time.UTC)
	tracker := newTestTracker(t, client, 3, now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, wait, err := tracker.TryConsume(ctx, 1)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should fit", i+1)
		assert.Zero(t, wait)
	}

	allowed, wait, err := tracker.TryConsume(ctx, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 45*time.Second+time.Millisecond, wait)

	usage, err := tracker.GetUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, usage.Used)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), usage.WindowStart)

	// the counter expires after two windows
	key := tracker.key(usage.WindowStart)
	assert.Equal(t, 2*time.Minute, mr.TTL(key))
}

func TestBudgetTracker_NewWindowResets(t *testing.T) {
	client, _ := getTestRedisClient(t)
	now := time.Date(2024, 5, 1, 12, 0, 59, 0, time.UTC)
	tracker := newTestTracker(t, client, 1, now)
	ctx := context.Background()

	allowed, _, err := tracker.TryConsume(ctx, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = tracker.TryConsume(ctx, 1)
	require.NoError(t, err)
	require.False(t, allowed)

	tracker.now = func() time.Time { return now.Add(2 * time.Second) }

	allowed, _, err = tracker.TryConsume(ctx, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestBudgetTracker_SharedAcrossTrackers(t *testing.T) {
	client, _ := getTestRedisClient(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := newTestTracker(t, client, 2, now)
	second := newTestTracker(t, client, 2, now)
	ctx := context.Background()

	allowed, _, err := first.TryConsume(ctx, 1)
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, _, err = second.TryConsume(ctx, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = first.TryConsume(ctx, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestBudgetTracker_CostEdgeCases(t *testing.T) {
	client, _ := getTestRedisClient(t)
	tracker := newTestTracker(t, client, 5, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	allowed, _, err := tracker.TryConsume(ctx, 0)
	require.NoError(t, err)
	assert.True(t, allowed)

	_, _, err = tracker.TryConsume(ctx, 6)
	assert.Error(t, err)

	usage, err := tracker.GetUsage(ctx)
	require.NoError(t, err)
	assert.Zero(t, usage.Used)
}

func TestBudgetTracker_RedisFailure(t *testing.T) {
	client, mr := getTestRedisClient(t)
	tracker := newTestTracker(t, client, 5, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	mr.Close()

	allowed, _, err := tracker.TryConsume(context.Background(), 1)
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestBudgetTracker_WaitHonorsContext(t *testing.T) {
	client, _ := getTestRedisClient(t)
	tracker := newTestTracker(t, client, 1, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, tracker.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tracker.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
