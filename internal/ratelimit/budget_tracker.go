// Package ratelimit provides a request budget shared through Redis, so that every
// process calling the same upstream API key stays inside the upstream's limit.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/coin-tracker/internal/logging"
	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultWindowSize = time.Minute
	DefaultKeyPrefix  = "budget:"
)

// consumeScript increments the window counter only while it stays within budget.
// Returns {allowed, used}.
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local cost = tonumber(ARGV[1])
	local budget = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + cost > budget then
		return {0, used}
	end

	used = redis.call('INCRBY', key, cost)
	redis.call('PEXPIRE', key, ttl)
	return {1, used}
`)

// BudgetTracker counts requests against a fixed-window budget kept in Redis.
type BudgetTracker struct {
	redis      redis.Cmdable
	name       string
	keyPrefix  string
	budget     int
	windowSize time.Duration
	now        func() time.Time
}

// BudgetTrackerConfig holds configuration for the budget tracker.
type BudgetTrackerConfig struct {
	// Redis is the client shared by every process drawing on the budget. Required.
	Redis redis.Cmdable

	// Name identifies the upstream, e.g. "coingecko". Required.
	Name string

	// Budget is the number of requests allowed per window. Required.
	Budget int

	// WindowSize is the window duration. Default: 1m.
	WindowSize time.Duration

	// KeyPrefix prefixes the Redis counter keys. Default: "budget:".
	KeyPrefix string
}

// Usage is the consumption of the current window.
type Usage struct {
	Used        int
	Budget      int
	WindowStart time.Time
}

// Validate checks if the configuration is valid.
func (c *BudgetTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Name == "" {
		return errors.New("budget name is required")
	}
	if c.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %d", c.Budget)
	}
	if c.WindowSize < 0 {
		return errors.New("window size cannot be negative")
	}
	return nil
}

// NewBudgetTracker creates a new tracker with the given configuration.
func NewBudgetTracker(cfg *BudgetTrackerConfig) (*BudgetTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	return &BudgetTracker{
		redis:      cfg.Redis,
		name:       cfg.Name,
		keyPrefix:  keyPrefix,
		budget:     cfg.Budget,
		windowSize: windowSize,
		now:        time.Now,
	}, nil
}

// windowStart returns the start of the window containing the current time.
func (t *BudgetTracker) windowStart() time.Time {
	return t.now().Truncate(t.windowSize)
}

func (t *BudgetTracker) key(windowStart time.Time) string {
	return t.keyPrefix + t.name + ":" + strconv.FormatInt(windowStart.UnixMilli(), 10)
}

// TryConsume attempts to take cost requests from the current window.
// When denied, waitTime is the time left until the next window starts.
// A Redis failure is returned as an error and consumes nothing.
func (t *BudgetTracker) TryConsume(ctx context.Context, cost int) (allowed bool, waitTime time.Duration, err error) {
	if cost <= 0 {
		return true, 0, nil
	}
	if cost > t.budget {
		return false, 0, fmt.Errorf("cost %d exceeds the whole %s budget of %d", cost, t.name, t.budget)
	}

	start := t.windowStart()
	// keep the key one extra window so late readers still see it
	ttl := 2 * t.windowSize

	result, err := consumeScript.Run(ctx, t.redis, []string{t.key(start)},
		cost, t.budget, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to consume %s budget: %w", t.name, err)
	}

	if result[0] == 1 {
		return true, 0, nil
	}
	return false, t.waitTime(start), nil
}

// Wait blocks until one request fits in the budget or ctx is done.
func (t *BudgetTracker) Wait(ctx context.Context) error {
	for {
		allowed, wait, err := t.TryConsume(ctx, 1)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"budget": t.name,
			"wait":   wait,
		}).Debug("Request budget exhausted, waiting for next window")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// waitTime returns the time until the window after start begins.
func (t *BudgetTracker) waitTime(start time.Time) time.Duration {
	wait := start.Add(t.windowSize).Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	// Add a small buffer to ensure we're in the new window
	return wait + time.Millisecond
}

// GetUsage returns the consumption of the current window.
func (t *BudgetTracker) GetUsage(ctx context.Context) (*Usage, error) {
	start := t.windowStart()

	used, err := t.redis.Get(ctx, t.key(start)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read %s budget: %w", t.name, err)
	}

	return &Usage{
		Used:        used,
		Budget:      t.budget,
		WindowStart: start,
	}, nil
}

// Budget returns the configured requests per window.
func (t *BudgetTracker) Budget() int {
	return t.budget
}

// WindowSize returns the configured window size.
func (t *BudgetTracker) WindowSize() time.Duration {
	return t.windowSize
}
