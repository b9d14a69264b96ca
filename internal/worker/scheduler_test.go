package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coin-tracker/internal/service"
	"github.com/coin-tracker/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*storage.RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	cache := storage.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestNewScheduler_Validation(t *testing.T) {
	noop := func(ctx context.Context) error { return nil }

	_, err := NewScheduler(&SchedulerConfig{})
	assert.Error(t, err)

	_, err = NewScheduler(&SchedulerConfig{Jobs: []Job{{Name: "a", Interval: 0, Run: noop}}})
	assert.Error(t, err)

	_, err = NewScheduler(&SchedulerConfig{Jobs: []Job{
		{Name: "a", Interval: time.Second, Run: noop},
		{Name: "a", Interval: time.Second, Run: noop},
	}})
	assert.Error(t, err)

	_, err = NewScheduler(&SchedulerConfig{Jobs: []Job{{Name: "a", Interval: time.Second}}})
	assert.Error(t, err)
}

func TestScheduler_RunsImmediatelyAndOnInterval(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler(&SchedulerConfig{Jobs: []Job{{
		Name:     "tick",
		Interval: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}}})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start must fail")

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.Error(t, s.Stop(stopCtx))

	stopped := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())
}

func TestScheduler_FailureDoesNotStopLoop(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler(&SchedulerConfig{Jobs: []Job{{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("upstream down")
		},
	}}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	st := s.Status()[0]
	assert.GreaterOrEqual(t, st.Failures, 2)
	assert.Equal(t, "upstream down", st.LastError)
}

func TestScheduler_ExclusiveJobSkipsWhenLocked(t *testing.T) {
	locker, _ := newTestLocker(t)
	ran := false
	s, err := NewScheduler(&SchedulerConfig{
		Locker:  locker,
		LockKey: "tracker:lock",
		Jobs: []Job{{
			Name:      JobMarket,
			Interval:  time.Hour,
			Exclusive: true,
			Run: func(ctx context.Context) error {
				ran = true
				return nil
			},
		}},
	})
	require.NoError(t, err)

	release, acquired, err := locker.TryLock(context.Background(), "tracker:lock", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	executed, err := s.RunJob(context.Background(), JobMarket)
	require.NoError(t, err)
	assert.False(t, executed)
	assert.False(t, ran)
	assert.Equal(t, 1, s.Status()[0].Skipped)

	require.NoError(t, release(context.Background()))

	executed, err = s.RunJob(context.Background(), JobMarket)
	require.NoError(t, err)
	assert.True(t, executed)
	assert.True(t, ran)
}

func TestScheduler_LockReleasedAfterRun(t *testing.T) {
	locker, mr := newTestLocker(t)
	s, err := NewScheduler(&SchedulerConfig{
		Locker: locker,
		Jobs: []Job{{
			Name:      JobMarket,
			Interval:  time.Hour,
			Exclusive: true,
			Run: func(ctx context.Context) error {
				if !mr.Exists("tracker:lock") {
					return errors.New("lock not held during run")
				}
				return nil
			},
		}},
	})
	require.NoError(t, err)

	_, err = s.RunJob(context.Background(), JobMarket)
	require.NoError(t, err)
	assert.False(t, mr.Exists("tracker:lock"))
}

func TestNewScheduler_LockTTLCoversLongestExclusiveInterval(t *testing.T) {
	noop := func(ctx context.Context) error { return nil }

	tests := []struct {
		name string
		cfg  SchedulerConfig
		want time.Duration
	}{
		{"short intervals keep the floor", SchedulerConfig{Jobs: []Job{
			{Name: "a", Interval: time.Minute, Exclusive: true, Run: noop},
		}}, 10 * time.Minute},
		{"long exclusive interval doubles", SchedulerConfig{Jobs: []Job{
			{Name: "a", Interval: time.Minute, Exclusive: true, Run: noop},
			{Name: "b", Interval: time.Hour, Exclusive: true, Run: noop},
		}}, 2 * time.Hour},
		{"non-exclusive jobs ignored", SchedulerConfig{Jobs: []Job{
			{Name: "a", Interval: 24 * time.Hour, Run: noop},
		}}, 10 * time.Minute},
		{"explicit ttl wins", SchedulerConfig{LockTTL: time.Minute, Jobs: []Job{
			{Name: "a", Interval: time.Hour, Exclusive: true, Run: noop},
		}}, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewScheduler(&tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.lockTTL)
		})
	}
}

func TestScheduler_ExclusiveRunBoundedByLockTTL(t *testing.T) {
	locker, mr := newTestLocker(t)
	s, err := NewScheduler(&SchedulerConfig{
		Locker:  locker,
		LockTTL: 50 * time.Millisecond,
		Jobs: []Job{{
			Name:      JobMarket,
			Interval:  time.Hour,
			Exclusive: true,
			Run: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		}},
	})
	require.NoError(t, err)

	executed, err := s.RunJob(context.Background(), JobMarket)
	assert.True(t, executed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, mr.Exists("tracker:lock"))
}

func TestScheduler_UnknownJob(t *testing.T) {
	s, err := NewScheduler(&SchedulerConfig{Jobs: []Job{{Name: "a", Interval: time.Second, Run: func(ctx context.Context) error { return nil }}}})
	require.NoError(t, err)

	_, err = s.RunJob(context.Background(), "b")
	assert.Error(t, err)
}

type stubSynchronizer struct {
	calls *[]string
	err   error
}

func (s stubSynchronizer) Synchronize(ctx context.Context) (*service.SyncResult, error) {
	*s.calls = append(*s.calls, "sync")
	return &service.SyncResult{}, s.err
}

type stubValuator struct {
	calls *[]string
}

func (v stubValuator) AddNewCoins(ctx context.Context) (*service.ReconcileResult, error) {
	*v.calls = append(*v.calls, "add")
	return &service.ReconcileResult{}, nil
}

func (v stubValuator) RevalueAll(ctx context.Context) (*service.RevaluationResult, error) {
	*v.calls = append(*v.calls, "revalue")
	return &service.RevaluationResult{}, nil
}

func TestMarketJob_Order(t *testing.T) {
	var calls []string

	require.NoError(t, MarketJob(stubSynchronizer{calls: &calls}, stubValuator{calls: &calls}, true)(context.Background()))
	assert.Equal(t, []string{"sync", "add", "revalue"}, calls)

	calls = nil
	require.NoError(t, MarketJob(stubSynchronizer{calls: &calls}, stubValuator{calls: &calls}, false)(context.Background()))
	assert.Equal(t, []string{"sync", "revalue"}, calls)
}

func TestMarketJob_SyncFailureStopsRun(t *testing.T) {
	var calls []string

	err := MarketJob(stubSynchronizer{calls: &calls, err: errors.New("db down")}, stubValuator{calls: &calls}, true)(context.Background())
	assert.ErrorContains(t, err, "synchronize")
	assert.Equal(t, []string{"sync"}, calls)
}
