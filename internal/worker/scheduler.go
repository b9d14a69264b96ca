package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coin-tracker/internal/logging"
)

// Locker hands out named locks shared between tracker processes
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// JobFunc is one run of a scheduled job
type JobFunc func(ctx context.Context) error

// Job is a named unit of work repeated on an interval
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
	// Exclusive jobs hold the scheduler lock while running; a tick that cannot get it is skipped
	Exclusive bool
}

// JobStatus reports the history of one job
type JobStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Runs      int           `json:"runs"`
	Failures  int           `json:"failures"`
	Skipped   int           `json:"skipped"`
	LastRun   time.Time     `json:"lastRun,omitempty"`
	LastError string        `json:"lastError,omitempty"`
}

// minLockTTL is the smallest default lock lifetime
const minLockTTL = 10 * time.Minute

// SchedulerConfig holds configuration for a scheduler.
//
// LockTTL bounds how long a crashed holder can block other processes. It also bounds
// every exclusive run: the run's context is cancelled once LockTTL elapses, so a run
// never keeps working after its lock may have expired and been taken elsewhere.
// When zero it defaults to twice the longest exclusive job interval, and never less
// than ten minutes.
type SchedulerConfig struct {
	Jobs    []Job
	Locker  Locker // optional
	LockKey string
	LockTTL time.Duration
}

// Scheduler runs jobs on their intervals, each in its own loop, first run immediately
type Scheduler struct {
	jobs    []Job
	locker  Locker
	lockKey string
	lockTTL time.Duration

	mu      sync.RWMutex
	running bool
	status  map[string]*JobStatus
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if len(cfg.Jobs) == 0 {
		return nil, fmt.Errorf("scheduler needs at least one job")
	}

	status := make(map[string]*JobStatus, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		if job.Name == "" {
			return nil, fmt.Errorf("job name cannot be empty")
		}
		if job.Run == nil {
			return nil, fmt.Errorf("job %s has no run function", job.Name)
		}
		if job.Interval <= 0 {
			return nil, fmt.Errorf("job %s interval must be positive, got %v", job.Name, job.Interval)
		}
		if _, dup := status[job.Name]; dup {
			return nil, fmt.Errorf("duplicate job %s", job.Name)
		}
		status[job.Name] = &JobStatus{Name: job.Name, Interval: job.Interval}
	}

	lockKey := cfg.LockKey
	if lockKey == "" {
		lockKey = "tracker:lock"
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL(cfg.Jobs)
	}

	return &Scheduler{
		jobs:    cfg.Jobs,
		locker:  cfg.Locker,
		lockKey: lockKey,
		lockTTL: lockTTL,
		status:  status,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start launches every job loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.jobLoop(ctx, job)
		}(job)
	}

	go func() {
		wg.Wait()
		close(s.doneCh)
	}()

	logging.FromContext(ctx).WithField("jobs", len(s.jobs)).Info("Scheduler started")
	return nil
}

// Stop signals every job loop and waits for the running jobs to return
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		logging.FromContext(ctx).Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		logging.FromContext(ctx).Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) jobLoop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	logger := logging.FromContext(ctx).WithComponent("worker")
	jobCtx := logging.WithLogger(ctx, logger)

	for {
		if _, err := s.RunJob(jobCtx, job.Name); err != nil {
			logger.WithError(err).WithField("job", job.Name).Error("Job failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// RunJob runs one job now. It reports false when the job was skipped because another
// process holds the lock.
func (s *Scheduler) RunJob(ctx context.Context, name string) (bool, error) {
	job, ok := s.job(name)
	if !ok {
		return false, fmt.Errorf("unknown job %s", name)
	}
	logger := logging.FromContext(ctx).WithField("job", name)

	if job.Exclusive && s.locker != nil {
		release, acquired, err := s.locker.TryLock(ctx, s.lockKey, s.lockTTL)
		if err != nil {
			s.record(name, time.Now(), err)
			return false, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if !acquired {
			s.skip(name)
			logger.Info("Lock held elsewhere, skipping run")
			return false, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.WithError(err).Warn("Failed to release lock")
			}
		}()

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockTTL)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	s.record(name, start, err)

	logger.WithField("duration", time.Since(start)).Debug("Job finished")
	return true, err
}

func defaultLockTTL(jobs []Job) time.Duration {
	ttl := minLockTTL
	for _, job := range jobs {
		if job.Exclusive && 2*job.Interval > ttl {
			ttl = 2 * job.Interval
		}
	}
	return ttl
}

// Status returns a copy of every job's status in registration order
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *s.status[job.Name])
	}
	return out
}

func (s *Scheduler) job(name string) (Job, bool) {
	for _, job := range s.jobs {
		if job.Name == name {
			return job, true
		}
	}
	return Job{}, false
}

func (s *Scheduler) record(name string, at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status[name]
	st.Runs++
	st.LastRun = at
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
}

func (s *Scheduler) skip(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[name].Skipped++
}
