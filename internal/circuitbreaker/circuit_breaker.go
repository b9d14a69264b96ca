// Package circuitbreaker stops calls to an upstream that keeps failing and probes it
// again after a cool-down.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coin-tracker/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

var (
	// ErrCircuitOpen matches every *OpenError
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned while the half-open probe budget is in use
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// OpenError is returned instead of calling the upstream while the circuit is open
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open, retry in %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// Is makes errors.Is(err, ErrCircuitOpen) hold
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// Config configures a circuit breaker
type Config struct {
	Name string
	// MaxFailures is the run of counted failures that opens the circuit
	MaxFailures int
	// Timeout is how long the circuit stays open before probing
	Timeout time.Duration
	// HalfOpenMaxCalls successful probes close the circuit again
	HalfOpenMaxCalls int
	// IsFailure decides which errors count against the circuit. Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange is called with the lock released after every transition
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the settings used for market data providers
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Counts is a snapshot of the breaker
type Counts struct {
	State            State
	ConsecutiveFails int
	Opens            int
	Rejected         int
	Since            time.Time
}

// CircuitBreaker guards calls to one upstream
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	since     time.Time
	fails     int
	probes    int
	successes int
	opens     int
	rejected  int
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	cfg := *config
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	cb := &CircuitBreaker{cfg: cfg, now: time.Now, state: StateClosed}
	cb.since = cb.now()
	return cb
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.settle(err)
	return err
}

// admit decides whether a call may go through, moving open to half-open once the timeout passed
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()

	var change *transition
	switch cb.state {
	case StateOpen:
		elapsed := cb.now().Sub(cb.since)
		if elapsed < cb.cfg.Timeout {
			cb.rejected++
			cb.mu.Unlock()
			return &OpenError{Name: cb.cfg.Name, RetryAfter: cb.cfg.Timeout - elapsed}
		}
		change = cb.moveTo(StateHalfOpen)
		cb.probes++

	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMaxCalls {
			cb.rejected++
			cb.mu.Unlock()
			return ErrTooManyRequests
		}
		cb.probes++
	}

	cb.mu.Unlock()
	cb.notify(change)
	return nil
}

// settle records the outcome of an admitted call
func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()

	var change *transition
	failed := err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err))

	switch cb.state {
	case StateHalfOpen:
		if cb.probes > 0 {
			cb.probes--
		}
		if failed {
			change = cb.moveTo(StateOpen)
			break
		}
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenMaxCalls {
			change = cb.moveTo(StateClosed)
		}

	case StateClosed:
		if !failed {
			cb.fails = 0
			break
		}
		cb.fails++
		if cb.fails >= cb.cfg.MaxFailures {
			change = cb.moveTo(StateOpen)
		}
	}

	cb.mu.Unlock()
	cb.notify(change)
}

type transition struct {
	from, to State
	fails    int
}

// moveTo switches state and resets the per-state counters. Callers hold mu.
func (cb *CircuitBreaker) moveTo(state State) *transition {
	t := &transition{from: cb.state, to: state, fails: cb.fails}

	cb.state = state
	cb.since = cb.now()
	cb.probes = 0
	cb.successes = 0
	switch state {
	case StateOpen:
		cb.opens++
	case StateClosed:
		cb.fails = 0
	}
	return t
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}

	entry := logging.WithFields(map[string]interface{}{
		"circuitBreaker": cb.cfg.Name,
		"from":           t.from,
		"state":          t.to,
	})
	if t.to == StateOpen {
		entry.WithField("consecutiveFails", t.fails).Warn("Circuit breaker opened")
	} else {
		entry.Info("Circuit breaker state changed")
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a snapshot of the breaker
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Counts{
		State:            cb.state,
		ConsecutiveFails: cb.fails,
		Opens:            cb.opens,
		Rejected:         cb.rejected,
		Since:            cb.since,
	}
}

// Reset closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	if cb.state == StateClosed {
		cb.fails = 0
		cb.mu.Unlock()
		return
	}
	change := cb.moveTo(StateClosed)
	cb.mu.Unlock()
	cb.notify(change)
}
