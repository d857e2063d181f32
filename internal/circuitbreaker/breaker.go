// Package circuitbreaker isolates failing partners behind count-based
// sliding-window breakers so one slow or broken operator cannot amplify
// latency across the whole hub.
package circuitbreaker

import (
	"errors"
	"log"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, calls pass through
	StateOpen                  // Thresholds exceeded, calls rejected fast
	StateHalfOpen              // Bounded probe calls test recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Common errors
var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies this circuit breaker
	Name string

	// SlidingWindowSize is the number of recent calls evaluated
	SlidingWindowSize int

	// MinimumCalls is the number of recorded calls required before the
	// failure and slow-call rates are evaluated at all
	MinimumCalls int

	// FailureRateThreshold trips the breaker when the failure rate in the
	// window reaches it (0..1)
	FailureRateThreshold float64

	// SlowCallRateThreshold trips the breaker when the slow-call rate in the
	// window reaches it (0..1)
	SlowCallRateThreshold float64

	// SlowCallThreshold is the duration at or above which a call counts as slow
	SlowCallThreshold time.Duration

	// OpenStateDuration is how long the breaker stays open before probing
	OpenStateDuration time.Duration

	// HalfOpenMaxCalls is the number of probe calls permitted in half-open
	HalfOpenMaxCalls int

	// OnStateChange is called whenever the circuit state changes
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig returns the hub-wide partner breaker configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:                  name,
		SlidingWindowSize:     10,
		MinimumCalls:          5,
		FailureRateThreshold:  0.5,
		SlowCallRateThreshold: 0.5,
		SlowCallThreshold:     2 * time.Second,
		OpenStateDuration:     10 * time.Second,
		HalfOpenMaxCalls:      3,
		OnStateChange: func(name string, from State, to State) {
			log.Printf("[CircuitBreaker:%s] State change: %s -> %s", name, from, to)
		},
	}
}

func (c *Config) sanitize() {
	if c.SlidingWindowSize <= 0 {
		c.SlidingWindowSize = 10
	}
	if c.MinimumCalls <= 0 {
		c.MinimumCalls = 5
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.5
	}
	if c.SlowCallRateThreshold <= 0 {
		c.SlowCallRateThreshold = 0.5
	}
	if c.SlowCallThreshold <= 0 {
		c.SlowCallThreshold = 2 * time.Second
	}
	if c.OpenStateDuration <= 0 {
		c.OpenStateDuration = 10 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 3
	}
}

// ============================================================================
// CIRCUIT BREAKER
// ============================================================================

type callOutcome struct {
	failure bool
	slow    bool
}

// Counts summarizes the outcomes currently held in the sliding window
type Counts struct {
	Calls     int
	Failures  int
	SlowCalls int
}

// FailureRate returns the failure ratio of the window
func (c Counts) FailureRate() float64 {
	if c.Calls == 0 {
		return 0.0
	}
	return float64(c.Failures) / float64(c.Calls)
}

// SlowCallRate returns the slow-call ratio of the window
func (c Counts) SlowCallRate() float64 {
	if c.Calls == 0 {
		return 0.0
	}
	return float64(c.SlowCalls) / float64(c.Calls)
}

// CircuitBreaker implements a count-based sliding-window circuit breaker.
// Closed: every call is permitted and its outcome is pushed into the window;
// once the window holds the minimum number of calls, crossing either the
// failure-rate or the slow-call-rate threshold opens the breaker.
// Open: every call is rejected fast until the open-state duration elapses.
// HalfOpen: a bounded number of probe calls is permitted; any probe failure
// reopens the breaker, enough probe successes close it and reset the window.
type CircuitBreaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	window   []callOutcome
	head     int
	filled   int
	failures int
	slow     int
	openedAt time.Time

	halfOpenPermits   int // permits handed out in half-open
	halfOpenSuccesses int
}

// New creates a circuit breaker in the closed state
func New(cfg Config) *CircuitBreaker {
	cfg.sanitize()
	return &CircuitBreaker{
		cfg:    cfg,
		state:  StateClosed,
		window: make([]callOutcome, cfg.SlidingWindowSize),
	}
}

// Name returns the circuit breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Acquire asks for a permit to make one call. It returns nil when the call
// may proceed, ErrCircuitOpen while the breaker is open, and
// ErrTooManyRequests when the half-open probe budget is exhausted. Callers
// that obtain a permit must report the outcome through RecordSuccess or
// RecordFailure.
func (cb *CircuitBreaker) Acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.refreshStateLocked(now)

	switch cb.state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenPermits >= cb.cfg.HalfOpenMaxCalls {
			return ErrTooManyRequests
		}
		cb.halfOpenPermits++
	}
	return nil
}

// RecordSuccess reports a completed call that did not fail at the transport
// level. Slow successes still count against the slow-call rate.
func (cb *CircuitBreaker) RecordSuccess(duration time.Duration) {
	cb.record(callOutcome{failure: false, slow: duration >= cb.cfg.SlowCallThreshold})
}

// RecordFailure reports a failed call: I/O errors, timeouts, and unhandled
// runtime faults all land here.
func (cb *CircuitBreaker) RecordFailure(duration time.Duration, cause error) {
	cb.record(callOutcome{failure: true, slow: duration >= cb.cfg.SlowCallThreshold})
}

// RecordCancellation reports a permitted call that was abandoned before it
// produced an outcome. The sliding window is untouched; in half-open the
// probe permit is returned so the probe budget is not burned by calls that
// never tested the partner.
func (cb *CircuitBreaker) RecordCancellation() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenPermits > 0 {
		cb.halfOpenPermits--
	}
}

// State returns the current state, promoting open breakers to half-open once
// the open-state duration has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshStateLocked(time.Now())
	return cb.state
}

// Counts returns a snapshot of the sliding window
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Counts{Calls: cb.filled, Failures: cb.failures, SlowCalls: cb.slow}
}

func (cb *CircuitBreaker) record(outcome callOutcome) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.refreshStateLocked(now)

	switch cb.state {
	case StateClosed:
		cb.pushLocked(outcome)
		if cb.filled >= cb.cfg.MinimumCalls {
			counts := Counts{Calls: cb.filled, Failures: cb.failures, SlowCalls: cb.slow}
			if counts.FailureRate() >= cb.cfg.FailureRateThreshold ||
				counts.SlowCallRate() >= cb.cfg.SlowCallRateThreshold {
				cb.setStateLocked(StateOpen, now)
			}
		}
	case StateHalfOpen:
		if outcome.failure {
			cb.setStateLocked(StateOpen, now)
			return
		}
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.HalfOpenMaxCalls {
			cb.setStateLocked(StateClosed, now)
		}
	case StateOpen:
		// Late result from a call permitted before the breaker opened.
	}
}

// refreshStateLocked promotes open to half-open after the wait duration.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) refreshStateLocked(now time.Time) {
	if cb.state == StateOpen && now.Sub(cb.openedAt) >= cb.cfg.OpenStateDuration {
		cb.setStateLocked(StateHalfOpen, now)
	}
}

// setStateLocked transitions the breaker and resets per-state bookkeeping.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) setStateLocked(state State, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	switch state {
	case StateOpen:
		cb.openedAt = now
	case StateHalfOpen:
		cb.halfOpenPermits = 0
		cb.halfOpenSuccesses = 0
	case StateClosed:
		cb.clearWindowLocked()
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, prev, state)
	}
}

func (cb *CircuitBreaker) pushLocked(outcome callOutcome) {
	if cb.filled == len(cb.window) {
		evicted := cb.window[cb.head]
		if evicted.failure {
			cb.failures--
		}
		if evicted.slow {
			cb.slow--
		}
	} else {
		cb.filled++
	}

	cb.window[cb.head] = outcome
	cb.head = (cb.head + 1) % len(cb.window)

	if outcome.failure {
		cb.failures++
	}
	if outcome.slow {
		cb.slow++
	}
}

func (cb *CircuitBreaker) clearWindowLocked() {
	cb.head = 0
	cb.filled = 0
	cb.failures = 0
	cb.slow = 0
}
