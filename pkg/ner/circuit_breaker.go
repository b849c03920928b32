package ner

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState is the breaker's externally visible state.
type CircuitState int

const (
	// CircuitClosed: the sidecar is believed healthy and calls go through.
	CircuitClosed CircuitState = iota
	// CircuitOpen: too many consecutive failures, calls are refused.
	CircuitOpen
	// CircuitHalfOpen: one probe call is checking whether the sidecar recovered.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes when the breaker trips and when it re-tests.
type CircuitBreakerConfig struct {
	// Threshold is how many recognition calls must fail in a row before the
	// breaker refuses further traffic.
	Threshold int
	// ResetAfter is how long the breaker stays open before letting a single
	// probe through.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig returns the defaults used for the NER sidecar.
// A scan batch can issue hundreds of recognition calls, so the breaker keeps
// a dead sidecar from stalling every column on its own timeout.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker refuses recognition calls after a run of failures and lets a
// single probe through once ResetAfter has elapsed. The state is derived from
// the failure streak and the probe flag rather than stored directly.
type CircuitBreaker struct {
	mu         sync.Mutex
	threshold  int
	resetAfter time.Duration

	streak   int       // consecutive failures
	openedAt time.Time // last failure that left the breaker tripped
	probing  bool      // a half-open recovery probe is in flight
}

// NewCircuitBreaker builds a closed breaker with the given tuning.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
	}
}

// Allow reports whether a recognition call may proceed. Once ResetAfter has
// elapsed on an open breaker it admits exactly one probe; everything else is
// refused until that probe reports back.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.probing {
		return false, errors.New("circuit breaker half-open: recovery probe already in flight")
	}
	if cb.streak < cb.threshold {
		return true, nil
	}
	if wait := cb.resetAfter - time.Since(cb.openedAt); wait > 0 {
		return false, fmt.Errorf("circuit breaker open after %d consecutive NER failures, next attempt in %v",
			cb.streak, wait.Round(time.Second))
	}
	cb.probing = true
	return true, nil
}

// RecordSuccess closes the breaker and clears the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.streak = 0
	cb.probing = false
}

// RecordFailure extends the failure streak. Crossing the threshold, or a
// failed probe, leaves the breaker open for another ResetAfter window.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.streak++
	cb.probing = false
	if cb.streak >= cb.threshold {
		cb.openedAt = time.Now()
	}
}

// State derives the breaker state for logs and scan status reporting.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case cb.probing:
		return CircuitHalfOpen
	case cb.streak >= cb.threshold:
		return CircuitOpen
	default:
		return CircuitClosed
	}
}

// ConsecutiveFailures reports the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.streak
}
