// Package client supervises a tunnel connection: it owns the retry
// policy and re-establishes the tunnel when the link drops.
package client

import (
	"math/rand"
	"sync"
	"time"
)

// ReconnectStrategy provides configurable reconnection behavior.
type ReconnectStrategy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      int // 0 = unlimited
	JitterPercent   float64
	CircuitBreaker  *CircuitBreaker

	currentInterval time.Duration
	attempts        int
	mu              sync.Mutex
}

// NewReconnectStrategy creates a strategy with the default intervals.
func NewReconnectStrategy() *ReconnectStrategy {
	return &ReconnectStrategy{
		InitialInterval: 1 * time.Second,
		MaxInterval:     60 * time.Second,
		MaxRetries:      0,
		JitterPercent:   0.1,
		currentInterval: 1 * time.Second,
	}
}

// NextBackoff calculates the next backoff duration.
func (r *ReconnectStrategy) NextBackoff() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CircuitBreaker != nil && !r.CircuitBreaker.Allow() {
		return r.MaxInterval
	}

	jitter := time.Duration(0)
	if r.JitterPercent > 0 {
		jitter = time.Duration(float64(r.currentInterval) * r.JitterPercent * (rand.Float64()*2 - 1))
	}

	backoff := r.currentInterval + jitter

	r.currentInterval = time.Duration(float64(r.currentInterval) * 2)
	if r.currentInterval > r.MaxInterval {
		r.currentInterval = r.MaxInterval
	}

	r.attempts++
	return backoff
}

// Reset restores the initial interval and clears the attempt counter.
func (r *ReconnectStrategy) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentInterval = r.InitialInterval
	r.attempts = 0
	if r.CircuitBreaker != nil {
		r.CircuitBreaker.Reset()
	}
}

// ShouldRetry returns true while the retry budget lasts.
func (r *ReconnectStrategy) ShouldRetry() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.MaxRetries == 0 || r.attempts < r.MaxRetries
}

// Attempts returns the number of attempts made.
func (r *ReconnectStrategy) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	failures         int
	lastFailure      time.Time
	state            CircuitState
	mu               sync.RWMutex
}

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            CircuitClosed,
	}
}

// Allow returns true if the operation should be allowed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	case CircuitHalfOpen:
		return true
	}
	return true
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitClosed
		cb.failures = 0
	case CircuitClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed operation.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	case CircuitClosed:
		if cb.failures >= cb.failureThreshold {
			cb.state = CircuitOpen
		}
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
}

// String returns the state name.
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
