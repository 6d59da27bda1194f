package gapura

import (
	"sync/atomic"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreakerConfig holds circuit breaker thresholds. Zero values take the
// defaults applied by NewCircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// CircuitBreaker short-circuits requests to an endpoint that keeps failing.
// All state transitions use atomics; safe for concurrent use.
type CircuitBreaker struct {
	config      CircuitBreakerConfig
	state       int64
	failures    int64
	successes   int64
	lastFailure int64
}

// NewCircuitBreaker creates a breaker with defaults for unset config fields.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}

	return &CircuitBreaker{
		config: config,
		state:  int64(StateClosed),
	}
}

// Allow reports whether a request may proceed, transitioning open to
// half-open once the recovery timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	now := time.Now().UnixNano()

	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		return true
	case StateOpen:
		lastFailure := atomic.LoadInt64(&cb.lastFailure)
		if now-lastFailure >= int64(cb.config.RecoveryTimeout) {
			if atomic.CompareAndSwapInt64(&cb.state, int64(StateOpen), int64(StateHalfOpen)) {
				atomic.StoreInt64(&cb.successes, 0)
				return true
			}
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordFailure counts a failed attempt; a failure while half-open reopens
// the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	atomic.StoreInt64(&cb.lastFailure, time.Now().UnixNano())

	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		if atomic.AddInt64(&cb.failures, 1) >= int64(cb.config.FailureThreshold) {
			atomic.StoreInt64(&cb.state, int64(StateOpen))
		}
	case StateHalfOpen:
		atomic.AddInt64(&cb.failures, 1)
		atomic.StoreInt64(&cb.state, int64(StateOpen))
		atomic.StoreInt64(&cb.successes, 0)
	}
}

// RecordSuccess counts a successful attempt; enough successes while
// half-open close the circuit again.
func (cb *CircuitBreaker) RecordSuccess() {
	if CircuitState(atomic.LoadInt64(&cb.state)) != StateHalfOpen {
		return
	}
	if atomic.AddInt64(&cb.successes, 1) >= int64(cb.config.SuccessThreshold) {
		atomic.StoreInt64(&cb.state, int64(StateClosed))
		atomic.StoreInt64(&cb.failures, 0)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}
