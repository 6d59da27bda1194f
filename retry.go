package gapura

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ambiyansyah-risyal/gapura/internal/backoff"
)

// BackoffStrategy selects the delay calculation between retries.
type BackoffStrategy int

const (
	// ExponentialJitter grows delays geometrically with uniform jitter.
	ExponentialJitter BackoffStrategy = iota
	// DecorrelatedJitter uses the AWS decorrelated jitter scheme.
	DecorrelatedJitter
)

// RetryPolicy declares how many times and under what conditions a failed
// attempt is retried. Attached to a request by value; policies are never
// shared mutable state between concurrent calls.
type RetryPolicy struct {
	// MaxAttempts is the total number of transport invocations: 3 permits
	// one initial attempt plus two retries. Values below 1 behave as 1.
	MaxAttempts int

	// Interval is the base delay before the first retry.
	Interval time.Duration

	// MaxInterval caps the computed delay.
	MaxInterval time.Duration

	// Multiplier and Jitter shape the backoff growth. A multiplier of 1 with
	// zero jitter yields a fixed Interval between attempts.
	Multiplier float64
	Jitter     float64

	// RetryableStatusCodes lists the response statuses worth retrying.
	RetryableStatusCodes []int

	// RetryOnConnectionError retries attempts that produced no response at
	// all. Cancellation is never retried.
	RetryOnConnectionError bool

	// Strategy selects the backoff curve.
	Strategy BackoffStrategy
}

// DefaultRetryPolicy returns the policy applied when a request carries none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:            3,
		Interval:               100 * time.Millisecond,
		MaxInterval:            10 * time.Second,
		Multiplier:             2.0,
		Jitter:                 0.1,
		RetryableStatusCodes:   []int{408, 429, 500, 502, 503, 504},
		RetryOnConnectionError: true,
		Strategy:               ExponentialJitter,
	}
}

// Retryable reports whether a response status is retryable under the policy.
func (p RetryPolicy) Retryable(status int) bool {
	for _, code := range p.RetryableStatusCodes {
		if code == status {
			return true
		}
	}
	return false
}

// Delay computes the wait before the retry following the attempt-th
// invocation (counted from 0). A parseable Retry-After header wins over the
// computed backoff.
func (p RetryPolicy) Delay(attempt int, retryAfter string) time.Duration {
	if d := parseRetryAfter(retryAfter); d > 0 {
		return d
	}

	interval := p.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ceiling := p.MaxInterval
	if ceiling <= 0 {
		ceiling = 10 * time.Second
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	return p.strategy().Delay(attempt, interval, ceiling, multiplier, p.Jitter)
}

func (p RetryPolicy) strategy() backoff.Strategy {
	switch p.Strategy {
	case DecorrelatedJitter:
		return backoff.DecorrelatedJitter{}
	default:
		return backoff.ExponentialJitter{}
	}
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// parseRetryAfter parses a Retry-After header in either delay-seconds or
// HTTP-date form. Delays are capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// RetryBudget caps retries across all requests in a sliding window so a
// failing dependency cannot multiply load through retry amplification.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	current     int64
	windowStart int64
}

// NewRetryBudget creates a budget of maxRetries per window.
func NewRetryBudget(maxRetries int, window time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  int64(maxRetries),
		perWindow:   window,
		windowStart: time.Now().UnixNano(),
	}
}

// Allow reports whether another retry fits in the current window.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := atomic.LoadInt64(&rb.windowStart)

	if now-windowStart >= int64(rb.perWindow) {
		if atomic.CompareAndSwapInt64(&rb.windowStart, windowStart, now) {
			atomic.StoreInt64(&rb.current, 0)
		}
	}

	if atomic.LoadInt64(&rb.current) >= rb.maxRetries {
		return false
	}

	return atomic.AddInt64(&rb.current, 1) <= rb.maxRetries
}

// Stats returns the current consumption and window start.
func (rb *RetryBudget) Stats() (current, max int64, windowStart time.Time) {
	return atomic.LoadInt64(&rb.current),
		rb.maxRetries,
		time.Unix(0, atomic.LoadInt64(&rb.windowStart))
}
