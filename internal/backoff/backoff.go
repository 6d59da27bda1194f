// Package backoff provides the delay calculation strategies used between
// retry attempts.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before the attempt-th retry. Implementations
// must be safe for concurrent use.
type Strategy interface {
	Delay(attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialJitter grows the delay geometrically and adds uniform jitter.
type ExponentialJitter struct{}

func (ExponentialJitter) Delay(attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the exponent so the float math cannot overflow into a negative
	// duration.
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(initial) * pow(multiplier, attempt))
	if delay < 0 || delay > max {
		delay = max
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		extra := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+extra > max {
			delay = max
		} else {
			delay += extra
		}
	}
	return delay
}

// DecorrelatedJitter implements the AWS decorrelated jitter scheme,
// random_between(base, min(cap, base*3^attempt)). It spreads retries of many
// concurrent callers more evenly than exponential jitter.
type DecorrelatedJitter struct{}

func (DecorrelatedJitter) Delay(attempt int, initial, max time.Duration, _, _ float64) time.Duration {
	if attempt <= 0 {
		return initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(initial)
	upper := base * pow(3.0, attempt)

	ceiling := float64(max)
	if upper > ceiling || upper < 0 {
		upper = ceiling
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > max {
		delay = max
	}
	return delay
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
