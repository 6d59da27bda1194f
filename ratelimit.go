package gapura

import "golang.org/x/time/rate"

// RateLimiter gates outgoing requests with a token bucket. A rejected request
// fails locally with KindRateLimit before any transport call.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows ratePerSecond sustained requests with the given burst.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Allow consumes one token if available.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Tokens reports the tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	return rl.limiter.Tokens()
}

// Limit reports the configured sustained rate.
func (rl *RateLimiter) Limit() float64 {
	return float64(rl.limiter.Limit())
}

// Burst reports the configured burst size.
func (rl *RateLimiter) Burst() int {
	return rl.limiter.Burst()
}
