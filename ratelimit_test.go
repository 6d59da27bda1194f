package gapura

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(0.001, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(), "burst token %d", i)
	}
	assert.False(t, rl.Allow())
}

func TestRateLimiterReplenishes(t *testing.T) {
	rl := NewRateLimiter(100, 1)

	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, rl.Allow(), "tokens must replenish at the sustained rate")
}

func TestRateLimiterAccessors(t *testing.T) {
	rl := NewRateLimiter(10, 20)
	assert.Equal(t, 10.0, rl.Limit())
	assert.Equal(t, 20, rl.Burst())
	assert.Greater(t, rl.Tokens(), 0.0)
}
