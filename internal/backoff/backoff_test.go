package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialJitterGrowth(t *testing.T) {
	s := ExponentialJitter{}

	d0 := s.Delay(0, 100*time.Millisecond, 10*time.Second, 2.0, 0)
	d1 := s.Delay(1, 100*time.Millisecond, 10*time.Second, 2.0, 0)
	d2 := s.Delay(2, 100*time.Millisecond, 10*time.Second, 2.0, 0)

	assert.Equal(t, 100*time.Millisecond, d0)
	assert.Equal(t, 200*time.Millisecond, d1)
	assert.Equal(t, 400*time.Millisecond, d2)
}

func TestExponentialJitterCap(t *testing.T) {
	s := ExponentialJitter{}
	d := s.Delay(20, 100*time.Millisecond, time.Second, 2.0, 0)
	assert.Equal(t, time.Second, d)
}

func TestExponentialJitterHugeAttemptStaysPositive(t *testing.T) {
	s := ExponentialJitter{}
	d := s.Delay(1000, 100*time.Millisecond, time.Second, 2.0, 0.5)
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, time.Second)
}

func TestExponentialJitterNegativeAttempt(t *testing.T) {
	s := ExponentialJitter{}
	d := s.Delay(-5, 100*time.Millisecond, time.Second, 2.0, 0)
	assert.Equal(t, 100*time.Millisecond, d)
}

func TestExponentialJitterBounds(t *testing.T) {
	s := ExponentialJitter{}
	for i := 0; i < 100; i++ {
		d := s.Delay(1, 100*time.Millisecond, 10*time.Second, 2.0, 0.1)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 220*time.Millisecond)
	}
}

func TestDecorrelatedJitterBounds(t *testing.T) {
	s := DecorrelatedJitter{}

	assert.Equal(t, 100*time.Millisecond, s.Delay(0, 100*time.Millisecond, 10*time.Second, 0, 0))

	for attempt := 1; attempt <= 15; attempt++ {
		d := s.Delay(attempt, 100*time.Millisecond, 10*time.Second, 0, 0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 10*time.Second, "attempt %d", attempt)
	}
}

func TestClampJitter(t *testing.T) {
	assert.Equal(t, 0.0, clampJitter(-1))
	assert.Equal(t, 0.5, clampJitter(0.5))
	assert.Equal(t, 1.0, clampJitter(2))
}

func TestPow(t *testing.T) {
	assert.Equal(t, 1.0, pow(2, 0))
	assert.Equal(t, 8.0, pow(2, 3))
	assert.Equal(t, 1.0, pow(5, 0))
}
