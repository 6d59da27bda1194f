package gapura

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaultsAreValid(t *testing.T) {
	client := New()
	assert.True(t, client.IsValid(), "%v", client.ValidationError())
	assert.Nil(t, client.Tokens())
	assert.Nil(t, client.Cache())
	assert.False(t, client.MockingEnabled())
}

func TestValidateRetryConfig(t *testing.T) {
	tests := []struct {
		name   string
		policy RetryPolicy
		valid  bool
	}{
		{"default", DefaultRetryPolicy(), true},
		{"zero attempts", RetryPolicy{MaxAttempts: 0}, false},
		{"excessive attempts", RetryPolicy{MaxAttempts: 500}, false},
		{"negative interval", RetryPolicy{MaxAttempts: 3, Interval: -time.Second}, false},
		{"max below interval", RetryPolicy{MaxAttempts: 3, Interval: time.Second, MaxInterval: time.Millisecond}, false},
		{"jitter out of range", RetryPolicy{MaxAttempts: 3, Jitter: 1.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(WithRetryPolicy(tt.policy))
			assert.Equal(t, tt.valid, client.IsValid())
		})
	}
}

func TestValidateCacheConfig(t *testing.T) {
	assert.False(t, New(WithCache(0)).IsValid())
	assert.False(t, New(WithCache(48*time.Hour)).IsValid())
	assert.True(t, New(WithCache(5*time.Minute)).IsValid())
}

func TestValidateDebugConfigRequiresLogger(t *testing.T) {
	assert.False(t, New(WithDebug()).IsValid())
	assert.True(t, New(WithDebug(), WithLogger(NewSimpleLogger())).IsValid())
	assert.True(t, New(WithSimpleLogger()).IsValid())
}

func TestValidateTransportConfig(t *testing.T) {
	assert.False(t, New(WithTransport(nil)).IsValid())
	assert.False(t, New(WithMiddleware(nil)).IsValid())
}

func TestValidationErrorIsTyped(t *testing.T) {
	client := New(WithRetryPolicy(RetryPolicy{MaxAttempts: 0}))
	require.False(t, client.IsValid())

	var reqErr *Error
	require.ErrorAs(t, client.ValidationError(), &reqErr)
	assert.Equal(t, KindValidation, reqErr.Kind)
}

func TestWithRefreshHandlerCreatesManager(t *testing.T) {
	client := New(WithRefreshHandler(func(ctx context.Context, refreshToken string) (Credential, error) {
		return Credential{}, nil
	}))
	assert.NotNil(t, client.Tokens())
}
