package gapura

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := &Error{
		Kind:        KindServer,
		Message:     "upstream exploded",
		Cause:       errors.New("500"),
		RequestID:   "req-1",
		Attempt:     2,
		MaxAttempts: 3,
	}
	msg := err.Error()
	assert.Contains(t, msg, "server: upstream exploded")
	assert.Contains(t, msg, "req-1")
	assert.Contains(t, msg, "attempt 2/3")
}

func TestErrorNilReceiver(t *testing.T) {
	var err *Error
	assert.Equal(t, "<nil>", err.Error())
	assert.Nil(t, err.Unwrap())
	assert.False(t, err.Is(ErrOffline))
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := &Error{Kind: KindTimeout, Message: "a"}
	assert.ErrorIs(t, err, &Error{Kind: KindTimeout})
	assert.NotErrorIs(t, err, &Error{Kind: KindNetwork})
}

func TestErrorUnwrapChain(t *testing.T) {
	err := &Error{Kind: KindRateLimit, Cause: ErrRateLimited}
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestErrorDebugInfo(t *testing.T) {
	err := &Error{
		Kind:       KindNotFound,
		Message:    "user not found",
		Method:     "GET",
		URL:        "https://api.example.com/users/9",
		StatusCode: 404,
		Timestamp:  time.Now(),
		Duration:   25 * time.Millisecond,
	}
	info := err.DebugInfo()
	assert.Contains(t, info, "Error Kind: notFound")
	assert.Contains(t, info, "Status Code: 404")
	assert.Contains(t, info, "Method: GET")
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited sentinel", ErrRateLimited, true},
		{"circuit open sentinel", ErrCircuitOpen, true},
		{"network kind", &Error{Kind: KindNetwork}, true},
		{"timeout kind", &Error{Kind: KindTimeout}, true},
		{"server kind", &Error{Kind: KindServer}, true},
		{"validation kind", &Error{Kind: KindValidation}, false},
		{"cancelled kind", &Error{Kind: KindCancelled}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{400, KindValidation},
		{401, KindAuthentication},
		{403, KindAuthorization},
		{404, KindNotFound},
		{408, KindTimeout},
		{422, KindValidation},
		{429, KindRateLimit},
		{500, KindServer},
		{599, KindServer},
		{302, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, kindForStatus(tt.status))
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKindForTransportError(t *testing.T) {
	var netErr net.Error = timeoutErr{}

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"cancelled", context.Canceled, KindCancelled},
		{"wrapped cancelled", fmt.Errorf("do: %w", context.Canceled), KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"net timeout", netErr, KindTimeout},
		{"plain", errors.New("connection refused"), KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kindForTransportError(tt.err))
		})
	}
}
