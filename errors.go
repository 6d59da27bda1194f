package gapura

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies a request failure into a machine-readable category.
type ErrorKind string

const (
	KindNetwork        ErrorKind = "network"
	KindTimeout        ErrorKind = "timeout"
	KindCancelled      ErrorKind = "cancelled"
	KindAuthentication ErrorKind = "authentication"
	KindAuthorization  ErrorKind = "authorization"
	KindValidation     ErrorKind = "validation"
	KindNotFound       ErrorKind = "notFound"
	KindRateLimit      ErrorKind = "rateLimit"
	KindServer         ErrorKind = "server"
	KindParsing        ErrorKind = "parsing"
	KindUnknown        ErrorKind = "unknown"
)

// Sentinel errors for common failure scenarios
var (
	// ErrRateLimited is returned when a request is denied by the local rate limiter
	ErrRateLimited = errors.New("gapura: rate limited")

	// ErrOffline is returned when the connectivity gate reports no connectivity
	ErrOffline = errors.New("gapura: no connectivity")

	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("gapura: circuit open")

	// ErrRetryBudgetExceeded is returned when the retry budget is exhausted
	ErrRetryBudgetExceeded = errors.New("gapura: retry budget exceeded")

	// ErrNoRefreshHandler is returned when a refresh is needed but no handler is registered
	ErrNoRefreshHandler = errors.New("gapura: no refresh handler registered")

	// ErrNoMockResponse is returned in mocking mode when no canned response matches
	ErrNoMockResponse = errors.New("gapura: no mock response registered")
)

// Error is the rich error attached to every Failure envelope. It carries the
// failure classification together with enough request context for diagnostics.
type Error struct {
	Kind        ErrorKind
	Message     string
	Cause       error
	RequestID   string
	Method      string
	URL         string
	StatusCode  int
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
	Duration    time.Duration
}

// Error implements error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error kinds for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*Error); ok {
		return e.Kind == targetErr.Kind
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *Error) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Kind: %s\n", e.Kind)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient determines if an error represents a transient failure that might
// succeed on retry. Network errors, timeouts, 5xx responses and rate limiting
// qualify; validation, authorization and cancellation do not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var reqErr *Error
	if errors.As(err, &reqErr) {
		switch reqErr.Kind {
		case KindNetwork, KindTimeout, KindServer, KindRateLimit:
			return true
		default:
			return false
		}
	}

	return false
}

// kindForStatus maps an HTTP status code to its error classification.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == 400 || status == 422:
		return KindValidation
	case status == 401:
		return KindAuthentication
	case status == 403:
		return KindAuthorization
	case status == 404:
		return KindNotFound
	case status == 408:
		return KindTimeout
	case status == 429:
		return KindRateLimit
	case status >= 500 && status <= 599:
		return KindServer
	default:
		return KindUnknown
	}
}

// kindForTransportError classifies a transport-level failure that produced no
// HTTP status. Caller cancellation and deadline expiry are distinguished from
// ordinary connection errors.
func kindForTransportError(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindNetwork
}
