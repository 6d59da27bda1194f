package gapura

import "context"

// ConnectivityChecker gates the pipeline on network availability. The check
// runs once per logical call, before the rate limiter; it must be cheap and
// must not block on network I/O.
type ConnectivityChecker interface {
	Online(ctx context.Context) bool
}

// ConnectivityCheckerFunc adapts a function to the ConnectivityChecker interface.
type ConnectivityCheckerFunc func(ctx context.Context) bool

func (f ConnectivityCheckerFunc) Online(ctx context.Context) bool {
	return f(ctx)
}

// alwaysOnline is the default gate: assume connectivity and let the transport
// surface the real error.
type alwaysOnline struct{}

func (alwaysOnline) Online(context.Context) bool { return true }
