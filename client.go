package gapura

import (
	"context"
	"hash/fnv"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Client executes authenticated requests through an ordered pipeline:
// connectivity gate, rate limiter, cache lookup, credential attach, transport
// call with bounded retries, single-shot re-authentication on 401, and
// normalization into a Success/Failure envelope. It is safe for concurrent
// use; all per-call state lives on the Request descriptor.
type Client struct {
	baseURL        string
	transport      Transport
	middleware     []Middleware
	chained        Transport
	tokens         *TokenManager
	cache          *ResponseCache
	authScopedKeys bool
	defaultCache   CachePolicy
	defaultRetry   RetryPolicy
	defaultAuth    bool
	defaultHeaders map[string]string
	retryBudget    *RetryBudget
	rateLimiter    *RateLimiter
	breaker        *CircuitBreaker
	connectivity   ConnectivityChecker
	metrics        *MetricsCollector
	debug          *DebugConfig
	logger         Logger
	mocks          *MockRegistry
	mocking        atomic.Bool

	validationError error
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		transport:    NewHTTPTransport(30 * time.Second),
		defaultRetry: DefaultRetryPolicy(),
		defaultCache: CachePolicy{Enabled: false, TTL: 5 * time.Minute},
		defaultAuth:  true,
		connectivity: alwaysOnline{},
		debug:        DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	client.chained = chainMiddleware(client.transport, client.middleware)

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Tokens returns the token lifecycle manager, or nil when authentication is
// not configured.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// Cache returns the response cache, or nil when caching is not configured.
func (c *Client) Cache() *ResponseCache {
	return c.cache
}

// EnableMocks toggles mock substitution; with mocking enabled every call is
// served from the registry and the transport is never touched.
func (c *Client) EnableMocks(enabled bool) {
	c.mocking.Store(enabled)
}

// MockingEnabled reports whether mock substitution is active.
func (c *Client) MockingEnabled() bool {
	return c.mocking.Load()
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// Get executes a GET request against path.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodGet, path, opts...)
}

// Post executes a POST request against path.
func (c *Client) Post(ctx context.Context, path string, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodPost, path, opts...)
}

// Put executes a PUT request against path.
func (c *Client) Put(ctx context.Context, path string, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodPut, path, opts...)
}

// Patch executes a PATCH request against path.
func (c *Client) Patch(ctx context.Context, path string, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodPatch, path, opts...)
}

// Delete executes a DELETE request against path.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodDelete, path, opts...)
}

// Do builds the request descriptor from the client defaults plus the given
// options and executes it. The envelope is always non-nil; the error is
// non-nil exactly when the envelope is the Failure variant.
func (c *Client) Do(ctx context.Context, method, path string, opts ...RequestOption) (*Envelope, error) {
	req := &Request{
		Method:       method,
		Path:         path,
		RequiresAuth: c.defaultAuth,
		Cache:        c.defaultCache,
		Retry:        c.defaultRetry,
	}
	for _, opt := range opts {
		opt(req)
	}

	env := c.execute(ctx, req)
	if env.Err != nil {
		return env, env.Err
	}
	return env, nil
}

// Execute runs a prepared request descriptor through the pipeline.
func (c *Client) Execute(ctx context.Context, req *Request) (*Envelope, error) {
	env := c.execute(ctx, req)
	if env.Err != nil {
		return env, env.Err
	}
	return env, nil
}

func (c *Client) execute(ctx context.Context, req *Request) *Envelope {
	start := time.Now()
	endpoint := req.Path

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	if c.validationError != nil {
		return c.failure(req, "", KindValidation, "client configuration is invalid", c.validationError, 0, requestID, start)
	}

	if c.mocks != nil && c.mocking.Load() {
		return c.executeMock(req, requestID, start)
	}

	c.metrics.RecordRequestStart(req.Method, endpoint)
	defer c.metrics.RecordRequestEnd(req.Method, endpoint)

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "requestID", requestID, "method", req.Method, "path", req.Path)
	}

	path, err := resolvePath(req.Path, req.PathParams)
	if err != nil {
		return c.failure(req, "", KindValidation, err.Error(), err, 0, requestID, start)
	}
	url := buildURL(c.baseURL, path, req.Query)

	if !c.connectivity.Online(ctx) {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
			c.logger.Warn("Connectivity gate rejected request", "requestID", requestID, "endpoint", endpoint)
		}
		return c.failure(req, url, KindNetwork, "no network connectivity", ErrOffline, 0, requestID, start)
	}

	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.metrics.RecordRateLimiterRejection(req.Method, endpoint)
		if c.debug != nil && c.debug.Enabled && c.debug.LogRateLimit && c.logger != nil {
			c.logger.Warn("Rate limit exceeded", "requestID", requestID, "endpoint", endpoint)
		}
		return c.failure(req, url, KindRateLimit, "rate limit exceeded", ErrRateLimited, 0, requestID, start)
	}

	// Credential attach. A missing token is not fatal: the call proceeds
	// unauthenticated and the 401 path below handles the rejection.
	var token string
	if req.RequiresAuth && c.tokens != nil {
		token, err = c.tokens.AccessToken(ctx)
		if err != nil && c.debug != nil && c.debug.Enabled && c.debug.LogAuth && c.logger != nil {
			c.logger.Warn("Proceeding without access token", "requestID", requestID, "error", err.Error())
		}
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return c.failure(req, url, KindParsing, err.Error(), err, 0, requestID, start)
	}
	header := c.buildHeader(req, contentType, token)

	cacheable := req.Cache.Enabled && req.Method == http.MethodGet && c.cache != nil
	var cacheKey string
	if cacheable {
		cacheKey = c.cacheKeyFor(req, path, token)
		if snapshot, found := c.cache.Lookup(cacheKey); found {
			c.metrics.RecordCacheHit(req.Method, endpoint)
			c.metrics.RecordRequest(req.Method, endpoint, snapshot.StatusCode, time.Since(start))
			if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Debug("Cache hit", "requestID", requestID, "cacheKey", cacheKey)
			}
			env := normalize(snapshot.StatusCode, snapshot.Body, nil, req.Shape)
			env.Headers = snapshot.Headers
			return env
		}
		c.metrics.RecordCacheMiss(req.Method, endpoint)
		if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			c.logger.Debug("Cache miss", "requestID", requestID, "cacheKey", cacheKey)
		}
	}

	raw, reqErr := c.sendWithRetry(ctx, req, url, header, body, endpoint, requestID, start)

	// Single-shot re-authentication: one refresh, one more pass through the
	// retry loop. Deliberately separate from the transient retry loop so the
	// auth retry never consumes transient attempts.
	if reqErr == nil && raw.StatusCode == http.StatusUnauthorized && req.RequiresAuth && c.tokens != nil {
		if newToken, refreshErr := c.tokens.RefreshAfterReject(ctx, token); refreshErr == nil && newToken != "" {
			if c.debug != nil && c.debug.Enabled && c.debug.LogAuth && c.logger != nil {
				c.logger.Info("Retrying with refreshed token", "requestID", requestID, "endpoint", endpoint)
			}
			header.Set("Authorization", "Bearer "+newToken)
			raw, reqErr = c.sendWithRetry(ctx, req, url, header, body, endpoint, requestID, start)
		} else if refreshErr != nil && c.debug != nil && c.debug.Enabled && c.debug.LogAuth && c.logger != nil {
			c.logger.Warn("Token refresh failed", "requestID", requestID, "error", refreshErr.Error())
		}
	}

	if reqErr != nil {
		c.metrics.RecordError(reqErr.Kind, req.Method, endpoint)
		c.metrics.RecordRequest(req.Method, endpoint, 0, time.Since(start))
		env := &Envelope{
			StatusCode: 0,
			Kind:       reqErr.Kind,
			Message:    reqErr.Message,
			Err:        reqErr,
		}
		return env
	}

	duration := time.Since(start)
	c.metrics.RecordRequest(req.Method, endpoint, raw.StatusCode, duration)

	env := normalize(raw.StatusCode, raw.Body, raw.Header, req.Shape)
	if !env.Success {
		env.Err = c.newError(env.Kind, env.Message, nil, req, url, raw.StatusCode, requestID, start)
		c.metrics.RecordError(env.Kind, req.Method, endpoint)
		return env
	}

	if cacheable {
		if err := c.cache.Store(cacheKey, raw.StatusCode, raw.Body, env.Headers, req.Cache.TTL); err == nil {
			c.metrics.RecordCacheSize("default", c.cache.Len())
			if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Debug("Response cached", "requestID", requestID, "cacheKey", cacheKey, "ttl", req.Cache.TTL)
			}
		}
	}

	return env
}

// sendWithRetry is the bounded transient-failure retry loop: it never handles
// re-authentication. Attempts are counted from zero; the policy's MaxAttempts
// bounds the total number of transport invocations.
func (c *Client) sendWithRetry(ctx context.Context, req *Request, url string, header http.Header, body []byte, endpoint, requestID string, start time.Time) (*RawResponse, *Error) {
	policy := req.Retry
	attempt := 0

	for {
		if ctx.Err() != nil {
			return nil, c.newError(KindCancelled, "request cancelled", ctx.Err(), req, url, 0, requestID, start)
		}

		if c.breaker != nil && !c.breaker.Allow() {
			if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
				c.logger.Warn("Circuit breaker open", "requestID", requestID, "endpoint", endpoint)
			}
			return nil, c.newError(KindServer, "circuit breaker is open", ErrCircuitOpen, req, url, 0, requestID, start)
		}

		if attempt > 0 {
			c.metrics.RecordRetry(req.Method, endpoint, attempt)
			if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
				c.logger.Info("Retry attempt", "requestID", requestID, "attempt", attempt, "maxAttempts", policy.maxAttempts(), "endpoint", endpoint)
			}
		}

		raw, err := c.chained.Send(ctx, req.Method, url, header, body)
		attempt++

		if c.breaker != nil {
			if err != nil || raw.StatusCode >= 500 {
				c.breaker.RecordFailure()
			} else {
				c.breaker.RecordSuccess()
			}
			c.metrics.RecordCircuitBreakerState("default", c.breaker.State())
		}

		var retryable bool
		var retryAfter string
		if err != nil {
			kind := kindForTransportError(err)
			if kind == KindCancelled {
				return nil, c.newError(KindCancelled, "request cancelled", err, req, url, 0, requestID, start)
			}
			retryable = policy.RetryOnConnectionError
		} else {
			retryable = policy.Retryable(raw.StatusCode)
			retryAfter = raw.Header.Get("Retry-After")
		}

		if !retryable || attempt >= policy.maxAttempts() {
			if err != nil {
				kind := kindForTransportError(err)
				e := c.newError(kind, "transport request failed", err, req, url, 0, requestID, start)
				e.Attempt = attempt
				e.MaxAttempts = policy.maxAttempts()
				return nil, e
			}
			return raw, nil
		}

		if c.retryBudget != nil && !c.retryBudget.Allow() {
			c.metrics.RecordRetryBudgetExceeded(endpoint)
			if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
				c.logger.Warn("Retry budget exceeded", "requestID", requestID, "endpoint", endpoint)
			}
			if err != nil {
				e := c.newError(kindForTransportError(err), "transport request failed", err, req, url, 0, requestID, start)
				e.Attempt = attempt
				e.MaxAttempts = policy.maxAttempts()
				return nil, e
			}
			// Surface the last response rather than masking it with a
			// budget error.
			return raw, nil
		}

		delay := policy.Delay(attempt-1, retryAfter)
		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempt, "backoff", delay, "endpoint", endpoint)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, c.newError(KindCancelled, "request cancelled", ctx.Err(), req, url, 0, requestID, start)
		case <-timer.C:
		}
	}
}

func (c *Client) executeMock(req *Request, requestID string, start time.Time) *Envelope {
	mock, ok := c.mocks.Lookup(req.Method, req.Path)
	if !ok {
		return c.failure(req, req.Path, KindUnknown, "no mock response registered for "+req.Method+" "+req.Path, ErrNoMockResponse, 0, requestID, start)
	}
	if mock.Err != nil {
		kind := kindForTransportError(mock.Err)
		return c.failure(req, req.Path, kind, "transport request failed", mock.Err, 0, requestID, start)
	}

	raw := mock.raw()
	env := normalize(raw.StatusCode, raw.Body, raw.Header, req.Shape)
	if !env.Success {
		env.Err = c.newError(env.Kind, env.Message, nil, req, req.Path, raw.StatusCode, requestID, start)
	}
	return env
}

func (c *Client) buildHeader(req *Request, contentType, token string) http.Header {
	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("User-Agent", "gapura/"+Version)

	for k, v := range c.defaultHeaders {
		header.Set(k, v)
	}
	for k, v := range req.Headers {
		header.Set(k, v)
	}
	if contentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentType)
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}

// cacheKeyFor derives the fingerprint for a request, optionally scoping it to
// the authenticated identity so a credential swap cannot serve one user's
// cached response to another.
func (c *Client) cacheKeyFor(req *Request, path, token string) string {
	key := CacheKey(req.Method, path, req.Query)
	if c.authScopedKeys && token != "" {
		h := fnv.New64a()
		h.Write([]byte(token))
		key += "-" + strconv.FormatUint(h.Sum64(), 16)
	}
	return key
}

func (c *Client) failure(req *Request, url string, kind ErrorKind, message string, cause error, status int, requestID string, start time.Time) *Envelope {
	c.metrics.RecordError(kind, req.Method, req.Path)
	e := c.newError(kind, message, cause, req, url, status, requestID, start)
	return &Envelope{
		StatusCode: status,
		Kind:       kind,
		Message:    message,
		Err:        e,
	}
}

func (c *Client) newError(kind ErrorKind, message string, cause error, req *Request, url string, status int, requestID string, start time.Time) *Error {
	return &Error{
		Kind:        kind,
		Message:     message,
		Cause:       cause,
		RequestID:   requestID,
		Method:      req.Method,
		URL:         url,
		StatusCode:  status,
		MaxAttempts: req.Retry.maxAttempts(),
		Timestamp:   time.Now(),
		Duration:    time.Since(start),
	}
}
