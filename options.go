package gapura

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Option represents a configuration option applied at construction.
type Option func(*Client)

// WithBaseURL sets the base URL prefixed to every request path.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = base
	}
}

// WithTransport replaces the default net/http transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithHTTPClient wraps a custom *http.Client as the transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.transport = NewHTTPTransportWithClient(client)
	}
}

// WithTimeout sets the transport timeout. Only applies to the default
// transport; a custom Transport enforces its own.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.transport = NewHTTPTransport(d)
	}
}

// WithMiddleware appends transport middleware, applied in registration order.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithTokenManager attaches a token lifecycle manager for bearer credentials.
func WithTokenManager(tm *TokenManager) Option {
	return func(c *Client) {
		c.tokens = tm
	}
}

// WithTokenStore builds a token manager over the given store.
func WithTokenStore(store Store, opts ...TokenManagerOption) Option {
	return func(c *Client) {
		c.tokens = NewTokenManager(store, opts...)
	}
}

// WithRefreshHandler registers the refresh callback, creating an in-memory
// token manager if none is configured yet.
func WithRefreshHandler(fn RefreshFunc) Option {
	return func(c *Client) {
		if c.tokens == nil {
			c.tokens = NewTokenManager(NewMemoryStore())
		}
		c.tokens.OnRefresh(fn)
	}
}

// WithDefaultRequiresAuth controls whether requests attach a bearer
// credential unless overridden per request. Defaults to true.
func WithDefaultRequiresAuth(required bool) Option {
	return func(c *Client) {
		c.defaultAuth = required
	}
}

// WithCache enables response caching over an in-memory store with the given
// default TTL.
func WithCache(ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = NewResponseCache(NewMemoryStore())
		c.defaultCache = CachePolicy{Enabled: true, TTL: ttl}
	}
}

// WithCacheStore enables response caching over a custom store.
func WithCacheStore(store Store, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = NewResponseCache(store)
		c.defaultCache = CachePolicy{Enabled: true, TTL: ttl}
	}
}

// WithAuthScopedCacheKeys mixes the authenticated identity into cache
// fingerprints so entries never outlive a credential swap.
func WithAuthScopedCacheKeys() Option {
	return func(c *Client) {
		c.authScopedKeys = true
	}
}

// WithRetryPolicy sets the default retry policy applied to every request
// that carries none.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.defaultRetry = policy
	}
}

// WithRetryBudget caps retries across all requests per sliding window.
func WithRetryBudget(maxRetries int, window time.Duration) Option {
	return func(c *Client) {
		c.retryBudget = NewRetryBudget(maxRetries, window)
	}
}

// WithRateLimiter gates outgoing requests with a token bucket.
func WithRateLimiter(ratePerSecond float64, burst int) Option {
	return func(c *Client) {
		c.rateLimiter = NewRateLimiter(ratePerSecond, burst)
	}
}

// WithCircuitBreaker enables the circuit breaker stage.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breaker = NewCircuitBreaker(config)
	}
}

// WithConnectivityChecker replaces the always-online connectivity gate.
func WithConnectivityChecker(checker ConnectivityChecker) Option {
	return func(c *Client) {
		c.connectivity = checker
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithMetricsRegisterer enables metrics on the supplied registerer.
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollectorWithRegisterer(registerer)
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithZerolog wires a zerolog logger as the debug logger.
func WithZerolog(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = NewZerologLogger(l)
	}
}

// WithSimpleLogger enables debug logging with a console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithDebug enables debug logging with the default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithRequestIDGenerator sets a custom request ID generator.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// WithDefaultHeaders attaches headers to every request.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(c *Client) {
		if c.defaultHeaders == nil {
			c.defaultHeaders = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			c.defaultHeaders[k] = v
		}
	}
}

// WithMockRegistry attaches a mock registry. Mocking still has to be turned
// on with EnableMocks.
func WithMockRegistry(registry *MockRegistry) Option {
	return func(c *Client) {
		c.mocks = registry
	}
}

// ValidateConfiguration validates the client configuration and returns an
// error if invalid.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	problems = append(problems, c.validateRetryConfig()...)
	problems = append(problems, c.validateCacheConfig()...)
	problems = append(problems, c.validateDebugConfig()...)
	problems = append(problems, c.validateTransportConfig()...)

	if len(problems) > 0 {
		return &Error{
			Kind:    KindValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}

	return nil
}

func (c *Client) validateRetryConfig() []string {
	var problems []string

	if c.defaultRetry.MaxAttempts < 1 {
		problems = append(problems, "retry MaxAttempts must be at least 1")
	}
	if c.defaultRetry.MaxAttempts > 100 {
		problems = append(problems, "retry MaxAttempts > 100 may cause excessive resource usage")
	}
	if c.defaultRetry.Interval < 0 {
		problems = append(problems, "retry Interval must be non-negative")
	}
	if c.defaultRetry.MaxInterval > 0 && c.defaultRetry.MaxInterval < c.defaultRetry.Interval {
		problems = append(problems, "retry MaxInterval must be greater than or equal to Interval")
	}
	if c.defaultRetry.Jitter < 0 || c.defaultRetry.Jitter > 1 {
		problems = append(problems, "retry Jitter must be between 0 and 1")
	}

	return problems
}

func (c *Client) validateCacheConfig() []string {
	var problems []string

	if c.cache != nil && c.defaultCache.Enabled && c.defaultCache.TTL <= 0 {
		problems = append(problems, "cache TTL must be positive when caching is enabled")
	}
	if c.defaultCache.TTL > 24*time.Hour {
		problems = append(problems, "cache TTL > 24h may cause stale data issues")
	}

	return problems
}

func (c *Client) validateDebugConfig() []string {
	var problems []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			problems = append(problems, "debug RequestIDGen must be set when debug is enabled")
		}
		if c.logger == nil {
			problems = append(problems, "logger must be set when debug is enabled")
		}
	}

	return problems
}

func (c *Client) validateTransportConfig() []string {
	var problems []string

	if c.transport == nil {
		problems = append(problems, "transport cannot be nil")
	}
	for i, m := range c.middleware {
		if m == nil {
			problems = append(problems, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return problems
}
