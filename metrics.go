package gapura

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle and
// reliability layers. A nil collector is a no-op; every Record method guards
// the nil receiver so call sites stay unconditional.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal        *prometheus.CounterVec
	retryBudgetExceeded *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec

	tokenRefreshes *prometheus.CounterVec

	rateLimiterRejections *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegisterer creates a collector using the supplied
// registerer, letting tests use an isolated registry.
func NewMetricsCollectorWithRegisterer(registerer prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gapura_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gapura_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gapura_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gapura_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		retryBudgetExceeded: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gapura_retry_budget_exceeded_total",
				Help: "Total number of times the retry budget was exhausted",
			},
			[]string{"endpoint"},
		),
		cacheHits: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gapura_cache_hits_total",
				Help: "Total number of response cache hits",
			},
			[]string{"method", "endpoint"},
		),
		cacheMisses: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gapura_cache_misses_total",
				Help: "Total number of response cache misses",
			},
			[]string{"method", "endpoint"},
		),
		cacheSize: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gapura_cache_size",
				Help: "Current number of entries in the response cache",
			},
			[]string{"name"},
		),
		tokenRefreshes: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gapura_token_refreshes_total",
				Help: "Total number of token refresh handler invocations",
			},
			[]string{"outcome"},
		),
		rateLimiterRejections: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gapura_rate_limiter_rejections_total",
				Help: "Total number of requests rejected by the local rate limiter",
			},
			[]string{"method", "endpoint"},
		),
		circuitBreakerState: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gapura_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		errorsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gapura_errors_total",
				Help: "Total number of failures by kind",
			},
			[]string{"kind", "method", "endpoint"},
		),
		registerer: registerer,
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	status := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, status, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, status, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordRetryBudgetExceeded increments the budget exhaustion counter.
func (mc *MetricsCollector) RecordRetryBudgetExceeded(endpoint string) {
	if mc == nil {
		return
	}

	mc.retryBudgetExceeded.WithLabelValues(endpoint).Inc()
}

// RecordCacheHit increments the cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheSize sets the cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(name string, size int) {
	if mc == nil {
		return
	}

	mc.cacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordTokenRefresh increments the refresh counter with outcome
// "success" or "failure".
func (mc *MetricsCollector) RecordTokenRefresh(outcome string) {
	if mc == nil {
		return
	}

	mc.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordRateLimiterRejection increments the rejection counter.
func (mc *MetricsCollector) RecordRateLimiterRejection(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.rateLimiterRejections.WithLabelValues(method, endpoint).Inc()
}

// RecordCircuitBreakerState sets the gauge to the breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}

	mc.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordError increments the failure counter by kind.
func (mc *MetricsCollector) RecordError(kind ErrorKind, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(string(kind), method, endpoint).Inc()
}
