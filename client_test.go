package gapura

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetry keeps retry tests quick without changing the retry shape.
func fastRetry(maxAttempts int, statuses ...int) RetryPolicy {
	if len(statuses) == 0 {
		statuses = []int{408, 429, 500, 502, 503, 504}
	}
	return RetryPolicy{
		MaxAttempts:            maxAttempts,
		Interval:               time.Millisecond,
		MaxInterval:            5 * time.Millisecond,
		Multiplier:             2.0,
		RetryableStatusCodes:   statuses,
		RetryOnConnectionError: true,
	}
}

func TestClientGetSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/users/42", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":42,"name":"ana"}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	require.True(t, client.IsValid(), "%v", client.ValidationError())

	env, err := client.Get(context.Background(), "/users/{id}",
		WithPathParams(map[string]string{"id": "42"}),
	)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.True(t, env.IsSuccess())
	assert.Equal(t, 200, env.StatusCode)
	assert.Equal(t, float64(42), env.Data["id"])
	assert.Equal(t, "application/json", env.Headers["Content-Type"])
	assert.Nil(t, env.Err)
}

func TestClientFailureEnvelopeAndError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"user not found"}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	env, err := client.Get(context.Background(), "/users/99")

	require.Error(t, err)
	require.NotNil(t, env, "the envelope is always present, even on failure")
	assert.False(t, env.Success)
	assert.Equal(t, KindNotFound, env.Kind)
	assert.Equal(t, "user not found", env.Message)

	var reqErr *Error
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, KindNotFound, reqErr.Kind)
	assert.Equal(t, 404, reqErr.StatusCode)
	assert.Equal(t, http.MethodGet, reqErr.Method)
}

func TestClientRetryBound(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithRetryPolicy(fastRetry(3)),
	)

	env, err := client.Get(context.Background(), "/flaky")
	require.Error(t, err)
	assert.False(t, env.Success)
	assert.Equal(t, KindServer, env.Kind)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits), "MaxAttempts bounds total transport invocations")
}

func TestClientRetryThenSuccess(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithRetryPolicy(fastRetry(3)),
	)

	env, err := client.Get(context.Background(), "/flaky")
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits))
}

func TestClientPerRequestRetryOverride(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithRetryPolicy(fastRetry(3)),
	)

	env, err := client.Get(context.Background(), "/flaky",
		WithRequestRetryPolicy(fastRetry(1)),
	)
	require.Error(t, err)
	assert.Equal(t, KindServer, env.Kind)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "the per-request policy replaces the client default")

	atomic.StoreInt64(&hits, 0)
	_, err = client.Get(context.Background(), "/flaky")
	require.Error(t, err)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits), "requests without an override keep the client default")
}

func TestClientNonRetryableStatusIsFinal(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"bad payload"}`))
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithRetryPolicy(fastRetry(3)),
	)

	env, err := client.Post(context.Background(), "/users", WithBody(map[string]any{"name": ""}))
	require.Error(t, err)
	assert.Equal(t, KindValidation, env.Kind)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "4xx must not be retried")
}

func TestClientConnectionErrorRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close() // every dial now fails

	client := New(
		WithBaseURL(url),
		WithRetryPolicy(fastRetry(2)),
	)

	env, err := client.Get(context.Background(), "/anything")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, env.Kind)

	var reqErr *Error
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 2, reqErr.Attempt)
	assert.Equal(t, 2, reqErr.MaxAttempts)
}

func TestClientCancellationMidFlight(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	client := New(WithBaseURL(server.URL))
	env, err := client.Get(ctx, "/slow")

	require.Error(t, err)
	assert.Equal(t, KindCancelled, env.Kind)
	assert.False(t, env.Success)
}

func TestClientReauthAfter401(t *testing.T) {
	var refreshes int64
	var serverHits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&serverHits, 1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tm := NewTokenManager(NewMemoryStore())
	require.NoError(t, tm.SetTokens("stale", "refresh-1", time.Now().Add(time.Hour)))
	tm.OnRefresh(func(ctx context.Context, refreshToken string) (Credential, error) {
		atomic.AddInt64(&refreshes, 1)
		return Credential{AccessToken: "fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	client := New(
		WithBaseURL(server.URL),
		WithTokenManager(tm),
	)

	env, err := client.Get(context.Background(), "/private")
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.Equal(t, int64(1), atomic.LoadInt64(&refreshes), "exactly one refresh per rejection")
	assert.Equal(t, int64(2), atomic.LoadInt64(&serverHits), "one rejected call plus one re-authenticated call")
}

func TestClientReauthFailureSurfaces401(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"token revoked"}`))
	}))
	defer server.Close()

	tm := NewTokenManager(NewMemoryStore())
	require.NoError(t, tm.SetTokens("stale", "refresh-1", time.Now().Add(time.Hour)))
	tm.OnRefresh(func(ctx context.Context, refreshToken string) (Credential, error) {
		return Credential{}, errors.New("refresh rejected")
	})

	client := New(
		WithBaseURL(server.URL),
		WithTokenManager(tm),
	)

	env, err := client.Get(context.Background(), "/private")
	require.Error(t, err)
	assert.Equal(t, KindAuthentication, env.Kind)
	assert.Equal(t, 401, env.StatusCode)
}

func TestClientUnauthenticatedRequestSkipsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tm := NewTokenManager(NewMemoryStore())
	require.NoError(t, tm.SetTokens("abc", "refresh", time.Now().Add(time.Hour)))

	client := New(WithBaseURL(server.URL), WithTokenManager(tm))
	_, err := client.Get(context.Background(), "/public", WithoutAuth())
	require.NoError(t, err)
}

func TestClientCacheHitSkipsTransport(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithCache(time.Minute),
	)

	first, err := client.Get(context.Background(), "/users", WithQuery(map[string]any{"page": 1}))
	require.NoError(t, err)

	// Same fingerprint, different parameter spelling.
	second, err := client.Get(context.Background(), "/users", WithQuery(map[string]any{"page": "1"}))
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "the second call must be served from cache")
	assert.Equal(t, first.Data, second.Data)
	assert.True(t, second.Success)
}

func TestClientCacheNotUsedForPost(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithCache(time.Minute))

	_, err := client.Post(context.Background(), "/users", WithBody(map[string]any{"n": 1}))
	require.NoError(t, err)
	_, err = client.Post(context.Background(), "/users", WithBody(map[string]any{"n": 1}))
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestClientCacheSkipsFailures(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithCache(time.Minute))

	_, err := client.Get(context.Background(), "/absent")
	require.Error(t, err)
	_, err = client.Get(context.Background(), "/absent")
	require.Error(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&hits), "failures must not be cached")
}

func TestClientPerRequestCacheOverride(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithCache(time.Minute))

	_, err := client.Get(context.Background(), "/live", WithoutCache())
	require.NoError(t, err)
	_, err = client.Get(context.Background(), "/live", WithoutCache())
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestClientRateLimiterRejects(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithRateLimiter(0.001, 1),
	)

	_, err := client.Get(context.Background(), "/a")
	require.NoError(t, err)

	env, err := client.Get(context.Background(), "/a")
	require.Error(t, err)
	assert.Equal(t, KindRateLimit, env.Kind)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "a rejected request must never reach the transport")
}

func TestClientConnectivityGate(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer server.Close()

	online := atomic.Bool{}
	client := New(
		WithBaseURL(server.URL),
		WithConnectivityChecker(ConnectivityCheckerFunc(func(ctx context.Context) bool {
			return online.Load()
		})),
	)

	env, err := client.Get(context.Background(), "/a")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, env.Kind)
	assert.ErrorIs(t, err, ErrOffline)
	assert.Zero(t, atomic.LoadInt64(&hits))

	online.Store(true)
	_, err = client.Get(context.Background(), "/a")
	require.NoError(t, err)
}

func TestClientRetryBudgetStopsRetries(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithRetryPolicy(fastRetry(5)),
		WithRetryBudget(0, time.Minute),
	)

	env, err := client.Get(context.Background(), "/flaky")
	require.Error(t, err)
	assert.Equal(t, KindServer, env.Kind, "budget exhaustion surfaces the last response, not a budget error")
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestClientCircuitBreakerOpens(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithRetryPolicy(fastRetry(1)),
		WithCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: 1,
			RecoveryTimeout:  time.Hour,
		}),
	)

	_, err := client.Get(context.Background(), "/down")
	require.Error(t, err)

	env, err := client.Get(context.Background(), "/down")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, KindServer, env.Kind)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "an open circuit must short-circuit before the transport")
}

func TestClientUnresolvedPathParam(t *testing.T) {
	client := New(WithBaseURL("http://localhost:0"))
	env, err := client.Get(context.Background(), "/users/{id}")

	require.Error(t, err)
	assert.Equal(t, KindValidation, env.Kind)
	assert.Contains(t, err.Error(), "{id}")
}

func TestClientDefaultAndRequestHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v2", r.Header.Get("X-Api-Version"))
		assert.Equal(t, "override", r.Header.Get("X-Tenant"))
		assert.Contains(t, r.Header.Get("User-Agent"), "gapura/")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithDefaultHeaders(map[string]string{"X-Api-Version": "v2", "X-Tenant": "default"}),
	)
	_, err := client.Get(context.Background(), "/a", WithHeader("X-Tenant", "override"))
	require.NoError(t, err)
}

func TestClientMockSubstitution(t *testing.T) {
	registry := NewMockRegistry()
	registry.Register(http.MethodGet, "/users/{id}", JSONMock(200, `{"id":42}`))

	client := New(
		WithBaseURL("http://unreachable.invalid"),
		WithMockRegistry(registry),
	)
	client.EnableMocks(true)

	env, err := client.Get(context.Background(), "/users/{id}",
		WithPathParams(map[string]string{"id": "42"}),
	)
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.Equal(t, float64(42), env.Data["id"])
}

func TestClientMockMissingResponse(t *testing.T) {
	client := New(
		WithBaseURL("http://unreachable.invalid"),
		WithMockRegistry(NewMockRegistry()),
	)
	client.EnableMocks(true)

	env, err := client.Get(context.Background(), "/absent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoMockResponse)
	assert.False(t, env.Success)
}

func TestClientMockTransportError(t *testing.T) {
	registry := NewMockRegistry()
	registry.Register(http.MethodGet, "/down", &MockResponse{Err: errors.New("connection refused")})

	client := New(WithMockRegistry(registry))
	client.EnableMocks(true)

	env, err := client.Get(context.Background(), "/down")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, env.Kind)
}

func TestClientMockDisabledUsesTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"source":"server"}`))
	}))
	defer server.Close()

	registry := NewMockRegistry()
	registry.Register(http.MethodGet, "/a", JSONMock(200, `{"source":"mock"}`))

	client := New(WithBaseURL(server.URL), WithMockRegistry(registry))

	env, err := client.Get(context.Background(), "/a")
	require.NoError(t, err)
	assert.Equal(t, "server", env.Data["source"])
}

func TestClientInvalidConfiguration(t *testing.T) {
	client := New(WithRetryPolicy(RetryPolicy{MaxAttempts: -1, Jitter: 5}))

	require.False(t, client.IsValid())
	env, err := client.Get(context.Background(), "/a")
	require.Error(t, err)
	assert.Equal(t, KindValidation, env.Kind)
}

func TestClientMiddlewareOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "outer,inner", r.Header.Get("X-Trace"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	appending := func(tag string) Middleware {
		return func(next Transport) Transport {
			return TransportFunc(func(ctx context.Context, method, url string, header http.Header, body []byte) (*RawResponse, error) {
				trace := header.Get("X-Trace")
				if trace != "" {
					trace += ","
				}
				header.Set("X-Trace", trace+tag)
				return next.Send(ctx, method, url, header, body)
			})
		}
	}

	client := New(
		WithBaseURL(server.URL),
		WithMiddleware(appending("outer"), appending("inner")),
	)
	_, err := client.Get(context.Background(), "/a")
	require.NoError(t, err)
}

func TestClientRetryAfterHeaderHonored(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(
		WithBaseURL(server.URL),
		WithRetryPolicy(fastRetry(2)),
	)

	start := time.Now()
	_, err := client.Get(context.Background(), "/busy")
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond, "Retry-After must win over the computed backoff")
}
