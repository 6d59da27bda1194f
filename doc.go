// Package gapura is an authenticated HTTP request layer: it wraps a transport
// with the ordered pipeline a client application needs around every call:
//
//   - Token lifecycle management (persisted credentials, expiry tracking,
//     single-flight refresh collapsing N concurrent 401s into one exchange)
//   - Response caching keyed by a deterministic request fingerprint
//   - Retries with exponential backoff + jitter, bounded per request
//   - Rate limiting (token bucket) and an optional circuit breaker
//   - A canonical Success/Failure envelope for every response shape
//   - Mock substitution for tests, Prometheus metrics, structured logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - No global state: stores, token manager and cache are injected services
//   - Safe concurrent use of a single *Client instance
//   - Failures never panic across the boundary; every call resolves to an
//     envelope with a machine-readable error kind
//
// Typical usage:
//
//	store, _ := gapura.NewFileStore(".cache/session.json")
//	client := gapura.New(
//	    gapura.WithBaseURL("https://api.example.com"),
//	    gapura.WithTokenStore(store),
//	    gapura.WithRefreshHandler(exchangeRefreshToken),
//	    gapura.WithCache(5*time.Minute),
//	    gapura.WithRateLimiter(10, 20),
//	)
//	env, err := client.Get(ctx, "/users/{id}",
//	    gapura.WithPathParams(map[string]string{"id": "42"}),
//	    gapura.WithCacheTTL(time.Minute),
//	)
//
// A 401 triggers exactly one re-authentication pass, kept separate from the
// transient retry loop so auth retries never consume transient attempts.
package gapura
