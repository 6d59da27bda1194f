// Minimal example for gapura demonstrating an authenticated GET through the
// full pipeline, plus a slightly more advanced client showing token refresh,
// caching, rate limiting and metrics. See the package documentation for
// extended patterns.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/ambiyansyah-risyal/gapura"
)

const baseURL = "https://httpbin.org"

func main() {
	ctx := context.Background()

	// --- Basic client (batteries-included defaults) ---
	basic := gapura.New(
		gapura.WithBaseURL(baseURL),
		gapura.WithCache(2*time.Minute),
		gapura.WithRateLimiter(10, 20),
		gapura.WithCircuitBreaker(gapura.CircuitBreakerConfig{}),
		gapura.WithSimpleLogger(),
		gapura.WithDebug(),
	)
	if !basic.IsValid() {
		log.Fatalf("invalid basic client config: %v", basic.ValidationError())
	}

	env, err := basic.Get(ctx, "/json")
	if err != nil {
		log.Fatalf("basic GET failed: %v", err)
	}
	fmt.Println("basic GET status", env.StatusCode)

	// --- Advanced snippet: persisted tokens + refresh + middleware ---
	store, err := gapura.NewFileStore(".gapura/session.json")
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	advanced := gapura.New(
		gapura.WithBaseURL(baseURL),
		gapura.WithTokenStore(store),
		gapura.WithRefreshHandler(func(ctx context.Context, refreshToken string) (gapura.Credential, error) {
			// Exchange refreshToken against your auth server here.
			return gapura.Credential{
				AccessToken: "demo-token",
				ExpiresAt:   time.Now().Add(time.Hour),
			}, nil
		}),
		gapura.WithMiddleware(func(next gapura.Transport) gapura.Transport {
			return gapura.TransportFunc(func(ctx context.Context, method, url string, header http.Header, body []byte) (*gapura.RawResponse, error) {
				start := time.Now()
				res, err := next.Send(ctx, method, url, header, body)
				fmt.Printf("%s %s took %v\n", method, url, time.Since(start))
				return res, err
			})
		}),
		gapura.WithMetrics(),
		gapura.WithRetryPolicy(gapura.RetryPolicy{
			MaxAttempts:            2,
			Interval:               200 * time.Millisecond,
			MaxInterval:            2 * time.Second,
			Multiplier:             2.0,
			RetryableStatusCodes:   []int{500, 502, 503},
			RetryOnConnectionError: true,
		}),
	)

	env, err = advanced.Get(ctx, "/uuid", gapura.WithoutAuth())
	if err != nil {
		log.Fatalf("advanced GET failed: %v", err)
	}
	fmt.Println("advanced GET success:", env.IsSuccess())

	// Pagination flattening against a list endpoint.
	pages, err := advanced.GetAll(ctx, "/anything", gapura.PageConfig{MaxPages: 1})
	if err != nil {
		log.Fatalf("paginated GET failed: %v", err)
	}
	fmt.Println("collected items:", len(pages.Items()))
}
