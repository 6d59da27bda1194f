package gapura

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	authNamespace = "gapura:auth:"
	credentialKey = authNamespace + "credential"

	// refreshLeeway refreshes slightly before the recorded expiry so a token
	// handed to a request does not expire mid-flight.
	refreshLeeway = 30 * time.Second
)

// Credential holds the access/refresh token pair and its expiry. A non-empty
// access token without a resolvable expiry is treated as already expired.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is missing or past its expiry,
// applying the given leeway.
func (c Credential) Expired(leeway time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(leeway).After(c.ExpiresAt)
}

// HasRefreshToken reports whether a refresh token is available.
func (c Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// RefreshFunc exchanges a refresh token for a new credential. It is supplied
// by the consumer; the token manager performs no network I/O of its own.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credential, error)

// TokenManager owns the credential state: it is the single writer of the
// persisted credential and collapses concurrent refresh attempts into one
// handler invocation. Safe for concurrent use.
type TokenManager struct {
	store   Store
	logger  Logger
	metrics *MetricsCollector
	leeway  time.Duration

	group singleflight.Group

	mu        sync.RWMutex
	cred      Credential
	refreshFn RefreshFunc
}

// TokenManagerOption configures a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithTokenLogger attaches a logger to the token manager.
func WithTokenLogger(logger Logger) TokenManagerOption {
	return func(m *TokenManager) { m.logger = logger }
}

// WithTokenMetrics attaches a metrics collector to the token manager.
func WithTokenMetrics(metrics *MetricsCollector) TokenManagerOption {
	return func(m *TokenManager) { m.metrics = metrics }
}

// WithRefreshLeeway overrides how early before expiry a refresh is triggered.
func WithRefreshLeeway(d time.Duration) TokenManagerOption {
	return func(m *TokenManager) { m.leeway = d }
}

// NewTokenManager creates a manager backed by the given store, loading any
// previously persisted credential.
func NewTokenManager(store Store, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		store:  store,
		leeway: refreshLeeway,
	}
	for _, opt := range opts {
		opt(m)
	}

	if raw, ok := store.Get(credentialKey); ok {
		var cred Credential
		if err := json.Unmarshal([]byte(raw), &cred); err == nil {
			m.cred = cred
		}
	}
	return m
}

// AccessToken returns a currently valid access token. On expiry it triggers
// the single-flight refresh protocol; without a registered refresh handler it
// returns empty without any network I/O. An empty token with a nil error means
// the caller should proceed unauthenticated.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	cred := m.cred
	fn := m.refreshFn
	m.mu.RUnlock()

	if !cred.Expired(m.leeway) {
		return cred.AccessToken, nil
	}

	if fn == nil || !cred.HasRefreshToken() {
		return "", nil
	}

	return m.refresh(ctx, "")
}

// RefreshAfterReject handles a server-side 401: it forces a refresh even when
// the rejected token has not reached its recorded expiry. If another caller
// already replaced the rejected token, that replacement is returned without a
// second exchange.
func (m *TokenManager) RefreshAfterReject(ctx context.Context, rejected string) (string, error) {
	return m.refresh(ctx, rejected)
}

// refresh collapses concurrent refresh attempts into a single handler call.
// Every waiter observes the same outcome; on failure the credential is cleared
// so all waiters see absence.
func (m *TokenManager) refresh(ctx context.Context, rejected string) (string, error) {
	v, err, _ := m.group.Do("refresh", func() (any, error) {
		// A waiter that queued behind a completed refresh must not trigger a
		// second exchange; re-check under the lock.
		m.mu.RLock()
		cred := m.cred
		fn := m.refreshFn
		m.mu.RUnlock()

		if !cred.Expired(m.leeway) && cred.AccessToken != rejected {
			return cred.AccessToken, nil
		}
		if fn == nil || !cred.HasRefreshToken() {
			return "", ErrNoRefreshHandler
		}

		if m.logger != nil {
			m.logger.Debug("Refreshing access token")
		}

		next, err := fn(ctx, cred.RefreshToken)
		if err != nil {
			m.metrics.RecordTokenRefresh("failure")
			if m.logger != nil {
				m.logger.Warn("Token refresh failed", "error", err.Error())
			}
			if clearErr := m.ClearTokens(); clearErr != nil && m.logger != nil {
				m.logger.Warn("Failed to clear credentials", "error", clearErr.Error())
			}
			return "", fmt.Errorf("token refresh: %w", err)
		}

		if err := m.SetTokens(next.AccessToken, next.RefreshToken, next.ExpiresAt); err != nil {
			return "", err
		}

		m.metrics.RecordTokenRefresh("success")
		return next.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SetTokens persists and replaces the credential state. It is idempotent and
// safe to call from any context. A zero expiry is recovered from the access
// token's exp claim when the token is a JWT.
func (m *TokenManager) SetTokens(access, refresh string, expiresAt time.Time) error {
	if expiresAt.IsZero() && access != "" {
		if exp, ok := jwtExpiry(access); ok {
			expiresAt = exp
		}
	}

	cred := Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(credentialKey, string(data)); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	m.cred = cred
	return nil
}

// ClearTokens removes in-memory and persisted credential state. Used on
// irrecoverable authentication failure.
func (m *TokenManager) ClearTokens() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = Credential{}
	return m.store.Remove(credentialKey)
}

// OnRefresh registers the consumer-supplied exchange callback. Registered once
// at startup; later registrations replace the handler.
func (m *TokenManager) OnRefresh(fn RefreshFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshFn = fn
}

// Credential returns a copy of the current credential state.
func (m *TokenManager) Credential() Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred
}

// jwtExpiry extracts the exp claim from a JWT access token without verifying
// the signature. Verification is the auth server's job; only the expiry hint
// is wanted here.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
