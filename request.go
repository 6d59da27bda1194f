package gapura

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ResponseShape controls how the normalizer treats a successful body.
type ResponseShape int

const (
	// ShapeAuto parses JSON and wraps arrays/scalars under "data".
	ShapeAuto ResponseShape = iota
	// ShapeRaw skips parsing; the body is kept verbatim on the envelope.
	ShapeRaw
)

// Request is the immutable per-call descriptor consumed by the executor. It
// is built once from the verb call's options and never shared between calls;
// cache and retry policies are attached by value.
type Request struct {
	Method       string
	Path         string
	PathParams   map[string]string
	Query        map[string]any
	Body         any
	Headers      map[string]string
	RequiresAuth bool
	Cache        CachePolicy
	Retry        RetryPolicy
	Shape        ResponseShape
}

// RequestOption configures a single request.
type RequestOption func(*Request)

// WithPathParams substitutes {name} placeholders in the path template.
func WithPathParams(params map[string]string) RequestOption {
	return func(r *Request) { r.PathParams = params }
}

// WithQuery sets the query parameters. Values are stringified canonically so
// 1 and "1" are the same parameter.
func WithQuery(query map[string]any) RequestOption {
	return func(r *Request) { r.Query = query }
}

// WithBody sets the request body: []byte and string pass through, anything
// else is JSON-encoded.
func WithBody(body any) RequestOption {
	return func(r *Request) { r.Body = body }
}

// WithHeader adds a single custom header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Headers == nil {
			r.Headers = make(map[string]string)
		}
		r.Headers[key] = value
	}
}

// WithHeaders adds custom headers.
func WithHeaders(headers map[string]string) RequestOption {
	return func(r *Request) {
		if r.Headers == nil {
			r.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			r.Headers[k] = v
		}
	}
}

// WithRequiresAuth overrides whether a bearer credential is attached.
func WithRequiresAuth(required bool) RequestOption {
	return func(r *Request) { r.RequiresAuth = required }
}

// WithoutAuth marks the request as unauthenticated.
func WithoutAuth() RequestOption {
	return WithRequiresAuth(false)
}

// WithCachePolicy attaches a cache policy to the request.
func WithCachePolicy(policy CachePolicy) RequestOption {
	return func(r *Request) { r.Cache = policy }
}

// WithCacheTTL enables caching for this request with the given TTL.
func WithCacheTTL(ttl time.Duration) RequestOption {
	return WithCachePolicy(CachePolicy{Enabled: true, TTL: ttl})
}

// WithoutCache disables caching for this request.
func WithoutCache() RequestOption {
	return WithCachePolicy(CachePolicy{})
}

// WithRequestRetryPolicy attaches a retry policy to this request, overriding
// the client default.
func WithRequestRetryPolicy(policy RetryPolicy) RequestOption {
	return func(r *Request) { r.Retry = policy }
}

// WithResponseShape overrides normalizer body handling.
func WithResponseShape(shape ResponseShape) RequestOption {
	return func(r *Request) { r.Shape = shape }
}

// resolvePath substitutes {name} placeholders with percent-encoded values.
// An unresolved placeholder is a validation error: the caller forgot a
// parameter and the raw template must not leak to the server.
func resolvePath(template string, params map[string]string) (string, error) {
	path := template
	for name, value := range params {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}

	if open := strings.Index(path, "{"); open != -1 {
		if end := strings.Index(path[open:], "}"); end != -1 {
			return "", fmt.Errorf("unresolved path parameter %q", path[open:open+end+1])
		}
	}
	return path, nil
}

// buildURL joins base and path and appends the canonically encoded query.
func buildURL(base, path string, query map[string]any) string {
	full := strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(path, "/") && path != "" {
		full += "/"
	}
	full += path

	if len(query) == 0 {
		return full
	}

	values := url.Values{}
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values.Set(name, queryString(query[name]))
	}
	return full + "?" + values.Encode()
}

// encodeBody renders the request body and reports the implied content type.
func encodeBody(body any) ([]byte, string, error) {
	switch t := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return t, "", nil
	case string:
		return []byte(t), "", nil
	case json.RawMessage:
		return t, "application/json", nil
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return data, "application/json", nil
	}
}
