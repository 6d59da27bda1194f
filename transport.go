package gapura

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// RawResponse is the transport-level response before normalization.
type RawResponse struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Transport is the boundary to the actual HTTP implementation. Connection
// pooling, TLS and timeout enforcement live behind this interface.
type Transport interface {
	Send(ctx context.Context, method, url string, header http.Header, body []byte) (*RawResponse, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, method, url string, header http.Header, body []byte) (*RawResponse, error)

func (f TransportFunc) Send(ctx context.Context, method, url string, header http.Header, body []byte) (*RawResponse, error) {
	return f(ctx, method, url, header, body)
}

// Middleware wraps a Transport with a cross-cutting concern. Middleware are
// applied in registration order: the first registered sees the request first.
type Middleware func(next Transport) Transport

// chainMiddleware threads the base transport through the middleware list.
// Nil entries are skipped; configuration validation reports them.
func chainMiddleware(base Transport, middleware []Middleware) Transport {
	current := base
	for i := len(middleware) - 1; i >= 0; i-- {
		if middleware[i] == nil {
			continue
		}
		current = middleware[i](current)
	}
	return current
}

// HTTPTransport is the default Transport backed by net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport with the given per-request timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
	}
}

// NewHTTPTransportWithClient wraps an existing *http.Client.
func NewHTTPTransportWithClient(client *http.Client) *HTTPTransport {
	return &HTTPTransport{client: client}
}

// maxResponseBody caps how much of a response is buffered.
const maxResponseBody = 32 * 1024 * 1024

func (t *HTTPTransport) Send(ctx context.Context, method, url string, header http.Header, body []byte) (*RawResponse, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Body:       data,
		Header:     resp.Header,
	}, nil
}
