package gapura

import (
	"net/http"
	"sync"
)

// MockResponse is a canned response substituted for the transport call when
// mocking is enabled.
type MockResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string

	// Err simulates a transport-level failure instead of a response.
	Err error
}

// JSONMock is a convenience constructor for a JSON-bodied mock response.
func JSONMock(statusCode int, body string) *MockResponse {
	return &MockResponse{
		StatusCode: statusCode,
		Body:       []byte(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// MockRegistry maps (method, path) pairs to canned responses. A pair holds
// either a fixed response returned on every lookup or an ordered one-shot
// queue, which is what pagination-sequence tests need. Safe for concurrent
// use.
type MockRegistry struct {
	mu     sync.Mutex
	fixed  map[string]*MockResponse
	queues map[string][]*MockResponse
}

// NewMockRegistry creates an empty registry.
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{
		fixed:  make(map[string]*MockResponse),
		queues: make(map[string][]*MockResponse),
	}
}

func mockKey(method, path string) string {
	return method + " " + path
}

// Register installs a fixed response for a (method, path) pair.
func (r *MockRegistry) Register(method, path string, resp *MockResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixed[mockKey(method, path)] = resp
}

// Enqueue appends one-shot responses for a (method, path) pair. Queued
// responses are consumed in order before any fixed response.
func (r *MockRegistry) Enqueue(method, path string, responses ...*MockResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := mockKey(method, path)
	r.queues[key] = append(r.queues[key], responses...)
}

// Lookup returns the canned response for a pair, popping from the queue
// first and falling back to the fixed response.
func (r *MockRegistry) Lookup(method, path string) (*MockResponse, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := mockKey(method, path)
	if queue := r.queues[key]; len(queue) > 0 {
		resp := queue[0]
		r.queues[key] = queue[1:]
		return resp, true
	}

	resp, ok := r.fixed[key]
	return resp, ok
}

// Reset drops all registered responses.
func (r *MockRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixed = make(map[string]*MockResponse)
	r.queues = make(map[string][]*MockResponse)
}

// raw converts the canned response to the transport representation.
func (m *MockResponse) raw() *RawResponse {
	header := http.Header{}
	for k, v := range m.Headers {
		header.Set(k, v)
	}
	return &RawResponse{
		StatusCode: m.StatusCode,
		Body:       m.Body,
		Header:     header,
	}
}
