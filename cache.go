package gapura

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
)

const cacheNamespace = "gapura:cache:"

// CachePolicy controls response caching for a single request.
type CachePolicy struct {
	Enabled bool
	TTL     time.Duration
}

// CachedResponse is a response snapshot returned on a cache hit.
type CachedResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// cacheEntry is the persisted form of a snapshot. The payload is snappy
// compressed before storage; JSON base64-encodes the compressed bytes.
type cacheEntry struct {
	Payload    []byte            `json:"payload"`
	Headers    map[string]string `json:"headers,omitempty"`
	StatusCode int               `json:"status_code"`
	StoredAt   time.Time         `json:"stored_at"`
	TTL        time.Duration     `json:"ttl"`
}

// ResponseCache maps request fingerprints to timestamped response snapshots
// with per-entry TTLs. Entries live in the backing Store under the cache
// namespace; expiry is lazy, on the next lookup.
type ResponseCache struct {
	store Store
	now   func() time.Time
}

// NewResponseCache creates a cache over the given store.
func NewResponseCache(store Store) *ResponseCache {
	return &ResponseCache{
		store: store,
		now:   time.Now,
	}
}

// Lookup returns the snapshot for key, treating entries past their TTL as
// absent and evicting them.
func (c *ResponseCache) Lookup(key string) (*CachedResponse, bool) {
	raw, ok := c.store.Get(cacheNamespace + key)
	if !ok {
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		_ = c.store.Remove(cacheNamespace + key)
		return nil, false
	}

	if c.now().After(entry.StoredAt.Add(entry.TTL)) {
		_ = c.store.Remove(cacheNamespace + key)
		return nil, false
	}

	body, err := snappy.Decode(nil, entry.Payload)
	if err != nil {
		_ = c.store.Remove(cacheNamespace + key)
		return nil, false
	}

	return &CachedResponse{
		StatusCode: entry.StatusCode,
		Body:       body,
		Headers:    entry.Headers,
	}, true
}

// Store writes a snapshot under key, unconditionally replacing any previous
// entry (last-write-wins). The Set on the backing store keeps the per-key
// replace atomic.
func (c *ResponseCache) Store(key string, statusCode int, body []byte, headers map[string]string, ttl time.Duration) error {
	entry := cacheEntry{
		Payload:    snappy.Encode(nil, body),
		Headers:    headers,
		StatusCode: statusCode,
		StoredAt:   c.now(),
		TTL:        ttl,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.store.Set(cacheNamespace+key, string(data))
}

// Clear removes every entry written by this cache, leaving other namespaces
// in the backing store untouched.
func (c *ResponseCache) Clear() error {
	return c.store.Clear(cacheNamespace)
}

// Len reports the number of live entries, counting expired-but-unevicted ones.
func (c *ResponseCache) Len() int {
	return len(c.store.Keys(cacheNamespace))
}

// CacheKey derives the deterministic fingerprint for a request: method plus
// resolved path plus query parameters sorted by name with scalar values
// stringified. Parameter order and numeric representation (1 vs "1") do not
// change the key.
func CacheKey(method, path string, query map[string]any) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')

	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(queryString(query[name]))
		b.WriteByte('&')
	}

	h := fnv.New64a()
	h.Write([]byte(b.String()))
	return strconv.FormatUint(h.Sum64(), 16)
}

// queryString renders a query parameter value in canonical textual form so
// semantically equal values collapse to the same fingerprint.
func queryString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return formatFloat(float64(t))
	case float64:
		return formatFloat(t)
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = queryString(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// formatFloat renders whole floats without a trailing ".0" so JSON-decoded
// numbers match their integer spelling.
func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
