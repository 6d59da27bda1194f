package gapura

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Store is the durable string key/value boundary shared by the token manager
// and the response cache. Each consumer writes under its own key prefix and
// Clear(prefix) wipes only that namespace.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
	Keys(prefix string) []string
	Clear(prefix string) error
}

// MemoryStore is a mutex-guarded in-memory Store. It is the default backend
// and is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *MemoryStore) Clear(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			delete(s.items, k)
		}
	}
	return nil
}

// FileStore persists the key/value map as a single JSON document, flushed on
// every mutation. Writes go through a temp file + rename so a crash never
// leaves a truncated document behind.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	items map[string]string
}

// NewFileStore opens (or creates) a JSON-backed store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:  path,
		items: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.items); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return s.flushLocked()
}

func (s *FileStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return s.flushLocked()
}

func (s *FileStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *FileStore) Clear(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			delete(s.items, k)
		}
	}
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// LRUStore bounds the number of retained entries with an LRU eviction policy.
// Suited to the response cache namespace where dropping cold entries is safe;
// do not use it for credentials.
type LRUStore struct {
	cache *lru.Cache
}

// NewLRUStore creates a store retaining at most maxEntries values.
func NewLRUStore(maxEntries int) (*LRUStore, error) {
	c, err := lru.New(maxEntries)
	if err != nil {
		return nil, err
	}
	return &LRUStore{cache: c}, nil
}

func (s *LRUStore) Get(key string) (string, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (s *LRUStore) Set(key, value string) error {
	s.cache.Add(key, value)
	return nil
}

func (s *LRUStore) Remove(key string) error {
	s.cache.Remove(key)
	return nil
}

func (s *LRUStore) Keys(prefix string) []string {
	var keys []string
	for _, k := range s.cache.Keys() {
		if ks, ok := k.(string); ok && strings.HasPrefix(ks, prefix) {
			keys = append(keys, ks)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *LRUStore) Clear(prefix string) error {
	for _, k := range s.cache.Keys() {
		if ks, ok := k.(string); ok && strings.HasPrefix(ks, prefix) {
			s.cache.Remove(k)
		}
	}
	return nil
}
