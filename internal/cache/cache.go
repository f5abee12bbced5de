// internal/cache/cache.go
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File is the cache file name inside the data directory.
const File = "cache.json"

type entry struct {
	Value   json.RawMessage `json:"value"`
	Expires *time.Time      `json:"expires,omitempty"`
}

// Cache is a JSON-file-backed key/value store. A missing or unreadable
// file behaves like an empty cache.
type Cache struct {
	path string
	mu   sync.RWMutex
	now  func() time.Time
}

// New creates a Cache stored at path.
func New(path string) *Cache {
	return &Cache{path: path, now: time.Now}
}

// Path returns the file path used by this cache.
func (c *Cache) Path() string {
	return c.path
}

// Get decodes the value stored under key into v. It reports false when the
// key is absent or expired.
func (c *Cache) Get(key string, v any) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := c.load()
	e, ok := entries[key]
	if !ok || c.expired(e) {
		return false, nil
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return true, nil
}

// Set stores v under key. A ttl of zero never expires.
func (c *Cache) Set(key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.load()
	e := entry{Value: raw}
	if ttl > 0 {
		exp := c.now().Add(ttl).UTC()
		e.Expires = &exp
	}
	entries[key] = e
	return c.save(entries)
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.load()
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return c.save(entries)
}

func (c *Cache) expired(e entry) bool {
	return e.Expires != nil && !c.now().Before(*e.Expires)
}

// load reads the cache file. Expired entries are dropped.
func (c *Cache) load() map[string]entry {
	entries := make(map[string]entry)
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("read cache file", "path", c.path, "error", err)
		}
		return entries
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("ignoring corrupt cache file", "path", c.path, "error", err)
		return make(map[string]entry)
	}
	for k, e := range entries {
		if c.expired(e) {
			delete(entries, k)
		}
	}
	return entries
}

// save writes the entries to disk using atomic write (temp file + rename).
func (c *Cache) save(entries map[string]entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp cache file: %w", err)
	}
	return nil
}
