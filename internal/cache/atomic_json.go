// Package cache implements the atomic JSON read/write primitive used by the
// transcript and summary artifact caches (§3, §4.9). Writes go to a temp
// file in the same directory and are renamed over the destination, so a
// reader never observes a truncated file (§8 invariant).
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONCache guards a directory of JSON-keyed-by-identifier files behind a
// single mutex, the way playlist.Store guards a single JSON file. One
// JSONCache instance is expected per cache_dir subdirectory (transcripts,
// summaries).
type JSONCache struct {
	mu  sync.Mutex
	dir string
}

// NewJSONCache creates a cache rooted at dir, creating the directory if it
// does not exist.
func NewJSONCache(dir string) (*JSONCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %q: %w", dir, err)
	}
	return &JSONCache{dir: dir}, nil
}

func (c *JSONCache) pathFor(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Write atomically serialises v to the file keyed by key: write to a temp
// file in the same directory, flush, then rename over the destination.
func (c *JSONCache) Write(key string, v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry %q: %w", key, err)
	}

	dest := c.pathFor(key)
	tmp, err := os.CreateTemp(c.dir, "*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %q: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file for %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush temp file for %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %q: %w", key, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file to %q: %w", dest, err)
	}
	return nil
}

// Read deserialises the file keyed by key into v. Returns os.ErrNotExist
// (wrapped) if no such entry has been written.
func (c *JSONCache) Read(key string, v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := os.ReadFile(c.pathFor(key))
	if err != nil {
		return fmt.Errorf("failed to read cache entry %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to parse cache entry %q: %w", key, err)
	}
	return nil
}

// Exists reports whether a cache entry exists for key, without parsing it.
func (c *JSONCache) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := os.Stat(c.pathFor(key))
	return err == nil
}
