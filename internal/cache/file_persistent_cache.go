package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// FilePersistentCache is an InMemoryCache that writes its live entries to a
// JSON file after every Set and loads them on start. Values must be JSON
// encodable; strings round-trip unchanged.
type FilePersistentCache struct {
	*InMemoryCache
	filePath string
	writeMu  sync.Mutex
}

// NewFilePersistentCache creates a persistent cache backed by filePath. A
// missing file is an empty cache.
func NewFilePersistentCache(defaultTTL time.Duration, filePath string, opts ...Option) (*FilePersistentCache, error) {
	c := &FilePersistentCache{
		InMemoryCache: NewInMemoryCache(defaultTTL, opts...),
		filePath:      filePath,
	}
	if err := c.loadFromFile(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *FilePersistentCache) loadFromFile() error {
	data, err := os.ReadFile(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errbuilder.GenericErr("failed to read cache file", err)
	}

	var stored map[string]cacheItem
	if err := json.Unmarshal(data, &stored); err != nil {
		return errbuilder.GenericErr("failed to decode cache file", err)
	}

	now := time.Now().UnixNano()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for k, item := range stored {
		if !item.expired(now) {
			c.store[k] = item
		}
	}
	c.logger.Debug("loaded persistent cache", "path", c.filePath, "items", len(c.store))
	return nil
}

// Set stores the item and rewrites the backing file.
func (c *FilePersistentCache) Set(ctx context.Context, key string, value any) error {
	if err := c.InMemoryCache.Set(ctx, key, value); err != nil {
		return err
	}
	return c.saveToFile()
}

// saveToFile writes a snapshot through a temp file and rename so a crash
// never leaves a truncated file behind.
func (c *FilePersistentCache) saveToFile() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := time.Now().UnixNano()
	c.mutex.RLock()
	snapshot := make(map[string]cacheItem, len(c.store))
	for k, item := range c.store {
		if !item.expired(now) {
			snapshot[k] = item
		}
	}
	c.mutex.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return errbuilder.GenericErr("failed to encode cache", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o755); err != nil {
		return errbuilder.GenericErr("failed to create cache dir", err)
	}
	tmp := c.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errbuilder.GenericErr("failed to write cache file", err)
	}
	if err := os.Rename(tmp, c.filePath); err != nil {
		return errbuilder.GenericErr("failed to replace cache file", err)
	}
	return nil
}
