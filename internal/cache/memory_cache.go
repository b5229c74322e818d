// Package cache stores reasoner responses so that repeated prompts within a
// session, or across runs, skip the model call.
package cache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

const defaultCleanupInterval = 10 * time.Minute

// InMemoryCache provides a simple thread-safe in-memory cache.
type InMemoryCache struct {
	store  map[string]cacheItem
	mutex  sync.RWMutex
	ttl    time.Duration
	logger *slog.Logger

	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

type cacheItem struct {
	Value      any   `json:"value"`
	Expiration int64 `json:"expiration"`
}

func (i cacheItem) expired(now int64) bool {
	return now > i.Expiration
}

// Option configures a cache.
type Option func(*InMemoryCache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *InMemoryCache) {
		c.logger = logger
	}
}

// WithCleanupInterval sets how often expired items are purged.
func WithCleanupInterval(interval time.Duration) Option {
	return func(c *InMemoryCache) {
		c.cleanupInterval = interval
	}
}

// NewInMemoryCache creates a new in-memory cache with a default TTL.
func NewInMemoryCache(defaultTTL time.Duration, opts ...Option) *InMemoryCache {
	c := &InMemoryCache{
		store:           make(map[string]cacheItem),
		ttl:             defaultTTL,
		cleanupInterval: defaultCleanupInterval,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	go c.cleanupLoop(c.cleanupInterval)
	return c
}

// Get retrieves an item from the cache.
func (c *InMemoryCache) Get(ctx context.Context, key string) (any, error) {
	if err := errbuilder.WrapIfContextDone(ctx, ctx.Err()); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.store[key]
	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}

	if item.expired(time.Now().UnixNano()) {
		c.logger.Debug("cache item expired", "key", key)
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item expired", nil))
	}

	return item.Value, nil
}

// Set adds or updates an item in the cache.
func (c *InMemoryCache) Set(ctx context.Context, key string, value any) error {
	if err := errbuilder.WrapIfContextDone(ctx, ctx.Err()); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.store[key] = cacheItem{
		Value:      value,
		Expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	c.logger.Debug("cache item set", "key", key)
	return nil
}

// Delete removes an item.
func (c *InMemoryCache) Delete(key string) {
	c.mutex.Lock()
	delete(c.store, key)
	c.mutex.Unlock()
}

// Len returns the number of stored items, expired or not.
func (c *InMemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine.
func (c *InMemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *InMemoryCache) purge() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := time.Now().UnixNano()
	n := 0
	for key, item := range c.store {
		if item.expired(now) {
			delete(c.store, key)
			n++
		}
	}
	return n
}

func (c *InMemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if n := c.purge(); n > 0 {
				c.logger.Debug("purged expired cache items", "count", n)
			}
		}
	}
}
