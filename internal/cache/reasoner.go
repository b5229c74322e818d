package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"log/slog"
	"strconv"
	"time"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"golang.org/x/sync/singleflight"
)

const defaultCallTimeout = 30 * time.Second

// CachedReasoner answers repeated prompts from a cache and collapses
// concurrent identical prompts into one reasoner call. Errors and empty
// answers are never cached.
type CachedReasoner struct {
	next    hive.Reasoner
	cache   hive.Cache
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
}

// ReasonerOption configures a CachedReasoner.
type ReasonerOption func(*CachedReasoner)

// WithCallTimeout bounds a shared upstream call. It no longer follows any
// single caller's context, so this is its only deadline.
func WithCallTimeout(d time.Duration) ReasonerOption {
	return func(r *CachedReasoner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewCachedReasoner wraps next with cache.
func NewCachedReasoner(next hive.Reasoner, cache hive.Cache, logger *slog.Logger, opts ...ReasonerOption) *CachedReasoner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &CachedReasoner{next: next, cache: cache, timeout: defaultCallTimeout, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the cache key for one reasoner call.
func Key(prompt string, maxTokens int) string {
	h := sha1.New()
	h.Write([]byte(strconv.Itoa(maxTokens)))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return "reasoner:" + hex.EncodeToString(h.Sum(nil))
}

// Reason implements hive.Reasoner.
func (r *CachedReasoner) Reason(ctx context.Context, prompt string, maxTokens int) (string, error) {
	key := Key(prompt, maxTokens)
	if v, err := r.cache.Get(ctx, key); err == nil {
		if s, ok := v.(string); ok {
			r.logger.Debug("reasoner cache hit", "key", key)
			return s, nil
		}
	}

	// Peers share the flight, so one caller leaving must not cancel it.
	ch := r.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		out, err := r.next.Reason(callCtx, prompt, maxTokens)
		if err != nil {
			return "", err
		}
		if out != "" {
			if err := r.cache.Set(callCtx, key, out); err != nil {
				r.logger.Warn("failed to cache reasoner response", "key", key, "error", err)
			}
		}
		return out, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("shared in-flight reasoner call", "key", key)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}
