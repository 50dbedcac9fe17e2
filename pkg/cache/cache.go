// Package cache decorates a provider gateway with TTL response caching
// and request coalescing. Concurrent invocations that share a fingerprint
// result in exactly one inner call, and repeated requests within the TTL
// are served without touching the provider at all.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/assaylab/assay/internal/metrics"
	"github.com/assaylab/assay/pkg/provider"
)

// DefaultTTL bounds entry lifetime when the config does not set one.
const DefaultTTL = 5 * time.Minute

// Config controls the cache decorator.
type Config struct {
	// TTL is how long a cached response stays valid. Zero or negative
	// values fall back to DefaultTTL.
	TTL time.Duration

	// Logger receives cache activity at debug level.
	Logger zerolog.Logger
}

type cacheEntry struct {
	response  provider.Response
	timestamp time.Time
}

// Cache wraps a provider.Gateway. Responses served from the cache or
// from a coalesced in-flight call carry Cached set to true so callers
// can keep provider call accounting honest.
type Cache struct {
	inner   provider.Gateway
	ttl     time.Duration
	logger  zerolog.Logger
	group   singleflight.Group
	entries map[string]*cacheEntry
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// Wrap decorates inner with response caching and starts the background
// janitor. Call Stop when the cache is no longer needed.
func Wrap(inner provider.Gateway, cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		inner:   inner,
		ttl:     ttl,
		logger:  cfg.Logger,
		entries: make(map[string]*cacheEntry),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.cleanup()

	return c
}

// Name reports the inner backend name.
func (c *Cache) Name() string {
	return c.inner.Name()
}

// Invoke serves the request from the cache when a fresh entry exists,
// otherwise forwards it to the inner gateway. Identical requests already
// in flight share a single inner call; only the leader's response is
// reported as uncached. Errors are never stored.
func (c *Cache) Invoke(ctx context.Context, req provider.Request) (*provider.Response, error) {
	key, err := Fingerprint(c.inner.Name(), req)
	if err != nil {
		// Unfingerprintable requests pass straight through.
		return c.inner.Invoke(ctx, req)
	}

	if resp, ok := c.get(key); ok {
		metrics.RecordCacheEvent("hit")
		c.logger.Debug().
			Str("fingerprint", shortKey(key)).
			Str("backend", c.inner.Name()).
			Msg("Cache hit")

		resp.Cached = true
		return &resp, nil
	}

	metrics.RecordCacheEvent("miss")

	ch := c.group.DoChan(key, func() (interface{}, error) {
		resp, err := c.inner.Invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		c.set(key, *resp)
		return resp, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp := res.Val.(*provider.Response)
		if res.Shared {
			metrics.RecordCacheEvent("coalesced")
			c.logger.Debug().
				Str("fingerprint", shortKey(key)).
				Msg("Coalesced with in-flight request")

			copied := *resp
			copied.Cached = true
			return &copied, nil
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// get returns a copy of the entry for key if it exists and has not expired.
func (c *Cache) get(key string) (provider.Response, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return provider.Response{}, false
	}

	if time.Since(entry.timestamp) > c.ttl {
		return provider.Response{}, false
	}

	return entry.response, true
}

// set stores a response under key, stamping it with the current time.
func (c *Cache) set(key string, resp provider.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		response:  resp,
		timestamp: time.Now(),
	}
	metrics.RecordCacheEvent("stored")
}

// Size returns the number of entries currently held, expired or not.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
}

// Stop terminates the background janitor. The cache remains usable but
// expired entries are only dropped lazily on access afterwards.
func (c *Cache) Stop() {
	c.cancel()
}

// cleanup periodically removes expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired deletes all entries older than the TTL.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.ttl {
			delete(c.entries, key)
			metrics.RecordCacheEvent("expired")
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug().
			Int("removed", removed).
			Int("remaining", len(c.entries)).
			Msg("Removed expired cache entries")
	}
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
