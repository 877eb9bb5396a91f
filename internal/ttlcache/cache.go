// Package ttlcache provides a generic key -> (value, expiry) store with lazy
// expiration, wrapping github.com/jellydator/ttlcache/v3 so the rest of the
// gateway sees a small, storage-agnostic API (Set/Get/Delete/Clear/Cleanup)
// instead of the underlying library's option-heavy surface.
package ttlcache

import (
	"time"

	libcache "github.com/jellydator/ttlcache/v3"
)

// DefaultTTL is used by Set when a caller passes a zero ttl.
const DefaultTTL = 5 * time.Second

// Cache is a process-local TTL cache from string keys to values of type V.
// It is safe for concurrent use.
type Cache[V any] struct {
	lib *libcache.Cache[string, V]
}

// New creates a Cache and starts the library's background janitor goroutine,
// which evicts expired entries even when nothing reads them. Call Stop to
// release that goroutine.
func New[V any]() *Cache[V] {
	lib := libcache.New[string, V](
		libcache.WithTTL[string, V](DefaultTTL),
	)
	go lib.Start()
	return &Cache[V]{lib: lib}
}

// Set stores value under key with the given ttl. A ttl of 0 uses DefaultTTL.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.lib.Set(key, value, ttl)
}

// Get performs a lazy-expiring read: a read past the entry's expiry deletes
// it and reports absent, exactly like a fresh miss.
func (c *Cache[V]) Get(key string) (value V, ok bool) {
	item := c.lib.Get(key)
	if item == nil {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Delete removes key unconditionally.
func (c *Cache[V]) Delete(key string) {
	c.lib.Delete(key)
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.lib.DeleteExpired()
	for _, key := range c.lib.Keys() {
		c.lib.Delete(key)
	}
}

// Cleanup forces an immediate eviction pass over expired entries instead of
// waiting for the background janitor's next tick.
func (c *Cache[V]) Cleanup() {
	c.lib.DeleteExpired()
}

// Stop releases the background janitor goroutine. Safe to call once during
// shutdown; the cache must not be used afterwards.
func (c *Cache[V]) Stop() {
	c.lib.Stop()
}

// Len reports the number of live (non-expired) entries.
func (c *Cache[V]) Len() int {
	return c.lib.Len()
}
