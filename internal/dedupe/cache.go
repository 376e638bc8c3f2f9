// ABOUTME: Thread-safe TTL cache that remembers recently handled event ids
// ABOUTME: The Matrix frontend drops any event id it has already seen

package dedupe

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// Cache remembers keys for a TTL, holding at most maxSize of them.
// The least recently seen key is evicted first when the cache is full;
// expired keys are dropped when next looked up.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache // key -> time.Time it was marked
	ttl time.Duration
	now func() time.Time
}

// New creates a cache with the given TTL and maximum size.
func New(ttl time.Duration, maxSize int) *Cache {
	return newCache(ttl, maxSize, time.Now)
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		lru: lru.New(maxSize),
		ttl: ttl,
		now: now,
	}
}

// Seen marks key and reports whether it was already marked within the TTL.
// The lookup and the mark happen under one lock so two deliveries of the same event
// cannot both be treated as new.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return true
	}
	c.lru.Add(key, c.now())
	return false
}

// liveLocked must be called with mu held.
func (c *Cache) liveLocked(key string) bool {
	v, ok := c.lru.Get(key)
	if !ok {
		return false
	}
	marked, _ := v.(time.Time)
	if c.now().Sub(marked) < c.ttl {
		return true
	}
	c.lru.Remove(key)
	return false
}
