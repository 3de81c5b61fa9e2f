package cache

import (
	"context"
	"math"
	"sync"
	"time"
)

// entry is a cached value with an absolute expiry in unix nanoseconds.
// A zero expiry means the entry never expires.
type entry struct {
	value  string
	expiry int64
}

func (e entry) expired(now int64) bool {
	return e.expiry > 0 && now > e.expiry
}

// MemoryCache is a bounded, thread-safe in-memory string cache. It backs
// the worker-record look-aside path on deployments without Redis.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxEntries int
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a MemoryCache holding at most maxEntries values. When
// purgeInterval is positive a janitor goroutine drops expired entries on
// that cadence until Stop is called. maxEntries <= 0 means unbounded.
func New(maxEntries int, purgeInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	if purgeInterval > 0 {
		go c.janitor(purgeInterval)
	}
	return c
}

// Get returns the value stored under key. The second return reports
// whether a live (non-expired) entry was found.
func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || e.expired(time.Now().UnixNano()) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key for ttl. A non-positive ttl stores the value
// without expiry.
func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiry int64
	if ttl > 0 {
		expiry = time.Now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictSoonest()
	}
	c.entries[key] = entry{value: value, expiry: expiry}
	return nil
}

// Delete removes key from the cache.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop terminates the janitor goroutine. Safe to call more than once.
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) purgeExpired() {
	now := time.Now().UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}

// evictSoonest removes the entry closest to expiry, treating entries
// without one as furthest away. Caller holds the write lock.
func (c *MemoryCache) evictSoonest() {
	var victim string
	soonest := int64(math.MaxInt64)
	found := false

	for k, e := range c.entries {
		exp := e.expiry
		if exp == 0 {
			exp = math.MaxInt64
		}
		if !found || exp < soonest {
			victim = k
			soonest = exp
			found = true
		}
	}
	if found {
		delete(c.entries, victim)
	}
}
