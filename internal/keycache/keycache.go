// Package keycache holds in-memory unlock keys: collection name to
// current key, and hashed standalone-secret name to its key. Each entry
// may carry a single-shot timer that evicts it on fire, since a broker
// holds many collections' keys concurrently and each can time out on
// its own schedule.
package keycache

import (
	"sync"
	"time"

	"github.com/jolla/secretsbrokerd/internal/memguard"
)

type entry struct {
	key *memguard.Key
	timer *time.Timer
}

// Cache is the dispatch-thread-owned key cache. Workers never touch it
// directly; the processor marshals cache
// access back onto its own goroutine via the mutex here, which gives the
// same externally-observable single-owner semantics.
type Cache struct {
	mu sync.Mutex
	entries map[string]*entry
}

// New creates an empty key cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Put caches key under name. If timeout > 0, a single-shot timer is
// installed that evicts the entry on fire, calling onEvict.
func (c *Cache) Put(name string, key []byte, timeout time.Duration, onEvict func(name string)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[name]; ok {
		// Already cached: the relock timer, if any, is never reset on repeated access.
		e.key.Release()
		e.key = memguard.NewKey(key)
		return
	}

	e := &entry{key: memguard.NewKey(key)}
	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() {
			c.Evict(name)
			if onEvict != nil {
				onEvict(name)
			}
		})
	}
	c.entries[name] = e
}

// Get returns a defensive copy of the cached key for name, and whether
// it was present.
func (c *Cache) Get(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	return e.key.Bytes(), true
}

// Evict removes and zeroizes the cached key for name, stopping its timer
// if any. Safe to call even if name is not cached.
func (c *Cache) Evict(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.key.Release()
	delete(c.entries, name)
}

// EvictAll clears the entire cache, used when the device lock (and thus
// every device-lock key derived from it) changes.
func (c *Cache) EvictAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, e := range c.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.key.Release()
		delete(c.entries, name)
	}
}

// Contains reports whether name currently has a cached key, without
// copying it out.
func (c *Cache) Contains(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[name]
	return ok
}
