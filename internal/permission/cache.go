// Package permission holds the client-side cache of permission codes granted
// to the current session. The set is replaced wholesale on login and on every
// profile fetch; it is never patched incrementally, so readers cannot observe
// a half-updated set.
package permission

import (
	"context"
	"sync"
)

// Cache answers "does the current user hold permission X" queries, both as
// point-in-time snapshots and as live watches that re-evaluate on every
// replacement. A fresh cache is unloaded: an empty set at boot is
// indistinguishable from "denied", so guards wait for the first population
// before deciding.
type Cache struct {
	mu       sync.RWMutex
	codes    map[string]struct{}
	version  uint64
	loaded   bool
	loadedCh chan struct{}
	watchers map[int]*watcher
	next     int
}

type watcher struct {
	code string
	ch   chan bool
}

// NewCache returns an empty, unloaded cache.
func NewCache() *Cache {
	return &Cache{
		codes:    make(map[string]struct{}),
		loadedCh: make(chan struct{}),
		watchers: make(map[int]*watcher),
	}
}

// Replace installs a new permission set and marks the cache loaded. All
// watchers are re-evaluated against the new set.
func (c *Cache) Replace(codes []string) {
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if code == "" {
			continue
		}
		set[code] = struct{}{}
	}

	c.mu.Lock()
	c.codes = set
	c.version++
	if !c.loaded {
		c.loaded = true
		close(c.loadedCh)
	}
	for _, w := range c.watchers {
		_, held := set[w.code]
		select {
		case w.ch <- held:
		default:
			// Drop when the subscriber is slow; the next replacement
			// will deliver a fresh answer.
		}
	}
	c.mu.Unlock()
}

// Reset empties the set and returns the cache to the unloaded state, as after
// logout.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.codes = make(map[string]struct{})
	c.version++
	if c.loaded {
		c.loaded = false
		c.loadedCh = make(chan struct{})
	}
	c.mu.Unlock()
}

// Has reports whether the current set contains code.
func (c *Cache) Has(code string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.codes[code]
	return ok
}

// HasAny reports whether any of the codes is held. Empty input is false.
func (c *Cache) HasAny(codes ...string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, code := range codes {
		if _, ok := c.codes[code]; ok {
			return true
		}
	}
	return false
}

// HasAll reports whether every code is held. Empty input is true.
func (c *Cache) HasAll(codes ...string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, code := range codes {
		if _, ok := c.codes[code]; !ok {
			return false
		}
	}
	return true
}

// Codes returns a copy of the current set.
func (c *Cache) Codes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.codes))
	for code := range c.codes {
		out = append(out, code)
	}
	return out
}

// Version increments on every Replace/Reset; pollers can use it to detect
// change without subscribing.
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Loaded reports whether the cache has been populated at least once since
// construction or the last Reset.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// WaitLoaded blocks until the first population or until ctx ends. Callers
// treat a context error as denial.
func (c *Cache) WaitLoaded(ctx context.Context) error {
	c.mu.RLock()
	ch := c.loadedCh
	c.mu.RUnlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch delivers the answer for code now and again after every replacement
// until ctx ends. Subscribing before the set is populated is safe: the first
// replacement delivers the correct answer, so an early subscriber is never
// locked into a stale "false".
func (c *Cache) Watch(ctx context.Context, code string) <-chan bool {
	ch := make(chan bool, 4)

	c.mu.Lock()
	id := c.next
	c.next++
	c.watchers[id] = &watcher{code: code, ch: ch}
	_, held := c.codes[code]
	c.mu.Unlock()

	// Seed with the current answer so subscribers always get an initial value.
	ch <- held

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}()

	return ch
}
