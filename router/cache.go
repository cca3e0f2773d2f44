package router

import (
	"strings"
	"sync"
)

// RoutingCache is the self-learning direct map owned by one Router. Keys
// follow the same per-key update discipline as the context cache: memoized
// entries are written once and never silently overwritten, and the cache
// supports explicit flush/reload instead of implicit global mutation.
type RoutingCache struct {
	mu      sync.RWMutex
	entries map[string]string
	seed    map[string]string
}

// NewRoutingCache builds a cache seeded with the static direct map.
func NewRoutingCache(seed map[string]string) *RoutingCache {
	c := &RoutingCache{
		entries: make(map[string]string, len(seed)),
		seed:    make(map[string]string, len(seed)),
	}
	for k, v := range seed {
		k = normalizeKey(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		c.entries[k] = v
		c.seed[k] = v
	}
	return c
}

// Lookup returns the handler id mapped for the event type.
func (c *RoutingCache) Lookup(eventType string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.entries[normalizeKey(eventType)]
	return id, ok
}

// Memoize records a learned mapping. Idempotent: an existing entry for the
// key is left untouched, matching or not.
func (c *RoutingCache) Memoize(eventType, handlerID string) {
	key := normalizeKey(eventType)
	handlerID = strings.TrimSpace(handlerID)
	if key == "" || handlerID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return
	}
	c.entries[key] = handlerID
}

// Flush drops every learned entry, keeping the static seed.
func (c *RoutingCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]string, len(c.seed))
	for k, v := range c.seed {
		c.entries[k] = v
	}
}

// Reload replaces the static seed and drops learned entries.
func (c *RoutingCache) Reload(seed map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seed = make(map[string]string, len(seed))
	c.entries = make(map[string]string, len(seed))
	for k, v := range seed {
		k = normalizeKey(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		c.seed[k] = v
		c.entries[k] = v
	}
}

// Snapshot returns a copy of the current table, learned entries included.
func (c *RoutingCache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
