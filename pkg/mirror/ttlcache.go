package mirror

import (
	"strings"
	"sync"
	"time"
)

// ttlCache is the hot tier: a TTL-bounded map trading a little staleness for
// sub-millisecond reads. Entries are replaced whole, never edited in place,
// so concurrent readers can't observe torn values. There is no size-based
// eviction; the workload keeps key cardinality small.
type ttlCache[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]ttlEntry[V]
	now     func() time.Time
}

type ttlEntry[V any] struct {
	value     V
	fetchedAt time.Time
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		ttl:     ttl,
		entries: map[string]ttlEntry[V]{},
		now:     time.Now,
	}
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if c.now().Sub(entry.fetchedAt) >= c.ttl {
		c.mu.Lock()
		// Re-check under the write lock; a fresh Put may have landed.
		if current, ok := c.entries[key]; ok && current.fetchedAt.Equal(entry.fetchedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[V]) Put(key string, value V) {
	c.mu.Lock()
	c.entries[key] = ttlEntry[V]{value: value, fetchedAt: c.now()}
	c.mu.Unlock()
}

func (c *ttlCache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *ttlCache[V]) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

func (c *ttlCache[V]) Clear() {
	c.mu.Lock()
	c.entries = map[string]ttlEntry[V]{}
	c.mu.Unlock()
}
