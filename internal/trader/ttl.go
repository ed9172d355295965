package trader

import (
	"sync"
	"time"
)

// ttlCache memoizes fill results per key for a fixed duration. Used for
// exchange metadata that changes rarely (symbol filters, commission rates).
type ttlCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value   V
	expires time.Time
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]ttlEntry[V]),
	}
}

// get returns the cached value for key, calling fill on miss or expiry.
// Fill errors are not cached.
func (c *ttlCache[V]) get(key string, fill func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok && c.now().Before(entry.expires) {
		return entry.value, nil
	}
	value, err := fill()
	if err != nil {
		var zero V
		return zero, err
	}
	c.entries[key] = ttlEntry[V]{value: value, expires: c.now().Add(c.ttl)}
	return value, nil
}
