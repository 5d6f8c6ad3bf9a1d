package cache

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	tags      []string
}

// MemoryCache is an in-process Cache. Reads never take a lock; writes are serialized so that the tag index stays
// consistent with the stored entries.
type MemoryCache struct {
	clock   clock.PassiveClock
	entries sync.Map

	mu   sync.Mutex
	tags map[string]map[string]struct{}
}

// NewMemoryCache returns an empty MemoryCache that uses the given clock to expire entries.
func NewMemoryCache(clk clock.PassiveClock) *MemoryCache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryCache{
		clock: clk,
		tags:  make(map[string]map[string]struct{}),
	}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*memoryEntry)
	if !c.clock.Now().Before(e.expiresAt) {
		c.mu.Lock()
		c.removeEntry(key, e)
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (c *MemoryCache) Put(key string, value []byte, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		return c.Invalidate(key)
	}
	e := &memoryEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
		tags:      tags,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries.Load(key); ok {
		c.untag(key, old.(*memoryEntry))
	}
	c.entries.Store(key, e)
	for _, tag := range tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

func (c *MemoryCache) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries.Load(key); ok {
		c.removeEntry(key, v.(*memoryEntry))
	}
	return nil
}

func (c *MemoryCache) InvalidateTag(tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.tags[tag] {
		if v, ok := c.entries.Load(key); ok {
			c.removeEntry(key, v.(*memoryEntry))
		}
	}
	delete(c.tags, tag)
	return nil
}

// Purge removes every expired entry.
func (c *MemoryCache) Purge() {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Range(func(k, v any) bool {
		if e := v.(*memoryEntry); !now.Before(e.expiresAt) {
			c.removeEntry(k.(string), e)
		}
		return true
	})
}

// Len returns the number of stored entries, including expired entries that haven't been purged yet.
func (c *MemoryCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (c *MemoryCache) Close() error {
	return nil
}

// removeEntry deletes the entry only if it's still the one stored for the key. The caller must hold c.mu.
func (c *MemoryCache) removeEntry(key string, e *memoryEntry) {
	if c.entries.CompareAndDelete(key, e) {
		c.untag(key, e)
	}
}

// untag drops the key from the tag index. The caller must hold c.mu.
func (c *MemoryCache) untag(key string, e *memoryEntry) {
	for _, tag := range e.tags {
		if keys, ok := c.tags[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}
