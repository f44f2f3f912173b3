package api

import (
	"container/list"
	"sync"
	"time"
)

// pathCache is a thread-safe LRU of artifact paths recently confirmed to exist on the server.
// Entries expire after ttl so a path deleted server-side is re-checked eventually.
type pathCache struct {
	capacity int
	ttl      time.Duration
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
	now      func() time.Time
}

type pathEntry struct {
	key       string
	checkedAt time.Time
}

func newPathCache(capacity int, ttl time.Duration) *pathCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &pathCache{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
		now:      time.Now,
	}
}

// Fresh reports whether key was confirmed within the TTL
func (c *pathCache) Fresh(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.cache[key]
	if !exists {
		return false
	}
	entry := elem.Value.(*pathEntry)
	if c.ttl > 0 && c.now().Sub(entry.checkedAt) > c.ttl {
		c.lru.Remove(elem)
		delete(c.cache, key)
		return false
	}
	c.lru.MoveToFront(elem)
	return true
}

// Confirm records that key exists now
func (c *pathCache) Confirm(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[key]; exists {
		c.lru.MoveToFront(elem)
		elem.Value.(*pathEntry).checkedAt = c.now()
		return
	}

	if c.lru.Len() >= c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*pathEntry).key)
		}
	}

	c.cache[key] = c.lru.PushFront(&pathEntry{key: key, checkedAt: c.now()})
}

// Forget drops key, used when the server reports the path gone
func (c *pathCache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, exists := c.cache[key]; exists {
		c.lru.Remove(elem)
		delete(c.cache, key)
	}
}

// Len returns the current number of items in the cache
func (c *pathCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
