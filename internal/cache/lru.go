package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/stablestate/internal/resource"
)

// LRU is a least-recently-used cache of byte values bounded by their total
// size. Returned slices must be treated as read-only.
type LRU[K comparable] struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[K]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[K comparable] struct {
	key   K
	value []byte
}

// NewLRU creates a cache holding at most capacity bytes. If rc is non-nil
// every cached byte is also reserved there.
func NewLRU[K comparable](capacity int64, rc *resource.Controller) *LRU[K] {
	return &LRU[K]{
		capacity:  capacity,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns the cached value of key.
func (c *LRU[K]) Get(key K) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*entry[K]).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches value under key. Values larger than the capacity are not cached.
func (c *LRU[K]) Set(key K, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	n := int64(len(value))
	if n > c.capacity {
		return
	}
	for c.size+n > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.removeElement(el)
	}
	// A global limit that is hit means the value is simply not cached.
	if c.rc != nil && !c.rc.TryAcquireMemory(n) {
		return
	}

	c.items[key] = c.evictList.PushFront(&entry[K]{key: key, value: value})
	c.size += n
}

// Delete drops key.
func (c *LRU[K]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Purge drops every entry.
func (c *LRU[K]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.evictList.Len() > 0 {
		c.removeElement(c.evictList.Back())
	}
}

// Len returns the number of cached entries.
func (c *LRU[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Size returns the cached bytes.
func (c *LRU[K]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns hit and miss counts.
func (c *LRU[K]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRU[K]) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	ent := el.Value.(*entry[K])
	delete(c.items, ent.key)
	n := int64(len(ent.value))
	c.size -= n
	if c.rc != nil {
		c.rc.ReleaseMemory(n)
	}
}
