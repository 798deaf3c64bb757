package cache

import (
	"bytes"
	"container/list"
	"sync"
	"time"
)

// MemoryCache is the L1 tier: synthesized clips held in memory, bounded by
// their total PCM size and evicted least recently used first. Clips older
// than the TTL count as misses.
type MemoryCache struct {
	capacity int64
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	used  int64
	index map[string]*list.Element
	lru   *list.List // front is most recently used
	stats CacheStats
}

type clip struct {
	key   string
	pcm   []byte
	added time.Time
}

// NewMemoryCache holds up to capacity bytes of PCM. A ttl of zero keeps
// clips until they are evicted.
func NewMemoryCache(capacity int64, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		index:    make(map[string]*list.Element),
		lru:      list.New(),
		stats:    CacheStats{Capacity: capacity},
	}
}

// Get returns the clip stored under key. The returned slice is shared and
// must not be modified.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if ok && c.expired(elem.Value.(*clip)) {
		c.drop(elem)
		c.stats.Evictions++
		ok = false
	}
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	c.lru.MoveToFront(elem)
	c.stats.Hits++
	c.stats.LastAccess = c.now()
	return elem.Value.(*clip).pcm, true
}

// Put stores a copy of pcm under key, evicting older clips to make room.
func (c *MemoryCache) Put(key string, pcm []byte) error {
	n := int64(len(pcm))
	if n > c.capacity {
		return ErrItemTooLarge
	}
	owned := bytes.Clone(pcm)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.drop(elem)
	}
	for c.used+n > c.capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.drop(oldest)
		c.stats.Evictions++
		c.stats.LastEvict = c.now()
	}

	c.index[key] = c.lru.PushFront(&clip{key: key, pcm: owned, added: c.now()})
	c.used += n
	c.sync()
	return nil
}

// Delete removes the clip stored under key, if any.
func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.drop(elem)
	}
	return nil
}

// Clear removes every clip.
func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.index)
	c.lru.Init()
	c.used = 0
	c.sync()
	return nil
}

// RemoveExpired drops every clip older than the TTL and returns how many
// were removed.
func (c *MemoryCache) RemoveExpired() int {
	if c.ttl <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*clip)) {
			c.drop(elem)
			removed++
		}
		elem = prev
	}
	c.stats.Evictions += int64(removed)
	return removed
}

// Size returns the PCM bytes held.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.used
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.updateHitRate()
	return stats
}

// Contains reports whether key is cached without touching the LRU order.
func (c *MemoryCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	return ok && !c.expired(elem.Value.(*clip))
}

func (c *MemoryCache) expired(e *clip) bool {
	return c.ttl > 0 && c.now().Sub(e.added) > c.ttl
}

func (c *MemoryCache) drop(elem *list.Element) {
	e := c.lru.Remove(elem).(*clip)
	delete(c.index, e.key)
	c.used -= int64(len(e.pcm))
	c.sync()
}

func (c *MemoryCache) sync() {
	c.stats.Size = c.used
	c.stats.ItemCount = int64(len(c.index))
}
