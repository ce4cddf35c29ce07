package episode

import (
	"container/list"
	"log/slog"
	"sync"
)

// cacheEntry is the payload stored in each list element.
type cacheEntry struct {
	key     int64
	episode *Episode
	size    int64
}

// CacheMetrics tracks cumulative cache activity for observability.
type CacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a memory-capped LRU cache of episodes, evicting on whichever
// bound is hit first: entry count or total byte size. Eviction and
// lookup outcomes are logged as structured events so a log sink built
// for the rest of the codebase can observe cache churn without SONA
// needing its own metrics surface.
//
// golang-lru/v2 is not used here because it has no notion of byte-size
// accounting: it evicts purely on entry count, and this cache's size
// bound (bytes, not just a cap on item count) falls outside that
// library's configuration surface.
type Cache struct {
	mu       sync.Mutex
	ll       *list.List
	items    map[int64]*list.Element
	maxItems int
	maxBytes int64
	curBytes int64
	name     string
	metrics  CacheMetrics
	log      *slog.Logger
}

// NewCache creates an episode cache bounded by both maxItems and
// maxBytes (whichever limit is reached first triggers eviction). A
// zero value for either disables that bound.
func NewCache(name string, maxItems int, maxBytes int64, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		ll:       list.New(),
		items:    make(map[int64]*list.Element),
		maxItems: maxItems,
		maxBytes: maxBytes,
		name:     name,
		log:      log,
	}
}

// Get returns the cached episode for id, promoting it to most-recently-used.
func (c *Cache) Get(id int64) (*Episode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		c.metrics.Misses++
		c.log.Debug("cache_miss", "cache_name", c.name, "key", id)
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.metrics.Hits++
	c.log.Debug("cache_hit", "cache_name", c.name, "key", id)
	return el.Value.(*cacheEntry).episode, true
}

// Peek returns the cached episode for id without promoting it to
// most-recently-used, so a caller can inspect the cache without
// perturbing eviction order.
func (c *Cache) Peek(id int64) (*Episode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		c.metrics.Misses++
		c.log.Debug("cache_miss", "cache_name", c.name, "key", id)
		return nil, false
	}
	c.metrics.Hits++
	c.log.Debug("cache_hit", "cache_name", c.name, "key", id)
	return el.Value.(*cacheEntry).episode, true
}

// Put inserts or replaces the cached episode for e.ID, evicting
// least-recently-used entries until both bounds are satisfied.
func (c *Cache) Put(e *Episode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := e.sizeBytes()

	if el, ok := c.items[e.ID]; ok {
		old := el.Value.(*cacheEntry)
		c.curBytes += size - old.size
		el.Value = &cacheEntry{key: e.ID, episode: e, size: size}
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&cacheEntry{key: e.ID, episode: e, size: size})
		c.items[e.ID] = el
		c.curBytes += size
	}

	c.evictLocked()
}

// Remove drops id from the cache, if present, without touching the
// primary store (eviction-only; never used to satisfy a delete request
// since the cache never owns durability).
func (c *Cache) Remove(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		c.removeElementLocked(el)
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Metrics returns a snapshot of cumulative hit/miss/eviction counts.
func (c *Cache) Metrics() CacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Cache) evictLocked() {
	for (c.maxItems > 0 && c.ll.Len() > c.maxItems) || (c.maxBytes > 0 && c.curBytes > c.maxBytes) {
		back := c.ll.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*cacheEntry)
		c.removeElementLocked(back)
		c.metrics.Evictions++
		c.log.Info("cache_eviction",
			"cache_name", c.name,
			"evicted_key", entry.key,
			"size_bytes", entry.size,
			"cache_size", c.ll.Len(),
			"memory_bytes", c.curBytes,
			"total_evictions", c.metrics.Evictions,
		)
	}
}

func (c *Cache) removeElementLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.ll.Remove(el)
	delete(c.items, entry.key)
	c.curBytes -= entry.size
}
