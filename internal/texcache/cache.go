// Package texcache keeps a bounded set of loaded scene textures.
package texcache

import (
	"container/list"
	"sync"

	"github.com/onnwee/panotour/internal/assets"
)

// MinCapacity is the smallest usable capacity: the displayed scene plus one
// preloaded neighbor.
const MinCapacity = 2

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
}

type entry struct {
	sceneID string
	res     *assets.Resources
}

// Cache is an LRU of scene resources keyed by scene id. The pinned entry
// (the displayed scene) is never evicted. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	pinned   string
	stats    Stats
	metrics  *Metrics
	onEvict  func(sceneID string)
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics records cache activity in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithEvictCallback is called, outside the cache lock, for every evicted id.
func WithEvictCallback(fn func(sceneID string)) Option {
	return func(c *Cache) { c.onEvict = fn }
}

// New creates a cache. Capacities below MinCapacity are raised to it.
func New(capacity int, opts ...Option) *Cache {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	c := &Cache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Get returns the resources for sceneID and marks them recently used.
func (c *Cache) Get(sceneID string) (*assets.Resources, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[sceneID]
	if !ok {
		c.stats.Misses++
		c.metrics.incMisses()
		return nil, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	c.metrics.incHits()
	return el.Value.(*entry).res, true
}

// Contains reports whether sceneID is cached without touching recency or stats.
func (c *Cache) Contains(sceneID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[sceneID]
	return ok
}

// Put inserts or replaces an entry and evicts least recently used entries
// beyond capacity.
func (c *Cache) Put(sceneID string, res *assets.Resources) {
	c.mu.Lock()
	if el, ok := c.items[sceneID]; ok {
		el.Value.(*entry).res = res
		c.order.MoveToFront(el)
		c.mu.Unlock()
		return
	}
	c.items[sceneID] = c.order.PushFront(&entry{sceneID: sceneID, res: res})
	evicted := c.evictLocked()
	c.metrics.setSize(len(c.items))
	c.mu.Unlock()

	c.notify(evicted)
}

// Pin marks sceneID as the displayed scene. Only one entry is pinned at a
// time; pinning a new id releases the previous one, which may then be
// evicted if the cache is over capacity.
func (c *Cache) Pin(sceneID string) {
	c.mu.Lock()
	c.pinned = sceneID
	if el, ok := c.items[sceneID]; ok {
		c.order.MoveToFront(el)
	}
	evicted := c.evictLocked()
	c.metrics.setSize(len(c.items))
	c.mu.Unlock()

	c.notify(evicted)
}

// Pinned returns the pinned scene id.
func (c *Cache) Pinned() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned
}

// Remove drops an entry. The pinned entry can be removed explicitly.
func (c *Cache) Remove(sceneID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[sceneID]; ok {
		c.order.Remove(el)
		delete(c.items, sceneID)
		c.metrics.setSize(len(c.items))
	}
}

// Keys returns cached scene ids, most recently used first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).sceneID)
	}
	return keys
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	s.Capacity = c.capacity
	return s
}

// Clear drops every entry and the pin.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.capacity)
	c.pinned = ""
	c.metrics.setSize(0)
}

// evictLocked removes least recently used, unpinned entries until the cache
// fits its capacity.
func (c *Cache) evictLocked() []string {
	var evicted []string
	for el := c.order.Back(); el != nil && len(c.items) > c.capacity; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if e.sceneID != c.pinned {
			c.order.Remove(el)
			delete(c.items, e.sceneID)
			c.stats.Evictions++
			c.metrics.incEvictions()
			evicted = append(evicted, e.sceneID)
		}
		el = prev
	}
	return evicted
}

func (c *Cache) notify(evicted []string) {
	if c.onEvict == nil {
		return
	}
	for _, id := range evicted {
		c.onEvict(id)
	}
}
