// Package assetcache holds decoded images keyed by asset path.
//
// Eviction is strictly first-in first-out by insertion: reading an entry never
// changes its position, and neither does putting a key that is already
// present. A Cache is not safe for concurrent use; it is meant to be owned by
// a single goroutine (the grid controller loop), with decode results
// marshalled onto that goroutine before Put is called.
package assetcache

import (
	"container/list"
	"image"
)

// MaxCacheSize is the default capacity.
const MaxCacheSize = 50

type entry struct {
	key string
	img image.Image
	seq uint64
}

// Cache is a bounded FIFO store of decoded images.
type Cache struct {
	capacity int
	order    *list.List // front is the oldest insertion
	entries  map[string]*list.Element
	seq      uint64
	onEvict  func(key string)
}

// Option configures a Cache.
type Option func(*Cache)

// WithEvictHook registers fn to be called with each evicted key.
func WithEvictHook(fn func(key string)) Option {
	return func(c *Cache) {
		c.onEvict = fn
	}
}

// New creates a cache holding at most capacity entries. A non-positive
// capacity falls back to MaxCacheSize.
func New(capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = MaxCacheSize
	}
	c := &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity+1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached image for key.
func (c *Cache) Get(key string) (image.Image, bool) {
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).img, true
}

// Put inserts img under key and evicts the oldest entry when the cache grows
// past capacity. An existing entry is left untouched.
func (c *Cache) Put(key string, img image.Image) {
	if _, ok := c.entries[key]; ok {
		return
	}
	c.seq++
	c.entries[key] = c.order.PushBack(&entry{key: key, img: img, seq: c.seq})

	if c.order.Len() > c.capacity {
		oldest := c.order.Front()
		e := c.order.Remove(oldest).(*entry)
		delete(c.entries, e.key)
		if c.onEvict != nil {
			c.onEvict(e.key)
		}
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.order.Len()
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Keys returns cached keys in eviction order, oldest first.
func (c *Cache) Keys() []string {
	out := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).key)
	}
	return out
}

// Clear drops every entry without invoking the evict hook.
func (c *Cache) Clear() {
	c.order.Init()
	c.entries = make(map[string]*list.Element, c.capacity+1)
}
