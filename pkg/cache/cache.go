// Package cache is a TTL+LRU store for command and system-info results.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/sshmcp-project/sshmcp/pkg/config"
)

// Category distinguishes long-lived results (system facts) from short-lived
// ones (command output).
type Category string

const (
	CategoryStatic  Category = "static"
	CategoryDynamic Category = "dynamic"
)

type entry struct {
	key       string
	value     interface{}
	createdAt time.Time
	expiresAt time.Time
	category  Category
	tags      map[string]struct{}
}

// Info is a snapshot of cache occupancy for observability.
type Info struct {
	MaxSize int      `json:"maxsize"`
	Size    int      `json:"size"`
	Keys    []string `json:"keys"`
}

// Cache is safe for concurrent use. The mutex guards only in-memory
// bookkeeping; it is never held across I/O.
type Cache struct {
	settings *config.Settings
	now      func() time.Time

	mu    sync.Mutex
	order *list.List // front = least recently used
	items map[string]*list.Element
}

func New(settings *config.Settings) *Cache {
	return &Cache{
		settings: settings,
		now:      time.Now,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// SetNowFunc overrides the cache's clock. Used by tests.
func (c *Cache) SetNowFunc(now func() time.Time) {
	c.now = now
}

// Get returns the value if present and unexpired, marking it most recently
// used. Expired entries are removed lazily by the read that finds them.
func (c *Cache) Get(key string) (interface{}, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := elem.Value.(*entry)
	if !now.Before(ent.expiresAt) {
		c.removeLocked(elem)
		return nil, false
	}

	c.order.MoveToBack(elem)
	return ent.value, true
}

// Set stores a value. A zero ttl falls back to the category default; a
// negative ttl (or a zero category default) is a deliberate no-op so a
// caller can disable caching for one case without a separate flag.
func (c *Cache) Set(key string, value interface{}, category Category, ttl time.Duration, tags []string) {
	if ttl == 0 {
		ttl = c.defaultTTL(category)
	}
	if ttl <= 0 {
		return
	}

	now := c.now()
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}
	ent := &entry{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
		category:  category,
		tags:      tagSet,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value = ent
		c.order.MoveToBack(elem)
	} else {
		c.items[key] = c.order.PushBack(ent)
	}
	c.evictLocked()
}

// Clear removes entries. With no filters everything goes. Keys are removed
// unconditionally; tag and category form an AND over the dimensions that
// were actually supplied. Returns the number removed.
func (c *Cache) Clear(keys []string, tag string, category Category) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(keys) == 0 && tag == "" && category == "" {
		removed := len(c.items)
		c.order.Init()
		c.items = make(map[string]*list.Element)
		return removed
	}

	toRemove := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		toRemove[k] = struct{}{}
	}

	if tag != "" || category != "" {
		for key, elem := range c.items {
			ent := elem.Value.(*entry)
			if tag != "" {
				if _, ok := ent.tags[tag]; !ok {
					continue
				}
			}
			if category != "" && ent.category != category {
				continue
			}
			toRemove[key] = struct{}{}
		}
	}

	removed := 0
	for key := range toRemove {
		if elem, ok := c.items[key]; ok {
			c.removeLocked(elem)
			removed++
		}
	}
	return removed
}

// GetInfo reports capacity, size and up to head most-recently-used keys.
func (c *Cache) GetInfo(head int) Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, head)
	for elem := c.order.Back(); elem != nil && len(keys) < head; elem = elem.Prev() {
		keys = append(keys, elem.Value.(*entry).key)
	}
	return Info{
		MaxSize: c.settings.CacheMaxSize,
		Size:    len(c.items),
		Keys:    keys,
	}
}

func (c *Cache) defaultTTL(category Category) time.Duration {
	if category == CategoryStatic {
		return c.settings.StaticTTL
	}
	return c.settings.DynamicTTL
}

func (c *Cache) evictLocked() {
	maxSize := c.settings.CacheMaxSize
	if maxSize <= 0 {
		c.order.Init()
		c.items = make(map[string]*list.Element)
		return
	}
	for len(c.items) > maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			return
		}
		c.removeLocked(oldest)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}
