package poscache

import (
	"sync"

	"txlog/pkg/logfile"
)

// Metadata is what the cache remembers about a committed transaction: enough
// to answer "where does transaction N's entry begin" without a log scan.
type Metadata struct {
	Checksum        uint32
	CommitTimestamp int64
	StartPosition   logfile.Position
}

// Cache is a bounded LRU mapping from transaction id to commit metadata.
// Memory use is bounded by capacity, independent of log length; the least
// recently used entry is evicted first.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[int64]*cacheItem
	head     *cacheItem
	tail     *cacheItem
}

type cacheItem struct {
	id   int64
	meta Metadata
	prev *cacheItem
	next *cacheItem
}

const DefaultCapacity = 10_000

// New creates a cache holding at most capacity entries.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[int64]*cacheItem),
	}
}

// Get retrieves the cached metadata for a transaction id.
func (c *Cache) Get(id int64) (Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[id]
	if !found {
		return Metadata{}, false
	}

	c.moveToHead(item)
	return item.meta, true
}

// Put inserts or overwrites the metadata for a transaction id.
func (c *Cache) Put(id int64, meta Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[id]; found {
		item.meta = meta
		c.moveToHead(item)
		return
	}

	item := &cacheItem{id: id, meta: meta}
	c.addToHead(item)
	c.items[id] = item

	if len(c.items) > c.capacity {
		c.evictLRU()
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear drops all entries. Used when recovery rewinds the log.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[int64]*cacheItem)
	c.head = nil
	c.tail = nil
}

func (c *Cache) moveToHead(item *cacheItem) {
	if item == c.head {
		return
	}

	if item.prev != nil {
		item.prev.next = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	}
	if item == c.tail {
		c.tail = item.prev
	}

	c.addToHead(item)
}

func (c *Cache) addToHead(item *cacheItem) {
	item.prev = nil
	item.next = c.head

	if c.head != nil {
		c.head.prev = item
	}

	c.head = item

	if c.tail == nil {
		c.tail = item
	}
}

func (c *Cache) evictLRU() {
	if c.tail == nil {
		return
	}

	delete(c.items, c.tail.id)

	if c.tail.prev != nil {
		c.tail.prev.next = nil
	} else {
		c.head = nil
	}

	c.tail = c.tail.prev
}
