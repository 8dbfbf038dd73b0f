package assistant

import (
	"container/list"
	"log"
	"sync"

	"docchat/internal/indexer"
	"docchat/internal/retriever"
)

// cachedIndex is an open index shared by every user who has it active.
// It is closed once evicted and no search still holds it.
type cachedIndex struct {
	idx *indexer.Index
	ret *retriever.Retriever

	refs    int
	evicted bool
}

// indexCache is an LRU of open indexes keyed by index directory.
type indexCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front = most recently used
}

type cacheEntry struct {
	key   string
	value *cachedIndex
}

func newIndexCache(maxSize int) *indexCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &indexCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// acquire returns the cached index for key, promoting it and taking a
// reference the caller must give back with release.
func (c *indexCache) acquire(key string) (*cachedIndex, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	v := el.Value.(*cacheEntry).value
	v.refs++
	return v, true
}

// add caches value under key, evicting the least recently used entry when
// full, and returns it acquired.
func (c *indexCache) add(key string, value *cachedIndex) *cachedIndex {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.drop(el)
	}
	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		log.Printf("Index cache: evicted %s", oldest.Value.(*cacheEntry).key)
		c.drop(oldest)
	}
	value.refs++
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
	return value
}

func (c *indexCache) release(v *cachedIndex) {
	if v == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v.refs--
	if v.evicted && v.refs == 0 {
		closeIndex(v)
	}
}

// remove evicts key, if cached.
func (c *indexCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.drop(el)
	}
}

// purge evicts everything.
func (c *indexCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.order.Len() > 0 {
		c.drop(c.order.Back())
	}
}

func (c *indexCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

func (c *indexCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// drop unlinks el and closes its index unless a search still holds it.
// Caller holds c.mu.
func (c *indexCache) drop(el *list.Element) {
	e := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.items, e.key)
	e.value.evicted = true
	if e.value.refs == 0 {
		closeIndex(e.value)
	}
}

func closeIndex(v *cachedIndex) {
	if v.idx == nil {
		return
	}
	if err := v.idx.Close(); err != nil {
		log.Printf("Warning: closing index %s: %v", v.idx.Dir, err)
	}
	v.idx = nil
}
