package advisor

import (
	"container/list"
	"sync"
)

const defaultCacheSize = 100

type cacheEntry struct {
	key  string
	text string
}

// adviceCache keeps the most recent answers, evicting in insertion order.
type adviceCache struct {
	mu    sync.Mutex
	limit int
	order *list.List
	items map[string]*list.Element
}

func newAdviceCache(limit int) *adviceCache {
	if limit <= 0 {
		limit = defaultCacheSize
	}
	return &adviceCache{
		limit: limit,
		order: list.New(),
		items: make(map[string]*list.Element, limit),
	}
}

func (c *adviceCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return "", false
	}
	return el.Value.(*cacheEntry).text, true
}

func (c *adviceCache) put(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).text = text
		return
	}
	c.items[key] = c.order.PushBack(&cacheEntry{key: key, text: text})
	for c.order.Len() > c.limit {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *adviceCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
