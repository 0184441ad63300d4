// Package cache bounds repeated retrieval work with an LRU + TTL query cache.
package cache

import (
	"container/list"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"conductor/internal/rag/vectorstore"
)

// Key identifies one cached query: sha1 over collection, normalized query,
// and the filter serialization. Collection rides along for invalidation.
type Key struct {
	Hash       string
	Collection string
}

// NewKey normalizes the query (lower-case, collapsed whitespace) and hashes.
func NewKey(collection, query string, filter vectorstore.Filter) Key {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	h := sha1.Sum([]byte(collection + "\n" + norm + "\n" + filter.Key()))
	return Key{Hash: hex.EncodeToString(h[:]), Collection: collection}
}

// Cache is the query cache contract shared by the in-process LRU and the
// Redis backend.
type Cache interface {
	Get(key Key) ([]vectorstore.Result, bool)
	Put(key Key, value []vectorstore.Result)
	// Invalidate drops every entry belonging to the collection.
	Invalidate(collection string)
	Stats() Stats
}

// Stats are the cache observables.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// HitRate is hits / (hits + misses); zero traffic reports zero.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	key        Key
	value      []vectorstore.Result
	insertedAt time.Time
}

// LRU is the bounded in-process cache. A put past capacity evicts the
// least-recently-used entry; a get of an expired entry removes it eagerly
// and reports a miss.
type LRU struct {
	mu    sync.Mutex
	max   int
	ttl   time.Duration
	ll    *list.List
	items map[string]*list.Element
	stats Stats

	// now is swappable for tests.
	now func() time.Time
}

func NewLRU(max int, ttl time.Duration) *LRU {
	if max <= 0 {
		max = 200
	}
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &LRU{
		max:   max,
		ttl:   ttl,
		ll:    list.New(),
		items: map[string]*list.Element{},
		now:   time.Now,
	}
}

func (c *LRU) Get(key Key) ([]vectorstore.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key.Hash]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().Sub(e.insertedAt) > c.ttl {
		c.removeLocked(el)
		c.stats.Misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

func (c *LRU) Put(key Key, value []vectorstore.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key.Hash]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.insertedAt = c.now()
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&entry{key: key, value: value, insertedAt: c.now()})
	c.items[key.Hash] = el
	for c.ll.Len() > c.max {
		oldest := c.ll.Back()
		c.removeLocked(oldest)
		c.stats.Evictions++
	}
}

func (c *LRU) Invalidate(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*entry).key.Collection == collection {
			c.removeLocked(el)
		}
		el = next
	}
}

// InvalidateFunc drops entries matching an arbitrary predicate.
func (c *LRU) InvalidateFunc(pred func(Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		if pred(el.Value.(*entry).key) {
			c.removeLocked(el)
		}
		el = next
	}
}

func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.ll.Len()
	return s
}

func (c *LRU) removeLocked(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key.Hash)
}
