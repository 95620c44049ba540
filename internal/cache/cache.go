// Package cache bounds how many SST files stay open at once (spec
// §4.H): an LRU of *sstable.Reader keyed by SST number, opening on
// miss and closing whatever it evicts.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/return2faye/siltkv/internal/backend"
	"github.com/return2faye/siltkv/internal/sstable"
)

// DefaultCapacity is the number of concurrently open SST readers kept
// around before the least-recently-used one is closed.
const DefaultCapacity = 200

// PathFunc maps an SST number to its on-disk path; supplied by the
// caller so the cache stays agnostic of directory layout.
type PathFunc func(number uint64) string

// Cache opens SSTs on demand and keeps at most capacity of them open,
// closing the least-recently-used reader to make room. Safe for
// concurrent use.
type Cache struct {
	mu       sync.Mutex
	be       backend.Backend
	pathFor  PathFunc
	lru      *lru.Cache[uint64, *sstable.Reader]
}

// New builds a Cache with the given capacity (DefaultCapacity if <= 0).
func New(be backend.Backend, pathFor PathFunc, capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{be: be, pathFor: pathFor}
	l, err := lru.NewWithEvict(capacity, func(_ uint64, r *sstable.Reader) {
		r.Close()
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Get returns an open reader for number, opening it (and evicting the
// least-recently-used entry if at capacity) on a cache miss.
func (c *Cache) Get(number uint64) (*sstable.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.lru.Get(number); ok {
		return r, nil
	}

	r, err := sstable.Open(c.be, c.pathFor(number), true)
	if err != nil {
		return nil, err
	}
	c.lru.Add(number, r)
	return r, nil
}

// Evict closes and drops number's reader, if cached — used when a
// compaction removes the SST from the live set so a stale fd is not
// held open past the file's deletion.
func (c *Cache) Evict(number uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(number)
}

// Len reports how many readers are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close evicts (and closes) every cached reader.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
