package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache is a bounded in-process LRU with a per-entry TTL.
// Expired entries read as absent; the LRU also purges them in the background.
// The underlying LRU is internally locked, so MemoryCache is safe for
// concurrent use.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryCache creates a cache holding at most maxEntries entries, each
// living for ttl after it was last set.
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl),
	}
}

func (c *MemoryCache) Get(name string) ([]byte, bool) {
	return c.lru.Get(name)
}

func (c *MemoryCache) Set(name string, value []byte) error {
	c.lru.Add(name, value)
	return nil
}

// Len reports the number of live entries, including expired ones not yet
// purged.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}
