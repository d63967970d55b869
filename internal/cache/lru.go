// Package cache provides a bounded in-memory syncmap.Cache.
package cache

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/syncmap/internal/syncmap"
)

// DefaultSize is the entry limit used when NewLRU is given a size <= 0.
const DefaultSize = 4096

type key struct {
	plural string
	id     string
}

var _ syncmap.Cache = (*LRU)(nil)

// LRU keeps the most recently used entities in memory, evicting the least
// recently used ones past its size. It is safe for concurrent use.
type LRU struct {
	entries *lru.Cache[key, syncmap.CacheEntry]
}

// NewLRU returns a cache holding at most size entities.
func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[key, syncmap.CacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("new lru: %w", err)
	}
	return &LRU{entries: c}, nil
}

// Load returns a copy of the cached entity.
func (c *LRU) Load(_ context.Context, plural, id string) (syncmap.CacheEntry, bool, error) {
	e, ok := c.entries.Get(key{plural, id})
	if !ok {
		return syncmap.CacheEntry{}, false, nil
	}
	e.Fields = e.Fields.Clone()
	return e, true, nil
}

// List returns every cached entity of plural ordered by seq, then id.
// Listing does not refresh recency.
func (c *LRU) List(_ context.Context, plural string) ([]syncmap.CacheEntry, error) {
	out := []syncmap.CacheEntry{}
	for _, k := range c.entries.Keys() {
		if k.plural != plural {
			continue
		}
		if e, ok := c.entries.Peek(k); ok {
			e.Fields = e.Fields.Clone()
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b syncmap.CacheEntry) int {
		return cmp.Or(cmp.Compare(a.Seq, b.Seq), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Save stores entry unless the cached one carries a newer seq.
func (c *LRU) Save(_ context.Context, plural string, entry syncmap.CacheEntry) error {
	k := key{plural, entry.ID}
	if old, ok := c.entries.Peek(k); ok && old.Seq > entry.Seq {
		return nil
	}
	entry.Fields = entry.Fields.Clone()
	c.entries.Add(k, entry)
	return nil
}

// Delete drops the cached entity.
func (c *LRU) Delete(_ context.Context, plural, id string) error {
	c.entries.Remove(key{plural, id})
	return nil
}

// Len returns the number of cached entities.
func (c *LRU) Len() int {
	return c.entries.Len()
}
