package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rl1809/dropspot/internal/core/domain"
)

// DropCache is a per-instance read-through cache of drop definitions.
// Claims read drops from storage and only invalidate entries here.
type DropCache struct {
	lru *expirable.LRU[string, domain.Drop]
}

// NewDropCache returns nil when size is not positive, which disables caching.
func NewDropCache(size int, ttl time.Duration) *DropCache {
	if size <= 0 {
		return nil
	}
	return &DropCache{lru: expirable.NewLRU[string, domain.Drop](size, nil, ttl)}
}

func (c *DropCache) Get(dropID string) (domain.Drop, bool) {
	if c == nil {
		return domain.Drop{}, false
	}
	drop, ok := c.lru.Get(dropID)
	if ok {
		dropCacheHitsTotal.Inc()
		return drop, true
	}
	dropCacheMissesTotal.Inc()
	return domain.Drop{}, false
}

func (c *DropCache) Set(drop domain.Drop) {
	if c == nil {
		return
	}
	c.lru.Add(drop.ID, drop)
}

func (c *DropCache) Delete(dropID string) {
	if c == nil {
		return
	}
	c.lru.Remove(dropID)
}
