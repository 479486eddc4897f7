package geoip

import (
	"net/netip"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/r-smith/sshlure/internal/eventdata"
)

// Cache stores resolved locations by address. It is safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, eventdata.Location]
}

// NewCache creates a location cache. A size of 0 means no limit, and a ttl
// of 0 keeps entries until they are evicted.
func NewCache(size int, ttl time.Duration) *Cache {
	return &Cache{
		lru: expirable.NewLRU[string, eventdata.Location](size, nil, ttl),
	}
}

// Get returns the cached location for addr.
func (c *Cache) Get(addr netip.Addr) (eventdata.Location, bool) {
	return c.lru.Get(cacheKey(addr))
}

// Add stores loc for addr, replacing any existing entry.
func (c *Cache) Add(addr netip.Addr, loc eventdata.Location) {
	c.lru.Add(cacheKey(addr), loc)
}

// Remove deletes the entry for addr and reports whether it was present.
func (c *Cache) Remove(addr netip.Addr) bool {
	return c.lru.Remove(cacheKey(addr))
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// cacheKey is the canonical text form of addr, so that an IPv4 address and
// its IPv4-mapped IPv6 form share an entry.
func cacheKey(addr netip.Addr) string {
	return addr.Unmap().WithZone("").String()
}
