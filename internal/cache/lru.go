// Package cache keeps recently resolved visitor locations in memory so the
// recent-visitors feed does not hit the GeoIP database for every row of
// every dashboard refresh.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

type LocationCache struct {
	c *lru.Cache[string, string]
}

func New(size int) (*LocationCache, error) {
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &LocationCache{c: c}, nil
}

// Get returns the cached location for ip. An empty location is a valid
// cached answer: the IP is known not to resolve.
func (lc *LocationCache) Get(ip string) (string, bool) {
	return lc.c.Get(ip)
}

func (lc *LocationCache) Set(ip, location string) {
	lc.c.Add(ip, location)
}

// Purge drops every entry, e.g. after the GeoIP database is replaced.
func (lc *LocationCache) Purge() {
	lc.c.Purge()
}

func (lc *LocationCache) Len() int {
	return lc.c.Len()
}
