package unionfs

import (
	"strings"
	"sync"
	"time"
)

// Cache remembers recent resolutions so repeated lookups skip branch stats.
type Cache struct {
	statCache     map[string]*statCacheEntry
	negativeCache map[string]*negativeCacheEntry
	mu            sync.RWMutex
	statTTL       time.Duration
	negativeTTL   time.Duration
	maxEntries    int
	enabled       bool
}

// statCacheEntry stores a resolved location with the real attributes
type statCacheEntry struct {
	loc     Location
	attrs   Attributes
	expires time.Time
}

// negativeCacheEntry stores information about paths that resolved to NotFound
type negativeCacheEntry struct {
	expires time.Time
}

// newCache creates a new cache with the specified configuration
func newCache(enabled bool, statTTL, negativeTTL time.Duration, maxEntries int) *Cache {
	if !enabled {
		return &Cache{enabled: false}
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}

	return &Cache{
		statCache:     make(map[string]*statCacheEntry),
		negativeCache: make(map[string]*negativeCacheEntry),
		statTTL:       statTTL,
		negativeTTL:   negativeTTL,
		maxEntries:    maxEntries,
		enabled:       true,
	}
}

// getStat retrieves a cached resolution if available and not expired
func (c *Cache) getStat(path string) (Location, Attributes, bool) {
	if !c.enabled {
		return NotFound, Attributes{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.statCache[path]
	if !ok || time.Now().After(entry.expires) {
		return NotFound, Attributes{}, false
	}
	return entry.loc, entry.attrs, true
}

// putStat stores a resolution in the cache
func (c *Cache) putStat(path string, loc Location, attrs Attributes) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.statCache) >= c.maxEntries {
		c.evictOldestStat()
	}

	delete(c.negativeCache, path)
	c.statCache[path] = &statCacheEntry{
		loc:     loc,
		attrs:   attrs,
		expires: time.Now().Add(c.statTTL),
	}
}

// isNegative checks if a path is known to resolve to NotFound
func (c *Cache) isNegative(path string) bool {
	if !c.enabled {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.negativeCache[path]
	if !ok {
		return false
	}
	return !time.Now().After(entry.expires)
}

// putNegative marks a path as not found
func (c *Cache) putNegative(path string) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.negativeCache) >= c.maxEntries {
		c.evictOldestNegative()
	}

	delete(c.statCache, path)
	c.negativeCache[path] = &negativeCacheEntry{
		expires: time.Now().Add(c.negativeTTL),
	}
}

// invalidate removes a path from all caches
func (c *Cache) invalidate(path string) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.statCache, path)
	delete(c.negativeCache, path)
}

// invalidateTree removes the entry for prefix and everything below it
func (c *Cache) invalidateTree(prefix string) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for path := range c.statCache {
		if underPath(path, prefix) {
			delete(c.statCache, path)
		}
	}
	for path := range c.negativeCache {
		if underPath(path, prefix) {
			delete(c.negativeCache, path)
		}
	}
}

// underPath reports whether p is prefix or a descendant of it
func underPath(p, prefix string) bool {
	if prefix == "/" || p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// clear removes all cache entries
func (c *Cache) clear() {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.statCache = make(map[string]*statCacheEntry)
	c.negativeCache = make(map[string]*negativeCacheEntry)
}

// evictOldestStat removes the stat entry closest to expiry
func (c *Cache) evictOldestStat() {
	var oldestPath string
	var oldestTime time.Time

	for path, entry := range c.statCache {
		if oldestPath == "" || entry.expires.Before(oldestTime) {
			oldestPath = path
			oldestTime = entry.expires
		}
	}

	if oldestPath != "" {
		delete(c.statCache, oldestPath)
	}
}

// evictOldestNegative removes the negative entry closest to expiry
func (c *Cache) evictOldestNegative() {
	var oldestPath string
	var oldestTime time.Time

	for path, entry := range c.negativeCache {
		if oldestPath == "" || entry.expires.Before(oldestTime) {
			oldestPath = path
			oldestTime = entry.expires
		}
	}

	if oldestPath != "" {
		delete(c.negativeCache, oldestPath)
	}
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	if !c.enabled {
		return CacheStats{Enabled: false}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Enabled:           true,
		StatCacheSize:     len(c.statCache),
		NegativeCacheSize: len(c.negativeCache),
		MaxEntries:        c.maxEntries,
		StatTTL:           c.statTTL,
		NegativeTTL:       c.negativeTTL,
	}
}

// CacheStats contains cache statistics
type CacheStats struct {
	Enabled           bool
	StatCacheSize     int
	NegativeCacheSize int
	MaxEntries        int
	StatTTL           time.Duration
	NegativeTTL       time.Duration
}
