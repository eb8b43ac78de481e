// Package xcache wraps VictoriaMetrics/fastcache as the optional
// memo cache for cold (GC-compacted or archived) chain segments and
// for overlay-buffer retired-value recycling.
package xcache

import "github.com/VictoriaMetrics/fastcache"

// DefaultSizeBytes sizes the cache at 512MB unless overridden.
const DefaultSizeBytes = 512 * 1024 * 1024

// Cache is a byte-keyed, byte-valued cache used to avoid re-deriving a
// value (e.g. re-running an archival decode, or re-walking a long
// pruned chain's retained tail) that was recently computed.
type Cache struct {
	c *fastcache.Cache
}

// New creates a Cache sized in bytes, matching fastcache's own sizing
// units.
func New(sizeBytes int) *Cache {
	if sizeBytes <= 0 {
		sizeBytes = DefaultSizeBytes
	}
	return &Cache{c: fastcache.New(sizeBytes)}
}

// Set stores value under key, overwriting any prior entry.
func (c *Cache) Set(key, value []byte) { c.c.Set(key, value) }

// Get appends the cached value for key onto dst (which may be nil) and
// returns the result along with whether key was present.
func (c *Cache) Get(dst, key []byte) ([]byte, bool) {
	v, ok := c.c.HasGet(dst, key)
	return v, ok
}

// Del removes key from the cache.
func (c *Cache) Del(key []byte) { c.c.Del(key) }

// Reset clears the entire cache.
func (c *Cache) Reset() { c.c.Reset() }
