package ftpfs

import (
	"time"

	"github.com/gonzalop/ftpfs/internal/lru"
)

// DefaultCacheSize is the initial entry limit of a host's stat cache.
const DefaultCacheSize = 5000

// StatCache caches lstat records keyed by absolute normalized remote
// path. It is bounded LRU with an optional maximum entry age and can
// be disabled entirely, in which case lookups miss and inserts are
// dropped while the existing contents stay untouched.
//
// The cache is owned by exactly one Host; mutating host operations
// invalidate affected paths through it.
type StatCache struct {
	cache   *lru.Cache[cachedStat]
	maxAge  time.Duration // 0 means entries never expire
	enabled bool
	now     func() time.Time
}

type cachedStat struct {
	result *StatResult
	stored time.Time
}

func newStatCache(now func() time.Time) *StatCache {
	return &StatCache{
		cache:   lru.New[cachedStat](DefaultCacheSize),
		enabled: true,
		now:     now,
	}
}

// Get returns the cached record for the absolute path, if present,
// unexpired, and the cache is enabled.
func (c *StatCache) Get(path string) (*StatResult, bool) {
	if !c.enabled {
		return nil, false
	}
	item, ok := c.cache.Get(path)
	if !ok {
		return nil, false
	}
	if c.maxAge > 0 && c.now().Sub(item.stored) > c.maxAge {
		c.cache.Remove(path)
		return nil, false
	}
	return item.result, true
}

// Put stores the record under the absolute path. A no-op while the
// cache is disabled.
func (c *StatCache) Put(path string, result *StatResult) {
	if !c.enabled {
		return
	}
	c.cache.Put(path, cachedStat{result: result, stored: c.now()})
}

// Invalidate removes the entry for the absolute path if present.
func (c *StatCache) Invalidate(path string) {
	c.cache.Remove(path)
}

// Clear drops all entries.
func (c *StatCache) Clear() {
	c.cache.Clear()
}

// Len returns the number of cached entries.
func (c *StatCache) Len() int {
	return c.cache.Len()
}

// SizeLimit returns the current entry limit.
func (c *StatCache) SizeLimit() int {
	return c.cache.Limit()
}

// SetSizeLimit changes the entry limit, evicting least recently used
// entries when shrinking. Listing a directory with more entries than
// the limit grows it automatically so a listing always fits.
func (c *StatCache) SetSizeLimit(n int) {
	c.cache.Resize(n)
}

// SetMaxAge sets the maximum age of entries; zero means entries never
// expire.
func (c *StatCache) SetMaxAge(d time.Duration) {
	c.maxAge = d
}

// Enable turns the cache back on. Entries stored before a Disable are
// visible again.
func (c *StatCache) Enable() {
	c.enabled = true
}

// Disable turns the cache off without clearing it: lookups miss and
// inserts are dropped until Enable.
func (c *StatCache) Disable() {
	c.enabled = false
}

// Enabled reports whether the cache is active.
func (c *StatCache) Enabled() bool {
	return c.enabled
}
