// Package fschange provides throttled filesystem observation helpers used to
// detect application restart sentinels.
package fschange

import (
	"io/fs"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CachedStat caches os.Stat results per path, refreshing an entry at most once
// per throttle interval. A not-found result is cached like any other outcome.
type CachedStat struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]*statEntry
}

type statEntry struct {
	limiter  *rate.Limiter
	interval time.Duration
	info     fs.FileInfo
	err      error
	lastUsed time.Time
}

// NewCachedStat returns a cache holding results for up to maxEntries paths.
func NewCachedStat(maxEntries int) *CachedStat {
	if maxEntries <= 0 {
		maxEntries = 1
	}

	return &CachedStat{
		maxEntries: maxEntries,
		entries:    make(map[string]*statEntry, maxEntries),
	}
}

// Stat returns the stat result for path, performing a real syscall at most
// once per throttle interval. A zero throttle disables caching for the call.
func (c *CachedStat) Stat(path string, throttle time.Duration) (fs.FileInfo, error) {
	if throttle <= 0 {
		return os.Stat(path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		entry = &statEntry{
			limiter:  rate.NewLimiter(rate.Every(throttle), 1),
			interval: throttle,
		}
		c.evictIfFull()
		c.entries[path] = entry
	} else if entry.interval != throttle {
		entry.limiter.SetLimit(rate.Every(throttle))
		entry.interval = throttle
	}

	entry.lastUsed = time.Now()
	if entry.limiter.Allow() {
		entry.info, entry.err = os.Stat(path)
	}

	return entry.info, entry.err
}

// evictIfFull drops the least recently used entry once the cache is at
// capacity. Caller holds the lock.
func (c *CachedStat) evictIfFull() {
	if len(c.entries) < c.maxEntries {
		return
	}

	var (
		oldestKey string
		oldest    time.Time
		first     = true
	)
	for key, entry := range c.entries {
		if first || entry.lastUsed.Before(oldest) {
			oldestKey = key
			oldest = entry.lastUsed
			first = false
		}
	}
	delete(c.entries, oldestKey)
}

// Reset discards all cached results.
func (c *CachedStat) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*statEntry, c.maxEntries)
}
