package resolver

import (
	"sync"
	"time"

	"github.com/onnwee/clip-relay/backend/telemetry"
	"github.com/onnwee/clip-relay/backend/twitchapi"
)

// cacheEntry wraps a resolved clip with access bookkeeping. Entries are keyed
// by the original search string and purged by Sweep once stale.
type cacheEntry struct {
	clip            twitchapi.Clip
	searchFrequency int
	lastAccessed    time.Time
}

// Cache is a bounded in-memory map of search query to resolved clip. It has
// its own lock so cache traffic never blocks playback transitions. Expiry is
// enforced by Sweep, which callers trigger explicitly; there is no background
// timer.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	expiry  time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// NewCache creates a cache whose entries expire when unused for expiry.
func NewCache(expiry time.Duration) *Cache {
	if expiry <= 0 {
		expiry = 30 * 24 * time.Hour
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		expiry:  expiry,
		now:     time.Now,
	}
}

// Get returns the cached clip for key, touching its access bookkeeping.
func (c *Cache) Get(key string) (*twitchapi.Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		telemetry.CacheMisses.Inc()
		return nil, false
	}
	e.searchFrequency++
	e.lastAccessed = c.now()
	telemetry.CacheHits.Inc()
	clip := e.clip
	return &clip, true
}

// Put stores a resolved clip under key, superseding any previous entry.
func (c *Cache) Put(key string, clip twitchapi.Clip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.clip = clip
		e.lastAccessed = c.now()
		return
	}
	c.entries[key] = &cacheEntry{clip: clip, searchFrequency: 1, lastAccessed: c.now()}
}

// Sweep removes entries not accessed within the expiry window and returns
// the number purged. It is a pull-based maintenance operation.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.expiry)
	purged := 0
	for k, e := range c.entries {
		if e.lastAccessed.Before(cutoff) {
			delete(c.entries, k)
			purged++
		}
	}
	return purged
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
