package cache

import (
	"strings"
	"sync"
	"time"

	"drivefs/internal/vfs"
)

// AttrCache keeps remote getattr results by drive path for a short TTL, so
// an NFS client's stat storms do not each become a round trip.
type AttrCache struct {
	mu      sync.RWMutex
	entries map[string]attrEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type attrEntry struct {
	attrs   *vfs.Attributes
	expires time.Time
}

var _ Invalidator = (*AttrCache)(nil)

// NewAttrCache creates an attribute cache.
// ttl: lifetime of an entry (0 means entries never expire)
// maxSize: entry limit (0 means unlimited)
func NewAttrCache(ttl time.Duration, maxSize int) *AttrCache {
	return &AttrCache{
		entries: make(map[string]attrEntry, 256),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *AttrCache) expired(e attrEntry, now time.Time) bool {
	return c.ttl > 0 && now.After(e.expires)
}

// Get returns the cached attributes of path, or nil on a miss.
func (c *AttrCache) Get(path string) *vfs.Attributes {
	if Disabled {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[path]
	if !ok || c.expired(e, c.now()) {
		return nil
	}
	return e.attrs
}

// Set caches attrs for path. At capacity, expired entries are swept first;
// if none were expired the new path is not cached.
func (c *AttrCache) Set(path string, attrs *vfs.Attributes) {
	if Disabled || attrs == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if _, exists := c.entries[path]; !exists {
			c.sweepLocked(now)
			if len(c.entries) >= c.maxSize {
				return
			}
		}
	}

	var expires time.Time
	if c.ttl > 0 {
		expires = now.Add(c.ttl)
	}
	c.entries[path] = attrEntry{attrs: attrs, expires: expires}
}

func (c *AttrCache) sweepLocked(now time.Time) {
	for p, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, p)
		}
	}
}

// Invalidate clears all entries.
func (c *AttrCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.entries = make(map[string]attrEntry, 256)
	}
}

// InvalidatePath removes path.
func (c *AttrCache) InvalidatePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// InvalidateTree removes path and everything below it.
func (c *AttrCache) InvalidateTree(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := strings.TrimSuffix(path, "/") + "/"
	delete(c.entries, path)
	for p := range c.entries {
		if strings.HasPrefix(p, prefix) {
			delete(c.entries, p)
		}
	}
}

// InvalidatePathAndParent is used after create, remove and mkdir.
func (c *AttrCache) InvalidatePathAndParent(path, parentPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, path)
	delete(c.entries, parentPath)
}

// Size returns the current number of entries.
func (c *AttrCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// AttrCacheStats is a snapshot of the cache configuration and fill.
type AttrCacheStats struct {
	Size    int
	MaxSize int
	TTL     time.Duration
}

func (c *AttrCache) Stats() AttrCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return AttrCacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		TTL:     c.ttl,
	}
}
