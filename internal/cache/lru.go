package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/glennpegden2/transfs/pkg/types"
)

// memCache is the in-memory LRU tier of the Listing Cache (§4.6): a
// capacity-bounded map from (physical_path, mtime_ns, size) to a
// materialised directory listing.
type memCache struct {
	mu        sync.RWMutex
	maxItems  int
	items     map[string]*list.Element
	evictList *list.List
	stats     types.CacheStats
}

type memEntry struct {
	key     string
	entries []types.DirEntry
}

// newMemCache builds an in-memory tier capped at maxItems directory
// listings; 0 means unbounded.
func newMemCache(maxItems int) *memCache {
	return &memCache{
		maxItems:  maxItems,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		stats:     types.CacheStats{Capacity: int64(maxItems)},
	}
}

func listingKey(physicalPath string, mtimeNs, size int64) string {
	return fmt.Sprintf("%s\x00%d\x00%d", physicalPath, mtimeNs, size)
}

func (c *memCache) get(physicalPath string, mtimeNs, size int64) ([]types.DirEntry, bool) {
	key := listingKey(physicalPath, mtimeNs, size)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		c.updateHitRateLocked()
		return nil, false
	}
	c.evictList.MoveToFront(elem)
	c.stats.Hits++
	c.updateHitRateLocked()

	entry := elem.Value.(*memEntry)
	out := make([]types.DirEntry, len(entry.entries))
	copy(out, entry.entries)
	return out, true
}

func (c *memCache) put(physicalPath string, mtimeNs, size int64, entries []types.DirEntry) {
	key := listingKey(physicalPath, mtimeNs, size)
	stored := make([]types.DirEntry, len(entries))
	copy(stored, entries)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*memEntry).entries = stored
		c.evictList.MoveToFront(elem)
		return
	}

	elem := c.evictList.PushFront(&memEntry{key: key, entries: stored})
	c.items[key] = elem

	if c.maxItems > 0 {
		for len(c.items) > c.maxItems {
			c.evictOldestLocked()
		}
	}
}

// invalidate drops every cached listing whose key was derived from
// physicalPath, regardless of the mtime/size it was stamped with (the
// physical directory may have changed since).
func (c *memCache) invalidate(physicalPath string) {
	prefix := physicalPath + "\x00"

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.items {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.evictList.Remove(elem)
			delete(c.items, key)
		}
	}
}

func (c *memCache) evictOldestLocked() {
	elem := c.evictList.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*memEntry)
	c.evictList.Remove(elem)
	delete(c.items, entry.key)
	c.stats.Evictions++
}

func (c *memCache) updateHitRateLocked() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

func (c *memCache) statsSnapshot() types.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := c.stats
	stats.Size = int64(len(c.items))
	if c.maxItems > 0 {
		stats.Utilization = float64(len(c.items)) / float64(c.maxItems)
	}
	return stats
}
