package cache

import (
	"golang.org/x/sync/singleflight"

	"github.com/glennpegden2/transfs/pkg/types"
)

// Config configures the two-tier Listing Cache.
type Config struct {
	// MaxEntries bounds the in-memory LRU tier; 0 means unbounded.
	MaxEntries int
	// Dir is the on-disk tier's backing directory; empty disables it.
	Dir string
}

// ListingCache is the two-tier Listing Cache (§4.6): an in-memory LRU
// backed by on-disk serialised entries, with single-flight population so
// concurrent misses for the same key produce one physical scan. It
// implements types.ListingCache.
type ListingCache struct {
	mem   *memCache
	disk  *diskCache
	group singleflight.Group
}

// New builds a ListingCache; the on-disk tier is created (including its
// directory) if cfg.Dir is non-empty.
func New(cfg Config) (*ListingCache, error) {
	disk, err := newDiskCache(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return &ListingCache{mem: newMemCache(cfg.MaxEntries), disk: disk}, nil
}

// Get is a read-through: in-memory first, falling back to the on-disk tier
// and promoting a disk hit back into memory. It is not lock-free: the
// in-memory lookup takes that tier's mutex, so concurrent Gets and Puts
// serialise on it.
func (c *ListingCache) Get(physicalPath string, mtimeNs, size int64) ([]types.DirEntry, bool) {
	if entries, ok := c.mem.get(physicalPath, mtimeNs, size); ok {
		return entries, true
	}
	if entries, ok := c.disk.get(physicalPath, mtimeNs, size); ok {
		c.mem.put(physicalPath, mtimeNs, size, entries)
		return entries, true
	}
	return nil, false
}

// Put writes through both tiers.
func (c *ListingCache) Put(physicalPath string, mtimeNs, size int64, entries []types.DirEntry) {
	c.mem.put(physicalPath, mtimeNs, size, entries)
	c.disk.put(physicalPath, mtimeNs, size, entries)
}

// Invalidate drops every cached listing for physicalPath from both tiers,
// regardless of the (mtime_ns, size) it was stamped with.
func (c *ListingCache) Invalidate(physicalPath string) {
	c.mem.invalidate(physicalPath)
	c.disk.invalidate(physicalPath)
}

// Stats reports the in-memory tier's statistics; the on-disk tier has no
// meaningful hit/miss rate of its own since it is only consulted on an
// in-memory miss.
func (c *ListingCache) Stats() types.CacheStats {
	return c.mem.statsSnapshot()
}

// GetOrPopulate implements §4.6's "Population is guarded per-key with
// single-flight" rule: concurrent cache misses for the same
// (physicalPath, mtimeNs, size) invoke populate exactly once; the rest
// wait for and share its result.
func (c *ListingCache) GetOrPopulate(physicalPath string, mtimeNs, size int64, populate func() ([]types.DirEntry, error)) ([]types.DirEntry, error) {
	if entries, ok := c.Get(physicalPath, mtimeNs, size); ok {
		return entries, nil
	}

	key := listingKey(physicalPath, mtimeNs, size)
	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		if entries, ok := c.Get(physicalPath, mtimeNs, size); ok {
			return entries, nil
		}
		entries, err := populate()
		if err != nil {
			return nil, err
		}
		c.Put(physicalPath, mtimeNs, size, entries)
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]types.DirEntry), nil
}

var _ types.ListingCache = (*ListingCache)(nil)
