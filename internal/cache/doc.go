// Package cache implements the Listing Cache (§4.6): a two-tier cache
// that avoids rescanning large physical directories (e.g. a 3,500-entry
// ZIP) on every readdir.
//
// Entries are keyed by (physical_path, mtime_ns, size); a cached listing
// is valid only while the current stat of that path still matches. The
// in-memory tier (memCache) is an LRU with a configurable entry cap; the
// on-disk tier (diskCache) serialises listings under a cache directory so
// they survive a restart, but is only ever trusted when its stamped
// (mtime_ns, size) matches what the caller just observed.
//
// GetOrPopulate guards population with golang.org/x/sync/singleflight:
// concurrent misses for the same key produce one physical scan, and the
// rest wait for and share that result.
package cache
