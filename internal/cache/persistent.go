package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/glennpegden2/transfs/pkg/types"
)

// diskEntry is the on-disk encoding of one cached listing, named by a hash
// of its key so two physical paths never collide on the filesystem.
type diskEntry struct {
	PhysicalPath string           `json:"physical_path"`
	MtimeNs      int64            `json:"mtime_ns"`
	Size         int64            `json:"size"`
	Entries      []types.DirEntry `json:"entries"`
}

// diskCache is the on-disk tier of the Listing Cache (§4.6): serialised
// listings under a cache directory, consulted on process start and after
// every in-memory miss, but only accepted if the stamped (mtime_ns, size)
// still matches what the caller observed just now.
type diskCache struct {
	mu  sync.Mutex
	dir string
}

func newDiskCache(dir string) (*diskCache, error) {
	if dir == "" {
		return &diskCache{}, nil
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create listing cache directory: %w", err)
	}
	return &diskCache{dir: dir}, nil
}

func (d *diskCache) enabled() bool { return d.dir != "" }

func (d *diskCache) filePath(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, fmt.Sprintf("%x.json", hash[:16]))
}

func (d *diskCache) get(physicalPath string, mtimeNs, size int64) ([]types.DirEntry, bool) {
	if !d.enabled() {
		return nil, false
	}
	key := listingKey(physicalPath, mtimeNs, size)

	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(d.filePath(key))
	if err != nil {
		return nil, false
	}
	var entry diskEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if entry.PhysicalPath != physicalPath || entry.MtimeNs != mtimeNs || entry.Size != size {
		return nil, false
	}
	return entry.Entries, true
}

func (d *diskCache) put(physicalPath string, mtimeNs, size int64, entries []types.DirEntry) {
	if !d.enabled() {
		return
	}
	key := listingKey(physicalPath, mtimeNs, size)
	entry := diskEntry{PhysicalPath: physicalPath, MtimeNs: mtimeNs, Size: size, Entries: entries}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	target := d.filePath(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return
	}
	_ = os.Rename(tmp, target)
}

func (d *diskCache) invalidate(physicalPath string) {
	if !d.enabled() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ents, err := os.ReadDir(d.dir)
	if err != nil {
		return
	}
	for _, de := range ents {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(d.dir, de.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry diskEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if entry.PhysicalPath == physicalPath {
			_ = os.Remove(path)
		}
	}
}
