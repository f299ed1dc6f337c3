package fuse

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fs"

	"github.com/glennpegden2/transfs/internal/archive"
	"github.com/glennpegden2/transfs/internal/config"
	"github.com/glennpegden2/transfs/internal/listing"
	"github.com/glennpegden2/transfs/internal/locate"
	"github.com/glennpegden2/transfs/internal/mapresolve"
	"github.com/glennpegden2/transfs/pkg/types"
)

// Config is the FUSE Operation Layer's own behavior configuration,
// distinct from internal/config.Config: the permission/mode bits and
// debug flag a mount actually needs, independent of how the virtual tree
// itself is described.
type Config struct {
	ReadOnly bool

	DefaultUID uint32
	DefaultGID uint32
	FileMode   uint32
	DirMode    uint32

	Debug bool
}

// DefaultConfig returns sane defaults for a read-only presentation mount.
func DefaultConfig() *Config {
	return &Config{
		ReadOnly:   true,
		DefaultUID: 0,
		DefaultGID: 0,
		FileMode:   0444,
		DirMode:    0555,
	}
}

// FileSystem is the root of the FUSE Operation Layer (§4.7): it owns no
// mutable bookkeeping of its own beyond the inode allocator — operation
// counters live in metrics, and every other piece of state it touches
// (the Map Resolver, Source Locator, Listing Engine, Archive Index,
// Listing Cache) is already safe for concurrent use without a shared
// lock, matching §5's "no cross-operation locking" requirement.
type FileSystem struct {
	cfg    *config.Config
	config *Config

	resolver *mapresolve.Resolver
	locator  *locate.Locator
	listing  *listing.Engine
	archives *archive.Index
	cache    types.ListingCache
	metrics  types.MetricsCollector

	filestoreRoot string
	inodes        *inodeAllocator
	startTime     time.Time
}

// NewFileSystem wires an already-constructed Core's components into a
// mountable FUSE filesystem. The caller (internal/core) owns the
// lifetimes of resolver/locator/listing/archives/cache/metrics; FileSystem
// only reads through them.
func NewFileSystem(
	cfg *config.Config,
	fsConfig *Config,
	resolver *mapresolve.Resolver,
	locator *locate.Locator,
	listingEngine *listing.Engine,
	archives *archive.Index,
	cache types.ListingCache,
	metrics types.MetricsCollector,
) *FileSystem {
	if fsConfig == nil {
		fsConfig = DefaultConfig()
	}
	return &FileSystem{
		cfg:           cfg,
		config:        fsConfig,
		resolver:      resolver,
		locator:       locator,
		listing:       listingEngine,
		archives:      archives,
		cache:         cache,
		metrics:       metrics,
		filestoreRoot: cfg.App.FilestorePath,
		inodes:        newInodeAllocator(),
		startTime:     time.Now(),
	}
}

// Root returns the filesystem's root node: the list of configured
// Clients (§3, §4.7). It implements fs.InodeEmbedder so it can be passed
// directly to fs.Mount.
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &Node{owner: fsys, kind: kindRoot, virtualPath: "/"}
}
