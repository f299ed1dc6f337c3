//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"

	"github.com/glennpegden2/transfs/internal/archive"
	"github.com/glennpegden2/transfs/internal/config"
	"github.com/glennpegden2/transfs/internal/listing"
	"github.com/glennpegden2/transfs/internal/locate"
	"github.com/glennpegden2/transfs/internal/mapresolve"
	"github.com/glennpegden2/transfs/pkg/types"
)

// PlatformFileSystem is the lifecycle interface internal/core drives,
// independent of which FUSE binding built the mount.
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() map[string]interface{}
	Wait()
}

// CreatePlatformMountManager builds the FUSE Operation Layer and its
// MountManager for the default hanwen/go-fuse binding. The cgofuse-tagged
// build (for platforms go-fuse's native binding does not cover) provides
// the same function signature from a separate file.
func CreatePlatformMountManager(
	cfg *config.Config,
	resolver *mapresolve.Resolver,
	locator *locate.Locator,
	listingEngine *listing.Engine,
	archives *archive.Index,
	cache types.ListingCache,
	metrics types.MetricsCollector,
	mountConfig *MountConfig,
) PlatformFileSystem {
	fsConfig := DefaultConfig()
	if mountConfig != nil && mountConfig.Permissions != nil {
		fsConfig.DefaultUID = mountConfig.Permissions.UID
		fsConfig.DefaultGID = mountConfig.Permissions.GID
		fsConfig.FileMode = mountConfig.Permissions.FileMode
		fsConfig.DirMode = mountConfig.Permissions.DirMode
	}
	if mountConfig != nil && mountConfig.Options != nil {
		fsConfig.Debug = mountConfig.Options.Debug
	}

	filesystem := NewFileSystem(cfg, fsConfig, resolver, locator, listingEngine, archives, cache, metrics)
	return NewMountManager(filesystem, mountConfig)
}
