// Package core assembles every TransFS subsystem into one owner: the Map
// Resolver, Source Locator, Archive Index, Listing Engine, Listing Cache,
// Metrics Collector, health Monitor and the FUSE mount itself. It is the
// single place that holds a reference to all of them, so cmd/transfs has
// one object to start, wait on and shut down.
package core

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/glennpegden2/transfs/internal/archive"
	"github.com/glennpegden2/transfs/internal/cache"
	"github.com/glennpegden2/transfs/internal/circuit"
	"github.com/glennpegden2/transfs/internal/config"
	"github.com/glennpegden2/transfs/internal/fuse"
	"github.com/glennpegden2/transfs/internal/health"
	"github.com/glennpegden2/transfs/internal/listing"
	"github.com/glennpegden2/transfs/internal/locate"
	"github.com/glennpegden2/transfs/internal/mapresolve"
	"github.com/glennpegden2/transfs/internal/metrics"
	"github.com/glennpegden2/transfs/pkg/api"
	comphealth "github.com/glennpegden2/transfs/pkg/health"
	"github.com/glennpegden2/transfs/pkg/recovery"
	"github.com/glennpegden2/transfs/pkg/status"
)

// Core owns every long-lived subsystem for one running mount.
type Core struct {
	cfg *config.Config

	archives *archive.Index
	resolver *mapresolve.Resolver
	locator  *locate.Locator
	listing  *listing.Engine
	cache    *cache.ListingCache
	metrics  *metrics.Collector
	health   *health.Monitor
	mount    fuse.PlatformFileSystem

	// componentHealth tracks per-component degradation (filestore,
	// archive index) independently of the Monitor's pass/fail probe
	// results, so a flaky component can read/write-gate itself instead of
	// flapping the whole process's health status.
	componentHealth *comphealth.Tracker
	// recovery wraps the filestore reachability probe in retry and
	// circuit-breaking so one slow network mount doesn't fail the check
	// on a single transient timeout.
	recovery *recovery.RecoveryManager
	// status tracks long-running background operations (presently just
	// the startup filestore probe; archive indexing itself is on-demand
	// and per-request, so it has no Operation of its own to track).
	status *status.Tracker
	// api serves health/status/metrics over HTTP, separate from the
	// metrics collector's own endpoint so a monitoring tool can reach
	// component-level detail without parsing Prometheus text.
	api *api.Server
}

// New wires a Core from a validated Config. It does not mount the
// filesystem or start any background loop; call Start for that.
func New(cfg *config.Config) (*Core, error) {
	archives := archive.NewIndex(circuit.Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
	})

	resolver := mapresolve.New(cfg.App.FilestorePath, archives)
	locator := locate.New(archives)
	listingEngine := listing.New(resolver, archives)

	cacheDir := ""
	if cfg.App.CacheDir != "" {
		cacheDir = filepath.Join(cfg.App.CacheDir, "listing")
	}
	listingCache, err := cache.New(cache.Config{
		MaxEntries: cfg.App.ListingCacheEntries,
		Dir:        cacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("building listing cache: %w", err)
	}

	metricsPort := parsePort(cfg.App.MetricsAddr, 8080)
	metricsCollector, err := metrics.NewCollector(&metrics.Config{
		Enabled:        metricsPort > 0,
		Port:           metricsPort,
		Path:           "/metrics",
		Namespace:      "transfs",
		UpdateInterval: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("building metrics collector: %w", err)
	}

	healthMonitor, err := health.NewMonitor(nil)
	if err != nil {
		return nil, fmt.Errorf("building health monitor: %w", err)
	}

	componentHealth := comphealth.NewTracker(comphealth.DefaultConfig())
	componentHealth.RegisterComponent("filestore")
	componentHealth.RegisterComponent("archive-index")

	recoveryMgr := recovery.NewRecoveryManager(recovery.DefaultRecoveryConfig())
	statusTracker := status.NewTracker(status.DefaultTrackerConfig())

	filestore := &filestoreComponent{
		path:     cfg.App.FilestorePath,
		recovery: recoveryMgr,
		tracker:  componentHealth,
	}
	if err := healthMonitor.RegisterComponent(filestore); err != nil {
		return nil, fmt.Errorf("registering filestore health component: %w", err)
	}

	apiServer := api.NewServer(api.ServerConfig{
		Address:       fmt.Sprintf(":%d", metricsPort+1),
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   60 * time.Second,
		EnableCORS:    true,
		EnableMetrics: false,
	}, statusTracker, componentHealth)

	mountCfg := &fuse.MountConfig{
		MountPoint: cfg.App.MountPoint,
		Options: &fuse.MountOptions{
			ReadOnly:     true,
			DefaultPerms: true,
			MaxRead:      128 * 1024,
			MaxWrite:     128 * 1024,
			AttrTimeout:  time.Second,
			EntryTimeout: time.Second,
			FSName:       "transfs",
			Subtype:      "transfs",
		},
		Permissions: &fuse.Permissions{
			UID:      uint32FromInt(os.Getuid()),
			GID:      uint32FromInt(os.Getgid()),
			FileMode: 0444,
			DirMode:  0555,
		},
	}

	mount := fuse.CreatePlatformMountManager(cfg, resolver, locator, listingEngine, archives, listingCache, metricsCollector, mountCfg)

	return &Core{
		cfg:             cfg,
		archives:        archives,
		resolver:        resolver,
		locator:         locator,
		listing:         listingEngine,
		cache:           listingCache,
		metrics:         metricsCollector,
		health:          healthMonitor,
		mount:           mount,
		componentHealth: componentHealth,
		recovery:        recoveryMgr,
		status:          statusTracker,
		api:             apiServer,
	}, nil
}

// filestoreComponent reports the configured filestore root's reachability
// to the health Monitor (health.HealthyComponent), running the actual
// probe through the RecoveryManager so a network mount that times out
// once gets retried before it is reported unhealthy, and mirroring the
// result into the componentHealth Tracker for CanRead/CanWrite gating.
type filestoreComponent struct {
	path     string
	recovery *recovery.RecoveryManager
	tracker  *comphealth.Tracker
}

func (f *filestoreComponent) HealthCheck(ctx context.Context) error {
	err := f.recovery.Execute(ctx, "filestore", "stat", func() error {
		info, statErr := os.Stat(f.path)
		if statErr != nil {
			return statErr
		}
		if !info.IsDir() {
			return fmt.Errorf("filestore path %s is not a directory", f.path)
		}
		return nil
	})
	if err != nil {
		f.tracker.RecordError("filestore", err)
		return err
	}
	f.tracker.RecordSuccess("filestore")
	return nil
}

func (f *filestoreComponent) GetComponentName() string { return "filestore" }
func (f *filestoreComponent) GetComponentType() string { return "storage" }

// Start mounts the filesystem and starts the metrics and health
// background loops. It does not block; call Wait to block until the
// mount is torn down.
func (c *Core) Start(ctx context.Context) error {
	if err := c.metrics.Start(ctx); err != nil {
		return fmt.Errorf("starting metrics collector: %w", err)
	}
	if err := c.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health monitor: %w", err)
	}
	c.api.StartBackground()
	if err := c.mount.Mount(ctx); err != nil {
		return fmt.Errorf("mounting filesystem: %w", err)
	}
	return nil
}

// Wait blocks until the FUSE server exits, normally via Stop's Unmount.
func (c *Core) Wait() {
	c.mount.Wait()
}

// Stop unmounts the filesystem and stops every background loop. It is
// safe to call even if Start failed partway through.
func (c *Core) Stop(ctx context.Context) error {
	var firstErr error
	if c.mount.IsMounted() {
		if err := c.mount.Unmount(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unmounting filesystem: %w", err)
		}
	}
	if err := c.health.Stop(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("stopping health monitor: %w", err)
	}
	if err := c.api.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("stopping api server: %w", err)
	}
	if err := c.metrics.Stop(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("stopping metrics collector: %w", err)
	}
	if err := c.recovery.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("stopping recovery manager: %w", err)
	}
	return firstErr
}

// Stats returns the combined operation counters exposed by the mount's
// metrics collector, for diagnostic or status-endpoint use.
func (c *Core) Stats() map[string]interface{} {
	return c.mount.GetStats()
}

func uint32FromInt(i int) uint32 {
	if i < 0 {
		return 0
	}
	return uint32(i)
}

// parsePort extracts the numeric port from an "addr:port" string,
// returning def if addr is empty or has no parseable port.
func parsePort(addr string, def int) int {
	if addr == "" {
		return def
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return def
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return def
	}
	return port
}
