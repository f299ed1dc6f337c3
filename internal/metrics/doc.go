/*
Package metrics provides Prometheus-based metrics collection for TransFS.

# Overview

The metrics package instruments FUSE operation dispatch, Listing Cache hit
rates, and Archive Index activity. It exposes both a Prometheus registry for
scraping and an internal operation-tracking view for debugging.

Architecture

	┌─────────────┐
	│  Collector  │  ← Main metrics aggregator
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/metrics │
	│ - Histograms │         └─────────────────┘
	│ - Gauges     │
	└──────────────┘

# Core Components

Collector: aggregates FUSE operation counts, durations, and error
classifications, and exports them as Prometheus metrics.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      8080,
		Path:      "/metrics",
		Namespace: "transfs",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording Operations

The collector tracks FUSE dispatch with timing, size, and success/failure:

	startTime := time.Now()
	entries, err := listingEngine.ListSystem(sys)
	duration := time.Since(startTime)

	collector.RecordOperation("readdir", duration, int64(len(entries)), err == nil)

# Cache Metrics

Track Listing Cache hit rates across its memory and disk tiers:

	collector.RecordCacheHit("/filestore/RetroBox/Atom/Software/HDs", 4096)
	collector.RecordCacheMiss("/filestore/RetroBox/Atom/Software/HDs", 4096)

	collector.UpdateCacheSize("memory", currentMemoryEntries)
	collector.UpdateCacheSize("disk", currentDiskEntries)

# Error Tracking

	if err != nil {
		collector.RecordError("archive_open", err)
		return err
	}

# Prometheus Metrics

Counters:
  - transfs_operations_total{operation,status}: FUSE operations by type and status
  - transfs_cache_requests_total{type,source}: Listing Cache hits/misses by tier
  - transfs_errors_total{operation,type}: Errors by operation and classification

Histograms:
  - transfs_operation_duration_seconds{operation}: FUSE operation latency
  - transfs_operation_size_bytes{operation}: bytes read/listed per operation

Gauges:
  - transfs_cache_size_bytes{level}: current Listing Cache tier size
  - transfs_active_connections: open FUSE file handles

# HTTP Endpoints

/metrics - Prometheus-formatted metrics (for scraping)

/health - Health check endpoint

	curl http://localhost:8080/health
	{"status":"healthy","service":"transfs-metrics"}

/debug/metrics - Human-readable metrics summary

/debug/operations - Tabular operations summary

# Configuration

	config := &metrics.Config{
		Enabled:        true,
		Port:           8080,
		Path:           "/metrics",
		Namespace:      "transfs",
		Subsystem:      "",
		UpdateInterval: 30 * time.Second,
		Labels: map[string]string{
			"client": "RetroBox",
		},
	}

# Thread Safety

All Collector methods are thread-safe and can be called concurrently from
multiple goroutines.

# See Also

- internal/health: Health monitoring and alerting
- internal/circuit: Circuit breaker for reliability
- pkg/errors: Structured error handling
*/
package metrics
