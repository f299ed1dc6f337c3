package types

import (
	"context"
	"testing"
	"time"
)

// TestInterfaces verifies that our mock implementations satisfy the
// interface contracts at compile time.
func TestInterfaces(t *testing.T) {
	var (
		_ ListingCache     = (*mockListingCache)(nil)
		_ MetricsCollector = (*mockMetricsCollector)(nil)
		_ HealthChecker    = (*mockHealthChecker)(nil)
	)
}

type mockListingCache struct{}

func (m *mockListingCache) Get(physicalPath string, mtimeNs, size int64) ([]DirEntry, bool) {
	return nil, false
}

func (m *mockListingCache) Put(physicalPath string, mtimeNs, size int64, entries []DirEntry) {}

func (m *mockListingCache) Invalidate(physicalPath string) {}

func (m *mockListingCache) Stats() CacheStats {
	return CacheStats{}
}

type mockMetricsCollector struct{}

func (m *mockMetricsCollector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
}

func (m *mockMetricsCollector) RecordCacheHit(key string, size int64) {}

func (m *mockMetricsCollector) RecordCacheMiss(key string, size int64) {}

func (m *mockMetricsCollector) RecordError(operation string, err error) {}

func (m *mockMetricsCollector) GetMetrics() map[string]interface{} {
	return nil
}

type mockHealthChecker struct{}

func (m *mockHealthChecker) Check(ctx context.Context) HealthStatus {
	return HealthStatus{}
}

func (m *mockHealthChecker) RegisterCheck(name string, check func(context.Context) error) {}

func (m *mockHealthChecker) GetStatus() map[string]HealthStatus {
	return nil
}
