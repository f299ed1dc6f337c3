package cache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/glennpegden2/transfs/pkg/types"
)

func TestListingCachePutGet(t *testing.T) {
	c, err := New(Config{MaxEntries: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("/phys/Software/HDs", 1000, 10, sampleEntries())

	got, ok := c.Get("/phys/Software/HDs", 1000, 10)
	if !ok || len(got) != 2 {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
}

func TestListingCacheFallsBackToDiskTier(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{MaxEntries: 1, Dir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("/phys/A", 1, 1, sampleEntries())
	// Evict /phys/A from memory by filling past capacity.
	c.Put("/phys/B", 1, 1, sampleEntries())

	if _, ok := c.mem.get("/phys/A", 1, 1); ok {
		t.Fatal("test setup: expected /phys/A to be evicted from memory")
	}

	got, ok := c.Get("/phys/A", 1, 1)
	if !ok || len(got) != 2 {
		t.Fatalf("expected disk-tier hit, got %+v ok=%v", got, ok)
	}
}

func TestListingCacheInvalidateClearsBothTiers(t *testing.T) {
	dir := t.TempDir()
	c, _ := New(Config{Dir: dir})
	c.Put("/phys", 1, 1, sampleEntries())
	c.Invalidate("/phys")

	if _, ok := c.Get("/phys", 1, 1); ok {
		t.Error("expected entry gone from both tiers")
	}
}

func TestGetOrPopulateCallsOnce(t *testing.T) {
	c, _ := New(Config{})
	var calls int64

	populate := func() ([]types.DirEntry, error) {
		atomic.AddInt64(&calls, 1)
		return sampleEntries(), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := c.GetOrPopulate("/phys/Software/SSD", 1000, 10, populate)
			if err != nil {
				t.Errorf("GetOrPopulate: %v", err)
			}
			if len(entries) != 2 {
				t.Errorf("got %+v", entries)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt64(&calls) != 1 {
		t.Errorf("expected populate called once, got %d", calls)
	}
}

func TestGetOrPopulateSkipsOnCacheHit(t *testing.T) {
	c, _ := New(Config{})
	c.Put("/phys", 1000, 10, sampleEntries())

	called := false
	entries, err := c.GetOrPopulate("/phys", 1000, 10, func() ([]types.DirEntry, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("GetOrPopulate: %v", err)
	}
	if called {
		t.Error("populate should not be called on a cache hit")
	}
	if len(entries) != 2 {
		t.Errorf("got %+v", entries)
	}
}
