package cache

import (
	"path/filepath"
	"testing"
)

func TestDiskCacheDisabledWhenNoDir(t *testing.T) {
	d, err := newDiskCache("")
	if err != nil {
		t.Fatalf("newDiskCache: %v", err)
	}
	d.put("/phys", 1, 1, sampleEntries())
	if _, ok := d.get("/phys", 1, 1); ok {
		t.Error("expected disabled disk cache to never hit")
	}
}

func TestDiskCachePutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d, err := newDiskCache(dir)
	if err != nil {
		t.Fatalf("newDiskCache: %v", err)
	}

	d.put("/phys/Software/HDs", 1000, 10, sampleEntries())
	got, ok := d.get("/phys/Software/HDs", 1000, 10)
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got) != 2 || got[0].Name != "hoglet.vhd" {
		t.Errorf("got %+v", got)
	}
}

func TestDiskCacheRejectsStaleMtime(t *testing.T) {
	dir := t.TempDir()
	d, _ := newDiskCache(dir)
	d.put("/phys", 1000, 10, sampleEntries())

	if _, ok := d.get("/phys", 2000, 10); ok {
		t.Error("expected stale mtime to miss")
	}
}

func TestDiskCacheInvalidateRemovesFile(t *testing.T) {
	dir := t.TempDir()
	d, _ := newDiskCache(dir)
	d.put("/phys", 1000, 10, sampleEntries())
	d.invalidate("/phys")

	if _, ok := d.get("/phys", 1000, 10); ok {
		t.Error("expected entry gone after invalidate")
	}
}

func TestDiskCachePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	d1, _ := newDiskCache(dir)
	d1.put("/phys", 1000, 10, sampleEntries())

	d2, err := newDiskCache(dir)
	if err != nil {
		t.Fatalf("newDiskCache: %v", err)
	}
	got, ok := d2.get("/phys", 1000, 10)
	if !ok || len(got) != 2 {
		t.Errorf("expected entries to survive across instances, got %+v ok=%v", got, ok)
	}
}

func TestDiskCacheCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "listing-cache")
	if _, err := newDiskCache(dir); err != nil {
		t.Fatalf("newDiskCache: %v", err)
	}
}
