package fuse

import (
	"hash/fnv"
	"sync"
)

// inodeAllocator assigns the 64-bit inode numbers synthesized entries need
// (§3 "hashes the fully-qualified virtual path to a 64-bit id, with a
// reverse map"). Real entries never go through this; they reuse the host
// filesystem's own inode number directly.
type inodeAllocator struct {
	mu     sync.Mutex
	byPath map[string]uint64
	byID   map[uint64]string
}

func newInodeAllocator() *inodeAllocator {
	return &inodeAllocator{
		byPath: make(map[string]uint64),
		byID:   make(map[uint64]string),
	}
}

// idFor returns a stable id for virtualPath, reusing a prior allocation if
// one exists. A hash collision against a different path is resolved by
// linear probing, same as a conventional open-addressing id table.
func (a *inodeAllocator) idFor(virtualPath string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.byPath[virtualPath]; ok {
		return id
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(virtualPath))
	id := h.Sum64()
	if id == 0 {
		id = 1 // reserve 0 for "no id assigned"
	}
	for {
		existing, taken := a.byID[id]
		if !taken || existing == virtualPath {
			break
		}
		id++
	}

	a.byPath[virtualPath] = id
	a.byID[id] = virtualPath
	return id
}
