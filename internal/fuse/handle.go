package fuse

import (
	"context"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/glennpegden2/transfs/pkg/errors"
)

// realHandle serves reads directly against a host file descriptor (the
// OpenHandle "real" variant, §3/§4.7).
type realHandle struct {
	f *os.File
}

var (
	_ fs.FileReader   = (*realHandle)(nil)
	_ fs.FileReleaser = (*realHandle)(nil)
)

func (h *realHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.f.ReadAt(dest, off)
	if err != nil && n == 0 && err.Error() != "EOF" {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *realHandle) Release(ctx context.Context) syscall.Errno {
	h.f.Close()
	return 0
}

// archiveHandle serves reads against a single archive member, either
// seekably against the archive file's own descriptor (Stored members, no
// inflate needed) or against an already-extracted temp file (Deflated
// members), matching the HANDLE{seekable|extracted} states of the §4.7
// open-archive-member state machine.
type archiveHandle struct {
	// seekable branch
	archiveFile *os.File
	dataOffset  int64
	dataSize    int64

	// extracted branch
	extracted *os.File
}

var (
	_ fs.FileReader   = (*archiveHandle)(nil)
	_ fs.FileReleaser = (*archiveHandle)(nil)
)

func (h *archiveHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if h.extracted != nil {
		n, err := h.extracted.ReadAt(dest, off)
		if err != nil && n == 0 && err.Error() != "EOF" {
			return nil, syscall.EIO
		}
		return fuse.ReadResultData(dest[:n]), 0
	}

	if off >= h.dataSize {
		return fuse.ReadResultData(dest[:0]), 0
	}
	n := len(dest)
	if remaining := h.dataSize - off; int64(n) > remaining {
		n = int(remaining)
	}
	read, err := h.archiveFile.ReadAt(dest[:n], h.dataOffset+off)
	if err != nil && read == 0 && err.Error() != "EOF" {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:read]), 0
}

func (h *archiveHandle) Release(ctx context.Context) syscall.Errno {
	if h.archiveFile != nil {
		h.archiveFile.Close()
	}
	if h.extracted != nil {
		h.extracted.Close()
	}
	return 0
}

// openReal opens a host file for reading. physicalPath has already been
// confirmed to exist by the Source Locator.
func (fsys *FileSystem) openReal(physicalPath string) (fs.FileHandle, uint32, syscall.Errno) {
	f, err := os.Open(physicalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, syscall.ENOENT
		}
		return nil, 0, fsys.reportError("open", err)
	}
	return &realHandle{f: f}, fuse.FOPEN_KEEP_CACHE, 0
}

// openArchiveMember drives the NEW -> INDEXED -> HANDLE{seekable|extracted}
// transitions of §4.7's open-archive-member state machine: the archive is
// indexed (or its cached Snapshot reused) via the Archive Index's
// single-flight Open, then the member is served directly against the
// archive's own descriptor when stored uncompressed, falling back to
// temp-file extraction when deflated.
func (fsys *FileSystem) openArchiveMember(archivePath, memberPath string) (fs.FileHandle, uint32, syscall.Errno) {
	info, err := os.Stat(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, syscall.ENOENT
		}
		return nil, 0, fsys.reportError("open", err)
	}

	snap, err := fsys.archives.Open(archivePath, info.ModTime().UnixNano(), info.Size())
	if err != nil {
		return nil, 0, fsys.reportError("open", err)
	}

	if offset, size, ok := snap.DataOffset(memberPath); ok {
		af, err := os.Open(archivePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, 0, syscall.ENOENT
			}
			return nil, 0, fsys.reportError("open", err)
		}
		return &archiveHandle{archiveFile: af, dataOffset: offset, dataSize: size}, fuse.FOPEN_KEEP_CACHE, 0
	}

	tmp, err := snap.Extract(memberPath)
	if err != nil {
		if errors.ToErrno(err) == syscall.ENOENT {
			return nil, 0, syscall.ENOENT
		}
		return nil, 0, fsys.reportError("open", err)
	}
	return &archiveHandle{extracted: tmp}, 0, 0
}
