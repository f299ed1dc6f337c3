// Package archive implements the Archive Index (§4.2): it indexes a ZIP
// archive's member table once per (path, mtime, size) generation, hides
// whether the archive carries explicit directory entries by synthesising
// parents from member paths, and serves random-access reads and temp-file
// extraction of individual members.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"

	"github.com/glennpegden2/transfs/internal/circuit"
	"github.com/glennpegden2/transfs/pkg/errors"
)

// extractSem bounds concurrently running member extractions (§4.2
// "falls back to extract-then-read otherwise") to a fraction of the
// process's open file descriptor limit, so a burst of reads against
// compressed members can't starve descriptors the FUSE transport and the
// archive readers themselves need. A slot is held only while Extract
// copies the member; the temp file it returns stays open after the slot
// is released and is not counted. Sized once at process start.
var extractSem = make(chan struct{}, maxExtractedHandles())

// maxExtractedHandles asks the kernel for RLIMIT_NOFILE the way gcsfuse's
// own ChooseTempDirLimitNumFiles does, falling back to a fixed default if
// the query fails, and clamps the result to a sane range.
func maxExtractedHandles() int {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return 256
	}
	n := int(rlimit.Cur / 4)
	if n < 16 {
		return 16
	}
	if n > 4096 {
		return 4096
	}
	return n
}

func init() {
	// A faster flate decompressor than the standard library's, registered
	// once at process start; large TOSEC-style archives (3,500+ entries)
	// are exactly the case this pays for (§4.6's stated motivation).
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}

// member is one file entry in an indexed archive.
type member struct {
	name           string // cleaned, forward-slash path relative to archive root
	size           int64
	uncompressed   int64
	hidden         bool
	zipFile        *zip.File
}

// Snapshot is the cached result of indexing a single archive: its
// directory tree and file table, keyed by (archive_physical_path, mtime,
// size). It is immutable once built (Open Question 3, resolved in
// DESIGN.md): an in-flight read holds a reference to its Snapshot for the
// handle's lifetime and is unaffected by a concurrent re-index.
type Snapshot struct {
	Path    string
	MtimeNs int64
	Size    int64

	reader  *zip.ReadCloser
	members map[string]*member // keyed by cleaned member path
	dirs    map[string]bool    // synthesised + explicit directories, keyed by cleaned path
}

// Entry is one child returned by List: either a subdirectory or a file.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Index indexes and caches ArchiveSnapshots. A single Index is shared by
// the whole process; every archive path is guarded independently so one
// corrupt ZIP never blocks indexing of another.
type Index struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot // keyed by path

	group    singleflight.Group
	breakers *circuit.Manager
}

// NewIndex creates an empty Index. breakerConfig tunes the circuit breaker
// guarding repeated indexing attempts of a single archive path that keeps
// failing with MalformedArchive (§7: a corrupt ZIP must not be re-opened on
// every readdir).
func NewIndex(breakerConfig circuit.Config) *Index {
	return &Index{
		snapshots: make(map[string]*Snapshot),
		breakers:  circuit.NewManager(breakerConfig),
	}
}

// Open returns the ArchiveSnapshot for archivePath, building it on first
// use or whenever (mtimeNs, size) has changed since the cached snapshot was
// built. Concurrent Opens for the same path and generation collapse into a
// single physical indexing pass (§5 "same single-flight discipline per
// archive path", testable property 7).
func (idx *Index) Open(archivePath string, mtimeNs, size int64) (*Snapshot, error) {
	idx.mu.RLock()
	if snap, ok := idx.snapshots[archivePath]; ok && snap.MtimeNs == mtimeNs && snap.Size == size {
		idx.mu.RUnlock()
		return snap, nil
	}
	idx.mu.RUnlock()

	breaker := idx.breakers.GetBreaker(archivePath)
	key := fmt.Sprintf("%s:%d:%d", archivePath, mtimeNs, size)

	result, err, _ := idx.group.Do(key, func() (interface{}, error) {
		var snap *Snapshot
		cbErr := breaker.Execute(func() error {
			built, buildErr := buildSnapshot(archivePath, mtimeNs, size)
			if buildErr != nil {
				return buildErr
			}
			snap = built
			return nil
		})
		if cbErr != nil {
			if cbErr == circuit.ErrOpenState {
				return nil, errors.NewError(errors.ErrCodeMalformedArchive, "archive indexing circuit open").
					WithComponent("archive").WithOperation("open").WithPath(archivePath, "")
			}
			return nil, cbErr
		}

		idx.mu.Lock()
		idx.snapshots[archivePath] = snap
		idx.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Snapshot), nil
}

func buildSnapshot(archivePath string, mtimeNs, size int64) (*Snapshot, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeMalformedArchive, "failed to open archive").
			WithComponent("archive").WithOperation("index").WithPath(archivePath, "").WithCause(err)
	}

	snap := &Snapshot{
		Path:    archivePath,
		MtimeNs: mtimeNs,
		Size:    size,
		reader:  r,
		members: make(map[string]*member),
		dirs:    map[string]bool{"": true},
	}

	for _, f := range r.File {
		name := cleanMemberPath(f.Name)
		if name == "" {
			continue
		}
		if isTraversal(name) {
			// Defense against traversal in malformed archives (§4.2).
			continue
		}
		if strings.HasSuffix(f.Name, "/") {
			snap.dirs[name] = true
			synthesizeParents(snap.dirs, name)
			continue
		}

		base := path.Base(name)
		m := &member{
			name:         name,
			size:         int64(f.CompressedSize64),
			uncompressed: int64(f.UncompressedSize64),
			hidden:       strings.HasPrefix(base, "."),
			zipFile:      f,
		}
		snap.members[name] = m
		synthesizeParents(snap.dirs, name)
	}

	return snap, nil
}

func cleanMemberPath(name string) string {
	name = strings.TrimPrefix(name, "/")
	name = path.Clean(name)
	if name == "." {
		return ""
	}
	return name
}

func isTraversal(name string) bool {
	if path.IsAbs(name) {
		return true
	}
	for _, comp := range strings.Split(name, "/") {
		// §4.2: reject a member whose name or any path component starts
		// with ".." or is absolute.
		if strings.HasPrefix(comp, "..") {
			return true
		}
	}
	return false
}

func synthesizeParents(dirs map[string]bool, childPath string) {
	dir := path.Dir(childPath)
	for dir != "." && dir != "/" && dir != "" {
		if dirs[dir] {
			return
		}
		dirs[dir] = true
		dir = path.Dir(dir)
	}
}

// Close releases the archive's open file descriptor. The Index itself
// never calls it: a Snapshot replaced by a newer one for the same archive
// path is left open.
func (s *Snapshot) Close() error {
	if s.reader != nil {
		return s.reader.Close()
	}
	return nil
}

// List returns the immediate children of subpath ("" lists the archive
// root), filtered to non-hidden entries, in the Directory Listing Engine's
// stable order (folders before files, then lexicographic case-insensitive
// — applied by the caller, not here, since callers may merge further
// entries from outside the archive).
func (s *Snapshot) List(subpath string) ([]Entry, error) {
	subpath = cleanMemberPath(subpath)
	if subpath != "" {
		if !s.dirs[subpath] {
			return nil, errors.NewError(errors.ErrCodeNotFound, "no such directory in archive").
				WithComponent("archive").WithOperation("list").WithPath(s.Path, subpath)
		}
	}

	seenDirs := make(map[string]bool)
	var entries []Entry

	prefix := subpath
	for dir := range s.dirs {
		if dir == "" || dir == subpath {
			continue
		}
		parent := path.Dir(dir)
		if parent == "." {
			parent = ""
		}
		if parent != prefix {
			continue
		}
		name := path.Base(dir)
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !seenDirs[name] {
			seenDirs[name] = true
			entries = append(entries, Entry{Name: name, IsDir: true})
		}
	}

	for name, m := range s.members {
		if m.hidden {
			continue
		}
		parent := path.Dir(name)
		if parent == "." {
			parent = ""
		}
		if parent != prefix {
			continue
		}
		entries = append(entries, Entry{Name: path.Base(name), IsDir: false, Size: m.uncompressed})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	return entries, nil
}

// Stat reports whether memberPath is a known file, and its uncompressed
// size if so.
func (s *Snapshot) Stat(memberPath string) (size int64, isDir bool, found bool) {
	clean := cleanMemberPath(memberPath)
	if s.dirs[clean] {
		return 0, true, true
	}
	if m, ok := s.members[clean]; ok {
		return m.uncompressed, false, true
	}
	return 0, false, false
}

// DataOffset reports the archive-relative byte range of memberPath's raw
// data when it is stored uncompressed, letting a caller serve reads
// directly against the archive file's descriptor instead of extracting a
// temp copy (the OpenHandle "seekable" branch, §3/§4.7). ok is false for
// compressed members, which must go through Extract instead.
func (s *Snapshot) DataOffset(memberPath string) (offset, size int64, ok bool) {
	clean := cleanMemberPath(memberPath)
	m, found := s.members[clean]
	if !found || m.zipFile == nil || m.zipFile.Method != zip.Store {
		return 0, 0, false
	}
	off, err := m.zipFile.DataOffset()
	if err != nil {
		return 0, 0, false
	}
	return off, m.uncompressed, true
}

// ReadMember performs a random-access read against a member: for
// compressed archives (the common case) this falls back to decompressing
// from the start and discarding up to offset, since flate does not support
// true seeking (§4.2: "falls back to extract-then-read otherwise" — here
// the fallback is a skip-then-copy which avoids the temp file for small
// reads).
func (s *Snapshot) ReadMember(memberPath string, offset, length int64) ([]byte, error) {
	clean := cleanMemberPath(memberPath)
	m, ok := s.members[clean]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeNotFound, "no such member in archive").
			WithComponent("archive").WithOperation("read_member").WithPath(s.Path, memberPath)
	}
	if offset >= m.uncompressed {
		return []byte{}, nil
	}

	rc, err := m.zipFile.Open()
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeMalformedArchive, "failed to open archive member").
			WithComponent("archive").WithOperation("read_member").WithPath(s.Path, memberPath).WithCause(err)
	}
	defer rc.Close()

	if offset > 0 {
		if _, err := io.CopyN(io.Discard, rc, offset); err != nil {
			return nil, errors.NewError(errors.ErrCodeIoError, "failed to seek archive member").
				WithComponent("archive").WithOperation("read_member").WithPath(s.Path, memberPath).WithCause(err)
		}
	}

	remaining := m.uncompressed - offset
	if length > remaining {
		length = remaining
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(rc, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.NewError(errors.ErrCodeIoError, "failed reading archive member").
			WithComponent("archive").WithOperation("read_member").WithPath(s.Path, memberPath).WithCause(err)
	}
	return buf[:n], nil
}

// Extract materialises memberPath to a uniquely named temp file and
// unlinks it immediately, returning the still-open descriptor; the kernel
// reclaims the backing storage when the caller closes it (§3 OpenHandle
// lifecycle).
func (s *Snapshot) Extract(memberPath string) (*os.File, error) {
	clean := cleanMemberPath(memberPath)
	m, ok := s.members[clean]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeNotFound, "no such member in archive").
			WithComponent("archive").WithOperation("extract").WithPath(s.Path, memberPath)
	}

	extractSem <- struct{}{}
	defer func() { <-extractSem }()

	rc, err := m.zipFile.Open()
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeMalformedArchive, "failed to open archive member").
			WithComponent("archive").WithOperation("extract").WithPath(s.Path, memberPath).WithCause(err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "transfs-"+uuid.NewString())
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeIoError, "failed to create temp file").
			WithComponent("archive").WithOperation("extract").WithPath(s.Path, memberPath).WithCause(err)
	}

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, errors.NewError(errors.ErrCodeIoError, "failed to extract member").
			WithComponent("archive").WithOperation("extract").WithPath(s.Path, memberPath).WithCause(err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, errors.NewError(errors.ErrCodeIoError, "failed to rewind extracted member").
			WithComponent("archive").WithOperation("extract").WithPath(s.Path, memberPath).WithCause(err)
	}

	os.Remove(tmp.Name())
	return tmp, nil
}
