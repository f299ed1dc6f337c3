package fuse

import (
	"context"
	"os"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/glennpegden2/transfs/internal/config"
	"github.com/glennpegden2/transfs/internal/locate"
	"github.com/glennpegden2/transfs/internal/mapresolve"
	"github.com/glennpegden2/transfs/pkg/errors"
	"github.com/glennpegden2/transfs/pkg/types"
)

// nodeKind distinguishes the structural levels above the Map Resolver
// (root/client/system, which mapresolve knows nothing about) from
// everything the Map Resolver and Source Locator have already classified.
type nodeKind int

const (
	kindRoot nodeKind = iota
	kindClient
	kindSystem
	kindResolved
)

// Node is the single inode type backing the whole virtual tree (§3's
// InodeEntry, generalized into one Go type the way go-fuse's own zipfs
// example represents every archive entry with one node type rather than
// one struct per kind). Once kind is kindResolved, res.Mode says which of
// RealDir/RealFile/ArchiveRootAsDir/ArchiveMember/SynthDir this node is;
// mapEntry/folder are only populated for a SynthDir (a dynamic virtual
// folder), which is the one kind a Map Resolver Resolution can't fully
// describe on its own.
type Node struct {
	fs.Inode

	owner       *FileSystem
	kind        nodeKind
	virtualPath string

	client *config.Client
	system *config.System

	mapEntry *config.MapEntry
	folder   *config.FileTypeFolder

	res       mapresolve.Resolution
	existence locate.Existence
}

var (
	_ fs.NodeLookuper   = (*Node)(nil)
	_ fs.NodeGetattrer  = (*Node)(nil)
	_ fs.NodeOpendirer  = (*Node)(nil)
	_ fs.NodeReaddirer  = (*Node)(nil)
	_ fs.NodeOpener     = (*Node)(nil)
	_ fs.NodeStatfser   = (*Node)(nil)
	_ fs.NodeCreater    = (*Node)(nil)
	_ fs.NodeMkdirer    = (*Node)(nil)
	_ fs.NodeUnlinker   = (*Node)(nil)
	_ fs.NodeRmdirer    = (*Node)(nil)
	_ fs.NodeRenamer    = (*Node)(nil)
	_ fs.NodeSetattrer  = (*Node)(nil)
	_ fs.NodeSymlinker  = (*Node)(nil)
)

func (n *Node) isDir() bool {
	switch n.kind {
	case kindRoot, kindClient, kindSystem:
		return true
	default:
		return n.existence.IsDir
	}
}

func (n *Node) virtualChild(name string) string {
	if n.virtualPath == "/" {
		return "/" + name
	}
	return n.virtualPath + "/" + name
}

// Lookup dispatches by kind: root/client/system levels are structural and
// answered directly against the loaded Config; everything inside a System
// goes through the Map Resolver and Source Locator (§4.7).
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child, errno := n.lookupChild(name)
	if errno != 0 {
		return nil, errno
	}
	n.owner.fillAttr(child, &out.Attr)
	return n.newChildInode(ctx, child), 0
}

func (n *Node) lookupChild(name string) (*Node, syscall.Errno) {
	switch n.kind {
	case kindRoot:
		for i := range n.owner.cfg.Clients {
			if n.owner.cfg.Clients[i].Name == name {
				c := &n.owner.cfg.Clients[i]
				return &Node{owner: n.owner, kind: kindClient, virtualPath: n.virtualChild(name), client: c}, 0
			}
		}
		return nil, syscall.ENOENT

	case kindClient:
		for i := range n.client.Systems {
			if n.client.Systems[i].Name == name {
				s := &n.client.Systems[i]
				return &Node{owner: n.owner, kind: kindSystem, virtualPath: n.virtualChild(name), client: n.client, system: s}, 0
			}
		}
		return nil, syscall.ENOENT

	case kindSystem:
		entries := n.owner.listing.ListSystem(n.system)
		for _, e := range entries {
			if e.Name != name {
				continue
			}
			if e.Resolution.Mode == mapresolve.ModeSynthDir {
				entry, folder := findDynamicFolder(n.system, name)
				if entry == nil {
					return nil, syscall.ENOENT
				}
				return n.owner.newResolvedNode(n.virtualChild(name), n.system, entry, folder, e.Resolution)
			}
			return n.owner.newResolvedNode(n.virtualChild(name), n.system, nil, nil, e.Resolution)
		}
		return nil, syscall.ENOENT

	case kindResolved:
		return n.lookupInResolved(name)

	default:
		return nil, syscall.ENOTDIR
	}
}

func (n *Node) lookupInResolved(name string) (*Node, syscall.Errno) {
	switch n.res.Mode {
	case mapresolve.ModeSynthDir:
		entries, err := n.owner.listing.ListDynamicFolder(n.system, n.mapEntry, n.folder)
		if err != nil {
			return nil, n.owner.reportError("lookup", err)
		}
		for _, e := range entries {
			if e.Name == name {
				return n.owner.newResolvedNode(n.virtualChild(name), n.system, nil, nil, e.Resolution)
			}
		}
		return nil, syscall.ENOENT

	case mapresolve.ModeRealDir:
		phys := filepath.Join(n.res.PhysicalPath, name)
		info, err := os.Stat(phys)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, syscall.ENOENT
			}
			return nil, n.owner.reportError("lookup", err)
		}
		mode := mapresolve.ModeRealFile
		if info.IsDir() {
			mode = mapresolve.ModeRealDir
		}
		res := mapresolve.Resolution{Mode: mode, PhysicalPath: phys}
		return n.owner.newResolvedNode(n.virtualChild(name), n.system, nil, nil, res)

	case mapresolve.ModeArchiveRootAsDir:
		res, err := n.owner.resolver.ResolveArchiveSubpath(n.res.ArchivePath, n.res.MemberPath, []string{name})
		if err != nil {
			return nil, n.owner.reportError("lookup", err)
		}
		if res.Mode == mapresolve.ModeNotFound {
			return nil, syscall.ENOENT
		}
		return n.owner.newResolvedNode(n.virtualChild(name), n.system, nil, nil, res)

	default:
		// ModeRealFile / ModeArchiveMember are terminal entries; the
		// kernel only calls Lookup through a directory node.
		return nil, syscall.ENOTDIR
	}
}

func findDynamicFolder(sys *config.System, name string) (*config.MapEntry, *config.FileTypeFolder) {
	for i := range sys.Maps {
		entry := &sys.Maps[i]
		if entry.Kind != config.MapEntryDynamic {
			continue
		}
		for j := range entry.FileTypeFolder {
			if entry.FileTypeFolder[j].VirtualFolder == name {
				return entry, &entry.FileTypeFolder[j]
			}
		}
	}
	return nil, nil
}

func (n *Node) newChildInode(ctx context.Context, child *Node) *fs.Inode {
	mode := uint32(fuse.S_IFREG)
	if child.isDir() {
		mode = uint32(fuse.S_IFDIR)
	}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode, Ino: n.owner.inodeFor(child)})
}

// Getattr serves every kind from state already captured at Lookup time by
// the Source Locator; it never re-stats (§4.7: getattr is answered from
// the cached Existence, not a fresh physical probe).
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.owner.fillAttr(n, &out.Attr)
	return 0
}

func (n *Node) Opendir(ctx context.Context) syscall.Errno {
	return 0
}

// Readdir materialises one directory level via the Directory Listing
// Engine, the Map Resolver's dynamic-folder algorithm, or a plain
// os.ReadDir passthrough, depending on kind (§4.5, §4.7).
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, errno := n.listChildren()
	if errno != 0 {
		return nil, errno
	}
	return fs.NewListDirStream(entries), 0
}

func (n *Node) listChildren() ([]fuse.DirEntry, syscall.Errno) {
	switch n.kind {
	case kindRoot:
		out := make([]fuse.DirEntry, 0, len(n.owner.cfg.Clients))
		for _, c := range n.owner.cfg.Clients {
			out = append(out, fuse.DirEntry{Name: c.Name, Mode: fuse.S_IFDIR})
		}
		return out, 0

	case kindClient:
		out := make([]fuse.DirEntry, 0, len(n.client.Systems))
		for _, s := range n.client.Systems {
			out = append(out, fuse.DirEntry{Name: s.Name, Mode: fuse.S_IFDIR})
		}
		return out, 0

	case kindSystem:
		entries := n.owner.listing.ListSystem(n.system)
		out := make([]fuse.DirEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, dirEntryFor(e.Name, e.IsDir))
		}
		return out, 0

	case kindResolved:
		return n.listResolvedChildren()

	default:
		return nil, syscall.ENOTDIR
	}
}

func (n *Node) listResolvedChildren() ([]fuse.DirEntry, syscall.Errno) {
	switch n.res.Mode {
	case mapresolve.ModeSynthDir:
		entries, err := n.owner.listing.ListDynamicFolder(n.system, n.mapEntry, n.folder)
		if err != nil {
			return nil, n.owner.reportError("readdir", err)
		}
		out := make([]fuse.DirEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, dirEntryFor(e.Name, e.IsDir))
		}
		return out, 0

	case mapresolve.ModeRealDir:
		return n.owner.listRealDir(n.res.PhysicalPath)

	case mapresolve.ModeArchiveRootAsDir:
		return n.owner.listArchiveDir(n.res.ArchivePath, n.res.MemberPath)

	default:
		return nil, syscall.ENOTDIR
	}
}

// listRealDir serves a plain directory listing through the Listing Cache,
// keyed by (physical_path, mtime_ns, size) the same way the Directory
// Listing Engine's own cache consumers do (§4.6); a cache miss falls back
// to os.ReadDir and populates the cache for next time.
func (fsys *FileSystem) listRealDir(physicalPath string) ([]fuse.DirEntry, syscall.Errno) {
	info, err := os.Stat(physicalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syscall.ENOENT
		}
		return nil, fsys.reportError("readdir", err)
	}
	mtimeNs := info.ModTime().UnixNano()

	if fsys.cache != nil {
		if cached, ok := fsys.cache.Get(physicalPath, mtimeNs, info.Size()); ok {
			return dirEntriesFromTypes(cached), 0
		}
	}

	des, err := os.ReadDir(physicalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syscall.ENOENT
		}
		return nil, fsys.reportError("readdir", err)
	}

	cacheable := make([]types.DirEntry, 0, len(des))
	for _, de := range des {
		kind := types.KindRealFile
		if de.IsDir() {
			kind = types.KindRealDir
		}
		cacheable = append(cacheable, types.DirEntry{Name: de.Name(), Kind: kind, Physical: filepath.Join(physicalPath, de.Name())})
	}
	if fsys.cache != nil {
		fsys.cache.Put(physicalPath, mtimeNs, info.Size(), cacheable)
	}
	return dirEntriesFromTypes(cacheable), 0
}

// listArchiveDir serves one archive directory level through the Listing
// Cache, keyed by the archive's own (path, mtime_ns, size); a cache miss
// falls back to the Directory Listing Engine's archive-aware listing.
func (fsys *FileSystem) listArchiveDir(archivePath, subpath string) ([]fuse.DirEntry, syscall.Errno) {
	info, err := os.Stat(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syscall.ENOENT
		}
		return nil, fsys.reportError("readdir", err)
	}
	mtimeNs := info.ModTime().UnixNano()
	cacheKey := archivePath
	if subpath != "" {
		cacheKey = archivePath + "#" + subpath
	}

	if fsys.cache != nil {
		if cached, ok := fsys.cache.Get(cacheKey, mtimeNs, info.Size()); ok {
			return dirEntriesFromTypes(cached), 0
		}
	}

	entries, err := fsys.listing.ListArchiveDir(archivePath, mtimeNs, info.Size(), subpath)
	if err != nil {
		return nil, fsys.reportError("readdir", err)
	}

	cacheable := make([]types.DirEntry, 0, len(entries))
	for _, e := range entries {
		kind := types.KindZipMember
		if e.IsDir {
			kind = types.KindZipDir
		}
		cacheable = append(cacheable, types.DirEntry{Name: e.Name, Kind: kind, ArchivePath: archivePath, MemberPath: e.Resolution.MemberPath})
	}
	if fsys.cache != nil {
		fsys.cache.Put(cacheKey, mtimeNs, info.Size(), cacheable)
	}
	return dirEntriesFromTypes(cacheable), 0
}

func dirEntriesFromTypes(entries []types.DirEntry) []fuse.DirEntry {
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		isDir := e.Kind == types.KindRealDir || e.Kind == types.KindSynthDir || e.Kind == types.KindZipDir
		out = append(out, dirEntryFor(e.Name, isDir))
	}
	return out
}

func dirEntryFor(name string, isDir bool) fuse.DirEntry {
	mode := uint32(fuse.S_IFREG)
	if isDir {
		mode = uint32(fuse.S_IFDIR)
	}
	return fuse.DirEntry{Name: name, Mode: mode}
}

// Open hands back an OpenHandle over either a real file descriptor or an
// archive member (§3 OpenHandle, §4.7 open-archive-member state machine).
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_CREAT|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		return nil, 0, syscall.EROFS
	}
	if n.kind != kindResolved {
		return nil, 0, syscall.EISDIR
	}
	switch n.res.Mode {
	case mapresolve.ModeRealFile:
		return n.owner.openReal(n.res.PhysicalPath)
	case mapresolve.ModeArchiveMember:
		return n.owner.openArchiveMember(n.res.ArchivePath, n.res.MemberPath)
	default:
		return nil, 0, syscall.EISDIR
	}
}

func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	n.owner.fillStatfs(out)
	return 0
}

// Write-family operations: the whole mount is read-only (§1 Non-goals,
// §4.7) — every virtual and synthesized path rejects identically.

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.EROFS
}

func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

// newResolvedNode turns a Map Resolver Resolution into a definite node or
// ENOENT, consulting the Source Locator exactly once (§4.4, §4.7).
func (fsys *FileSystem) newResolvedNode(virtualPath string, sys *config.System, entry *config.MapEntry, folder *config.FileTypeFolder, res mapresolve.Resolution) (*Node, syscall.Errno) {
	if res.Mode == mapresolve.ModeNotFound {
		return nil, syscall.ENOENT
	}
	existence, err := fsys.locator.Locate(res)
	if err != nil {
		return nil, fsys.reportError("locate", err)
	}
	if !existence.Found {
		return nil, syscall.ENOENT
	}
	return &Node{
		owner:       fsys,
		kind:        kindResolved,
		virtualPath: virtualPath,
		system:      sys,
		mapEntry:    entry,
		folder:      folder,
		res:         res,
		existence:   existence,
	}, 0
}

func (fsys *FileSystem) fillAttr(n *Node, attr *fuse.Attr) {
	attr.Uid = fsys.config.DefaultUID
	attr.Gid = fsys.config.DefaultGID

	if n.isDir() {
		attr.Mode = uint32(fuse.S_IFDIR) | fsys.config.DirMode
		attr.Size = 0
	} else {
		attr.Mode = uint32(fuse.S_IFREG) | fsys.config.FileMode
		attr.Size = safeInt64ToUint64(n.existence.Size)
	}

	modTime := n.existence.ModTime
	if modTime.IsZero() {
		modTime = fsys.startTime
	}
	ts := safeInt64ToUint64(modTime.Unix())
	attr.Mtime, attr.Atime, attr.Ctime = ts, ts, ts
}

func (fsys *FileSystem) fillStatfs(out *fuse.StatfsOut) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(fsys.filestoreRoot, &st); err != nil {
		out.Bsize = 4096
		out.NameLen = 255
		return
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.NameLen = 255
}

func (fsys *FileSystem) inodeFor(n *Node) uint64 {
	if n.kind == kindResolved && (n.res.Mode == mapresolve.ModeRealFile || n.res.Mode == mapresolve.ModeRealDir) {
		if info, err := os.Stat(n.res.PhysicalPath); err == nil {
			if st, ok := info.Sys().(*syscall.Stat_t); ok {
				return st.Ino
			}
		}
	}
	return fsys.inodes.idFor(n.virtualPath)
}

// reportError classifies err through the structured error taxonomy and
// records it against the collector before returning the errno the kernel
// expects (§7).
func (fsys *FileSystem) reportError(operation string, err error) syscall.Errno {
	if fsys.metrics != nil {
		fsys.metrics.RecordError(operation, err)
	}
	return errors.ToErrno(err)
}

func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}
