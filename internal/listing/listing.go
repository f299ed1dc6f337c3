// Package listing implements the Directory Listing Engine (§4.5): it
// composes the Map Resolver's and Archive Index's per-entry view into the
// full set of entries for a virtual directory, independent of the
// kernel's pagination, in a stable folders-first then lexicographic
// case-insensitive order.
package listing

import (
	"sort"
	"strings"

	"github.com/glennpegden2/transfs/internal/archive"
	"github.com/glennpegden2/transfs/internal/config"
	"github.com/glennpegden2/transfs/internal/mapresolve"
)

// Entry is one item in a materialised virtual directory.
type Entry struct {
	Name       string
	IsDir      bool
	Resolution mapresolve.Resolution
}

// Engine composes System directories, dynamic folders, and
// archive-as-directory listings into stable, orderable entry sets.
type Engine struct {
	resolver *mapresolve.Resolver
	archives *archive.Index
}

// New builds an Engine sharing the process's Resolver and Archive Index.
func New(resolver *mapresolve.Resolver, archives *archive.Index) *Engine {
	return &Engine{resolver: resolver, archives: archives}
}

// ListSystem produces the union of a System's top-level virtual entries:
// static/default map keys, dynamic-expanded folder names whose underlying
// source resolves, and direct-mount entries. Entries whose resolution is
// NotFound are excluded (§4.5).
func (e *Engine) ListSystem(sys *config.System) []Entry {
	sysRoot := e.resolver.SystemRoot(sys)
	out := make([]Entry, 0, len(sys.Maps))

	for i := range sys.Maps {
		entry := &sys.Maps[i]
		switch entry.Kind {
		case config.MapEntryStatic:
			res, err := e.resolver.ResolveStatic(sysRoot, entry, nil)
			if err != nil || res.Mode == mapresolve.ModeNotFound {
				continue
			}
			out = append(out, Entry{Name: entry.Name, IsDir: res.Mode != mapresolve.ModeArchiveMember, Resolution: res})

		case config.MapEntryDefaultSource:
			res, err := e.resolver.ResolveDefaultSource(sysRoot, entry, nil)
			if err != nil || res.Mode == mapresolve.ModeNotFound {
				continue
			}
			out = append(out, Entry{Name: entry.Name, IsDir: res.Mode == mapresolve.ModeArchiveRootAsDir || res.Mode == mapresolve.ModeRealDir, Resolution: res})

		case config.MapEntryDirectMount:
			res, err := e.resolver.ResolveDirectMount(sysRoot, entry, nil)
			if err != nil || res.Mode == mapresolve.ModeNotFound {
				continue
			}
			out = append(out, Entry{Name: entry.Name, IsDir: res.Mode != mapresolve.ModeArchiveMember, Resolution: res})

		case config.MapEntryDynamic:
			for _, folder := range entry.FileTypeFolder {
				if !e.dynamicFolderResolves(sysRoot, entry, &folder) {
					continue
				}
				out = append(out, Entry{
					Name:  folder.VirtualFolder,
					IsDir: true,
					Resolution: mapresolve.Resolution{Mode: mapresolve.ModeSynthDir},
				})
			}
		}
	}

	sortEntries(out)
	return out
}

// dynamicFolderResolves reports whether a dynamic folder has any backing
// source directory at all (extension dir or fallback dir), independent of
// whether that directory currently has matching files in it. An empty but
// present source directory still earns the folder a place in the listing.
func (e *Engine) dynamicFolderResolves(sysRoot string, entry *config.MapEntry, folder *config.FileTypeFolder) bool {
	for _, spec := range folder.Extensions {
		if e.resolver.HasSourceDirForExtension(sysRoot, entry.DynSourceDir, folder.VirtualFolder, spec.SourceExt) {
			return true
		}
	}
	return false
}

// ListDynamicFolder materialises one dynamic folder's children via the Map
// Resolver's per-entry algorithm (§4.3's "Directory listing" bullet,
// applied in full by mapresolve.Resolver.ListDynamicFolder), converting
// its Child slice into the Engine's Entry shape.
func (e *Engine) ListDynamicFolder(sys *config.System, entry *config.MapEntry, folder *config.FileTypeFolder) ([]Entry, error) {
	sysRoot := e.resolver.SystemRoot(sys)
	children, err := e.resolver.ListDynamicFolder(sysRoot, entry, folder)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(children))
	for _, c := range children {
		out = append(out, Entry{Name: c.Name, IsDir: c.IsDir, Resolution: c.Resolution})
	}
	sortEntries(out)
	return out, nil
}

// ListArchiveDir lists one level of an archive's internal tree at subpath,
// filtered to non-hidden, non-traversal-escaping members by the Archive
// Index itself (§4.2); subpath="" lists the archive root.
func (e *Engine) ListArchiveDir(archivePath string, mtimeNs, size int64, subpath string) ([]Entry, error) {
	snap, err := e.archives.Open(archivePath, mtimeNs, size)
	if err != nil {
		return nil, err
	}
	members, err := snap.List(subpath)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(members))
	for _, m := range members {
		memberPath := m.Name
		if subpath != "" {
			memberPath = subpath + "/" + m.Name
		}
		res := mapresolve.Resolution{Mode: mapresolve.ModeArchiveMember, ArchivePath: archivePath, MemberPath: memberPath}
		if m.IsDir {
			res.Mode = mapresolve.ModeArchiveRootAsDir
		}
		out = append(out, Entry{Name: m.Name, IsDir: m.IsDir, Resolution: res})
	}
	sortEntries(out)
	return out, nil
}

// sortEntries applies the Engine's stable order: folders before files,
// then lexicographic, case-insensitive (§4.5 "Determinism").
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}
