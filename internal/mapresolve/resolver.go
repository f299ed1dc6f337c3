// Package mapresolve implements the Map Resolver (§4.3): given a parsed
// virtual path inside a System, it computes the candidate physical
// location and a resolution mode describing what the FUSE layer should do
// next. It encapsulates SoftwareArchives fallback rules and extension
// aliasing; it does not itself decide existence with certainty — that is
// the Source Locator's job (internal/locate) — but the dynamic-folder
// fallback rule requires a stat to choose between two candidate
// directories, so this package performs that one targeted check.
package mapresolve

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/glennpegden2/transfs/internal/archive"
	"github.com/glennpegden2/transfs/internal/config"
	"github.com/glennpegden2/transfs/pkg/errors"
	"github.com/glennpegden2/transfs/pkg/utils"
)

// Mode is the resolution mode the FUSE layer acts on (§4.3).
type Mode int

const (
	ModeNotFound Mode = iota
	ModeRealFile
	ModeRealDir
	ModeArchiveMember
	ModeArchiveRootAsDir
	ModeSynthDir
)

func (m Mode) String() string {
	switch m {
	case ModeRealFile:
		return "real_file"
	case ModeRealDir:
		return "real_dir"
	case ModeArchiveMember:
		return "archive_member"
	case ModeArchiveRootAsDir:
		return "archive_root_as_dir"
	case ModeSynthDir:
		return "synth_dir"
	default:
		return "not_found"
	}
}

// Resolution is the Map Resolver's output for one virtual path.
type Resolution struct {
	Mode Mode

	// PhysicalPath is set for ModeRealFile / ModeRealDir.
	PhysicalPath string

	// ArchivePath and MemberPath are set for ModeArchiveMember /
	// ModeArchiveRootAsDir. MemberPath is "" for ModeArchiveRootAsDir.
	ArchivePath string
	MemberPath  string

	// ZipMode carries the presentation policy when Mode is an archive
	// mode, so callers don't need to re-fetch the owning MapEntry.
	ZipMode config.ZipMode
}

// Child is one entry produced while listing inside a dynamic folder or a
// static/default-mapped system directory; Resolution lets the caller avoid
// a second resolve pass for entries already computed during listing.
type Child struct {
	Name       string
	IsDir      bool
	Resolution Resolution
}

// Resolver computes candidate physical locations for parsed virtual paths.
// It is stateless beyond the filestore root and a shared Archive Index, so
// a single instance is safe for concurrent use across the whole mount.
type Resolver struct {
	filestoreRoot string
	archives      *archive.Index
}

// New builds a Resolver rooted at filestoreRoot (the physical
// "filestore/Native" directory, §6.2).
func New(filestoreRoot string, archives *archive.Index) *Resolver {
	return &Resolver{filestoreRoot: filestoreRoot, archives: archives}
}

// SystemRoot returns the physical directory backing a System
// (filestore/Native/{local_base_path}, §4.3's enforced root).
func (r *Resolver) SystemRoot(sys *config.System) string {
	return filepath.Join(r.filestoreRoot, sys.LocalBasePath)
}

// securePhysical joins base with the subpath components under it,
// rejecting any path that would escape the System's root (§4.3 invariant:
// "computed physical paths are constrained to live under the system's
// filestore/Native/{local_base_path}/ root").
func (r *Resolver) securePhysical(sysRoot string, parts ...string) (string, error) {
	rel := filepath.Join(parts...)
	joined, err := utils.SecureJoin(sysRoot, rel)
	if err != nil {
		return "", errors.NewError(errors.ErrCodeNotFound, "path escapes system root").
			WithComponent("mapresolve").WithOperation("resolve").WithCause(err)
	}
	return joined, nil
}

// ResolveStatic handles a MapEntryStatic entry (§4.3 rule 2): the virtual
// directory is bound to local_base_path/source_dir/, subpath traversal is
// passthrough.
func (r *Resolver) ResolveStatic(sysRoot string, entry *config.MapEntry, subpath []string) (Resolution, error) {
	phys, err := r.securePhysical(sysRoot, append([]string{entry.SourceDir}, subpath...)...)
	if err != nil {
		return Resolution{Mode: ModeNotFound}, err
	}
	return classifyPath(phys)
}

// ResolveDefaultSource handles a MapEntryDefaultSource entry (§4.3 rule 1).
// The virtual name always exists; if the configured source file is itself
// an archive with enumerated zip members, a requested subpath of exactly
// one of those member names resolves as a separately materialisable
// archive member.
func (r *Resolver) ResolveDefaultSource(sysRoot string, entry *config.MapEntry, subpath []string) (Resolution, error) {
	phys, err := r.securePhysical(sysRoot, entry.SourceFile)
	if err != nil {
		return Resolution{Mode: ModeNotFound}, err
	}

	if len(subpath) == 0 {
		if len(entry.ZipMembers) > 0 {
			// The entry enumerates members: the default source itself is
			// an archive container, not a directly readable file.
			return Resolution{Mode: ModeArchiveRootAsDir, ArchivePath: phys, ZipMode: config.ZipModeHierarchical}, nil
		}
		return classifyPath(phys)
	}

	if len(entry.ZipMembers) == 0 {
		// No zip hint: treat subpath as passthrough into a real directory
		// named after the source file (rare, but not excluded by §3).
		full, err := r.securePhysical(sysRoot, append([]string{entry.SourceFile}, subpath...)...)
		if err != nil {
			return Resolution{Mode: ModeNotFound}, err
		}
		return classifyPath(full)
	}

	requested := strings.Join(subpath, "/")
	for _, name := range entry.ZipMembers {
		if name == requested {
			return Resolution{Mode: ModeArchiveMember, ArchivePath: phys, MemberPath: name, ZipMode: config.ZipModeHierarchical}, nil
		}
	}
	return Resolution{Mode: ModeNotFound}, nil
}

// ResolveDirectMount handles the rare MapEntryDirectMount variant: a
// virtual directory bound to one physical directory with optional zip
// settings, otherwise identical to ResolveStatic.
func (r *Resolver) ResolveDirectMount(sysRoot string, entry *config.MapEntry, subpath []string) (Resolution, error) {
	phys, err := r.securePhysical(sysRoot, append([]string{entry.MountSourceDir}, subpath...)...)
	if err != nil {
		return Resolution{Mode: ModeNotFound}, err
	}
	res, err := classifyPath(phys)
	if err != nil || res.Mode != ModeRealFile || !entry.MountSupportsZip {
		return res, err
	}
	if looksLikeArchive(phys) {
		return r.classifyArchiveCandidate(phys, entry.MountZipMode, nil)
	}
	return res, nil
}

// sourceDirForExtension returns the real source directory backing one
// extension within a dynamic folder, applying the fallback rule of §4.3:
// prefer source_dir/<EXT>/, fall back to source_dir/<virtual_folder>/ when
// the extension-named directory doesn't exist.
func (r *Resolver) sourceDirForExtension(sysRoot, dynSourceDir, virtualFolder, ext string) (string, bool) {
	extDir := filepath.Join(sysRoot, dynSourceDir, ext)
	if info, err := os.Stat(extDir); err == nil && info.IsDir() {
		return extDir, true
	}
	fallback := filepath.Join(sysRoot, dynSourceDir, virtualFolder)
	if info, err := os.Stat(fallback); err == nil && info.IsDir() {
		return fallback, true
	}
	return "", false
}

// HasSourceDirForExtension reports whether a dynamic folder has any
// backing source directory for one of its extensions, applying the same
// fallback rule as sourceDirForExtension. Used by the Listing Engine to
// decide whether an empty-but-present folder still earns a place in a
// System's top-level listing (§4.5).
func (r *Resolver) HasSourceDirForExtension(sysRoot, dynSourceDir, virtualFolder, ext string) bool {
	_, ok := r.sourceDirForExtension(sysRoot, dynSourceDir, virtualFolder, ext)
	return ok
}

// ListDynamicFolder lists the children of one dynamic virtual folder,
// applying §4.3's full "Directory listing" algorithm: extension matching
// with alias substitution, archive transparency per zip_mode, and
// real-file-wins-over-archive-member tie-breaking.
func (r *Resolver) ListDynamicFolder(sysRoot string, entry *config.MapEntry, folder *config.FileTypeFolder) ([]Child, error) {
	seen := make(map[string]Child) // keyed by displayed (case-folded) name

	for _, spec := range folder.Extensions {
		dir, ok := r.sourceDirForExtension(sysRoot, entry.DynSourceDir, folder.VirtualFolder, spec.SourceExt)
		if !ok {
			continue
		}
		ents, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, de := range ents {
			if de.IsDir() {
				continue // only files matter for extension matching
			}
			name := de.Name()
			fileExt := strings.TrimPrefix(strings.ToUpper(filepath.Ext(name)), ".")
			physical := filepath.Join(dir, name)

			// An archive in the source directory is only relevant when
			// the entry opts into zip transparency; its own file
			// extension need not match spec.SourceExt (an "SSD" folder
			// full of .zip archives containing .ssd members is the
			// normal case).
			if entry.SupportsZip && looksLikeArchive(physical) {
				res, err := r.classifyArchiveCandidate(physical, entry.ZipModeVal, filterFn(spec))
				if err != nil {
					continue
				}
				if res.Mode == ModeArchiveMember {
					// flatten: the archive disappears, its one member
					// takes its place under the member's own name.
					memberName := path.Base(res.MemberPath)
					insertChild(seen, strings.ToLower(memberName), Child{Name: memberName, IsDir: false, Resolution: res})
					continue
				}
				if res.Mode == ModeArchiveRootAsDir {
					insertChild(seen, strings.ToLower(name), Child{Name: name, IsDir: true, Resolution: res})
					continue
				}
				continue
			}

			if fileExt != spec.SourceExt {
				continue
			}
			stem := strings.TrimSuffix(name, filepath.Ext(name))
			var displayName string
			if spec.Aliased() {
				// Aliased extension (e.g. "BIN:ROM"): the virtual
				// extension is the configured token, case and all —
				// never derived from the source file's own case.
				displayName = stem + "." + spec.VirtExt
			} else {
				// Bare extension: the file appears with the same
				// extension it already has on disk, case preserved
				// (§4.3 "appear with the same extension").
				displayName = stem + filepath.Ext(name)
			}

			insertChild(seen, strings.ToLower(displayName), Child{
				Name:  displayName,
				IsDir: false,
				Resolution: Resolution{Mode: ModeRealFile, PhysicalPath: physical},
			})
		}
	}

	out := make([]Child, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// insertChild enforces the tie-break rule: a later real file never loses
// to an earlier archive-member entry of the same displayed name, and vice
// versa real files always win (§4.3 "real files win over archive members").
func insertChild(seen map[string]Child, key string, c Child) {
	if existing, ok := seen[key]; ok {
		if existing.Resolution.Mode == ModeRealFile && c.Resolution.Mode != ModeRealFile {
			return
		}
		if existing.Resolution.Mode != ModeRealFile && c.Resolution.Mode == ModeRealFile {
			seen[key] = c
			return
		}
		return
	}
	seen[key] = c
}

func filterFn(spec config.ExtensionSpec) func(member string) bool {
	return func(member string) bool {
		return strings.EqualFold(filepath.Ext(member), "."+spec.SourceExt)
	}
}

// classifyArchiveCandidate opens and indexes an archive at physical and
// applies zip_mode to decide whether it flattens to its one matching
// member or is presented as a browsable directory (§4.3 "Archive
// transparency").
func (r *Resolver) classifyArchiveCandidate(physical string, mode config.ZipMode, memberFilter func(string) bool) (Resolution, error) {
	info, err := os.Stat(physical)
	if err != nil {
		return Resolution{Mode: ModeNotFound}, nil
	}
	snap, err := r.archives.Open(physical, info.ModTime().UnixNano(), info.Size())
	if err != nil {
		return Resolution{Mode: ModeNotFound}, err
	}

	mode = normalizeZipMode(mode)
	if mode == config.ZipModeHierarchical {
		return Resolution{Mode: ModeArchiveRootAsDir, ArchivePath: physical, ZipMode: mode}, nil
	}

	// Flatten: show directly only if exactly one member matches the
	// entry's extensions; otherwise the archive is a directory.
	entries, err := snap.List("")
	if err != nil {
		return Resolution{Mode: ModeNotFound}, err
	}
	var matches []archive.Entry
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if memberFilter == nil || memberFilter(e.Name) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 1:
		return Resolution{Mode: ModeArchiveMember, ArchivePath: physical, MemberPath: matches[0].Name, ZipMode: mode}, nil
	case 0:
		// Flatten mode with no matching member: the archive has nothing
		// to show in its flattened form and is hidden entirely, not
		// presented as an empty subdirectory (testable property 9).
		return Resolution{Mode: ModeNotFound}, nil
	default:
		return Resolution{Mode: ModeArchiveRootAsDir, ArchivePath: physical, ZipMode: mode}, nil
	}
}

// normalizeZipMode defaults an empty ZipMode (zero value) to hierarchical
// rather than accidentally flattening.
func normalizeZipMode(mode config.ZipMode) config.ZipMode {
	if mode == "" {
		return config.ZipModeHierarchical
	}
	return mode
}

// ResolveArchiveSubpath resolves a path inside an already-identified
// archive (hierarchical browsing or descending into a flattened member's
// own internal structure, if any). Used by the FUSE layer once lookup has
// already reached an ModeArchiveRootAsDir or ModeArchiveMember node.
func (r *Resolver) ResolveArchiveSubpath(archivePath string, basMember string, subpath []string) (Resolution, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return Resolution{Mode: ModeNotFound}, nil
	}
	snap, err := r.archives.Open(archivePath, info.ModTime().UnixNano(), info.Size())
	if err != nil {
		return Resolution{Mode: ModeNotFound}, err
	}

	full := strings.Join(append(splitNonEmpty(basMember), subpath...), "/")
	size, isDir, found := snap.Stat(full)
	if !found {
		return Resolution{Mode: ModeNotFound}, nil
	}
	if isDir {
		return Resolution{Mode: ModeArchiveRootAsDir, ArchivePath: archivePath, MemberPath: full, ZipMode: config.ZipModeHierarchical}, nil
	}
	_ = size
	return Resolution{Mode: ModeArchiveMember, ArchivePath: archivePath, MemberPath: full}, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

func looksLikeArchive(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

func classifyPath(phys string) (Resolution, error) {
	info, err := os.Stat(phys)
	if err != nil {
		if os.IsNotExist(err) {
			return Resolution{Mode: ModeNotFound}, nil
		}
		return Resolution{Mode: ModeNotFound}, errors.NewError(errors.ErrCodeIoError, "stat failed").
			WithComponent("mapresolve").WithOperation("resolve").WithPath("", phys).WithCause(err)
	}
	if info.IsDir() {
		return Resolution{Mode: ModeRealDir, PhysicalPath: phys}, nil
	}
	return Resolution{Mode: ModeRealFile, PhysicalPath: phys}, nil
}
