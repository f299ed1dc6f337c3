// Package locate implements the Source Locator (§4.4): it turns a Map
// Resolver Resolution into a definite existence answer by stat-ing the
// physical filesystem or querying the Archive Index, feeding getattr,
// lookup and readdir.
package locate

import (
	"os"
	"time"

	"github.com/glennpegden2/transfs/internal/archive"
	"github.com/glennpegden2/transfs/internal/mapresolve"
	"github.com/glennpegden2/transfs/pkg/errors"
)

// Existence is the Source Locator's verdict for one Resolution.
type Existence struct {
	Found   bool
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Locator verifies Map Resolver candidates against the filesystem or the
// Archive Index.
type Locator struct {
	archives *archive.Index
}

// New builds a Locator sharing the process's Archive Index.
func New(archives *archive.Index) *Locator {
	return &Locator{archives: archives}
}

// Locate converts res into a definite existence answer. A missing
// physical file or directory is a normal negative result (Found=false),
// never an error; I/O errors on stat propagate as EIO (§4.4).
func (l *Locator) Locate(res mapresolve.Resolution) (Existence, error) {
	switch res.Mode {
	case mapresolve.ModeRealFile, mapresolve.ModeRealDir:
		return l.locateReal(res.PhysicalPath)
	case mapresolve.ModeArchiveMember:
		return l.locateArchiveMember(res.ArchivePath, res.MemberPath)
	case mapresolve.ModeArchiveRootAsDir:
		return l.locateArchiveDir(res.ArchivePath, res.MemberPath)
	case mapresolve.ModeSynthDir:
		return Existence{Found: true, IsDir: true}, nil
	default:
		return Existence{Found: false}, nil
	}
}

func (l *Locator) locateReal(physical string) (Existence, error) {
	info, err := os.Stat(physical)
	if err != nil {
		if os.IsNotExist(err) {
			return Existence{Found: false}, nil
		}
		if os.IsPermission(err) {
			return Existence{}, errors.NewError(errors.ErrCodePermissionDenied, "permission denied").
				WithComponent("locate").WithOperation("stat").WithPath("", physical).WithCause(err)
		}
		return Existence{}, errors.NewError(errors.ErrCodeIoError, "stat failed").
			WithComponent("locate").WithOperation("stat").WithPath("", physical).WithCause(err)
	}
	return Existence{Found: true, IsDir: info.IsDir(), Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (l *Locator) locateArchiveMember(archivePath, memberPath string) (Existence, error) {
	snap, err := l.openSnapshot(archivePath)
	if err != nil {
		return Existence{}, err
	}
	if snap == nil {
		return Existence{Found: false}, nil
	}
	size, isDir, found := snap.Stat(memberPath)
	if !found {
		return Existence{Found: false}, nil
	}
	archiveInfo, statErr := os.Stat(archivePath)
	modTime := time.Time{}
	if statErr == nil {
		modTime = archiveInfo.ModTime()
	}
	return Existence{Found: true, IsDir: isDir, Size: size, ModTime: modTime}, nil
}

func (l *Locator) locateArchiveDir(archivePath, subpath string) (Existence, error) {
	snap, err := l.openSnapshot(archivePath)
	if err != nil {
		return Existence{}, err
	}
	if snap == nil {
		return Existence{Found: false}, nil
	}
	if subpath != "" {
		_, isDir, found := snap.Stat(subpath)
		if !found || !isDir {
			return Existence{Found: false}, nil
		}
	}
	archiveInfo, statErr := os.Stat(archivePath)
	modTime := time.Time{}
	if statErr == nil {
		modTime = archiveInfo.ModTime()
	}
	return Existence{Found: true, IsDir: true, ModTime: modTime}, nil
}

func (l *Locator) openSnapshot(archivePath string) (*archive.Snapshot, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewError(errors.ErrCodeIoError, "stat failed").
			WithComponent("locate").WithOperation("stat").WithPath("", archivePath).WithCause(err)
	}
	snap, err := l.archives.Open(archivePath, info.ModTime().UnixNano(), info.Size())
	if err != nil {
		// The Index's error (MalformedArchive, including the open-circuit
		// case) is returned unchanged; it does not become a negative
		// result here.
		return nil, err
	}
	return snap, nil
}
