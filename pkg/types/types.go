package types

import "time"

// EntryKind distinguishes the backing nature of a virtual filesystem entry
// (the InodeEntry.kind variants of the resolver design).
type EntryKind int

const (
	KindRealFile EntryKind = iota
	KindRealDir
	KindSynthDir
	KindZipDir
	KindZipMember
)

// String returns a human-readable label, used in logs and metrics labels.
func (k EntryKind) String() string {
	switch k {
	case KindRealFile:
		return "real_file"
	case KindRealDir:
		return "real_dir"
	case KindSynthDir:
		return "synth_dir"
	case KindZipDir:
		return "zip_dir"
	case KindZipMember:
		return "zip_member"
	default:
		return "unknown"
	}
}

// DirEntry is one entry in a materialised virtual directory listing, as
// produced by the Directory Listing Engine (internal/listing).
type DirEntry struct {
	Name        string    `json:"name"`
	Kind        EntryKind `json:"kind"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	Physical    string    `json:"physical,omitempty"`
	ArchivePath string    `json:"archive_path,omitempty"`
	MemberPath  string    `json:"member_path,omitempty"`
}

// CacheStats is reported by the Listing Cache and the Archive Index cache.
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// HealthStatus represents the health status of a single subsystem.
type HealthStatus struct {
	Status     string            `json:"status"`
	LastCheck  time.Time         `json:"last_check"`
	Response   time.Duration     `json:"response_time"`
	ErrorCount int64             `json:"error_count"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details"`
}

// FileMetadata is the POSIX-facing metadata returned from getattr, shared by
// real and synthesised entries alike.
type FileMetadata struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	Mode       uint32    `json:"mode"`
	UID        uint32    `json:"uid"`
	GID        uint32    `json:"gid"`
	AccessTime time.Time `json:"atime"`
	ModifyTime time.Time `json:"mtime"`
	ChangeTime time.Time `json:"ctime"`
	IsDir      bool      `json:"is_dir"`
	Inode      uint64    `json:"inode"`
}

// PerformanceMetrics is the periodic snapshot surfaced by the monitoring API.
type PerformanceMetrics struct {
	Timestamp       time.Time     `json:"timestamp"`
	ReadThroughput  float64       `json:"read_throughput"`
	ReadLatency     time.Duration `json:"read_latency"`
	LookupLatency   time.Duration `json:"lookup_latency"`
	CacheHitRate    float64       `json:"cache_hit_rate"`
	OpenHandles     int64         `json:"open_handles"`
	PendingRequests int64         `json:"pending_requests"`
	ErrorRate       float64       `json:"error_rate"`
}
