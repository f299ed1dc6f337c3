// Package config loads and validates the three TransFS configuration
// documents: App, Clients and Sources (§6.3). Clients/Systems/MapEntry are
// parsed once at startup into the tagged MapEntry variant of §3; downstream
// code pattern-matches on MapEntry.Kind instead of re-inspecting raw YAML
// shape.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// ZipMode is the archive-transparency presentation policy for a dynamic
// SoftwareArchives entry (§4.3).
type ZipMode string

const (
	ZipModeFlatten      ZipMode = "flatten"
	ZipModeHierarchical ZipMode = "hierarchical"
)

// MapEntryKind distinguishes the four MapEntry variants of §3.
type MapEntryKind int

const (
	MapEntryStatic MapEntryKind = iota
	MapEntryDefaultSource
	MapEntryDynamic
	MapEntryDirectMount
)

func (k MapEntryKind) String() string {
	switch k {
	case MapEntryStatic:
		return "static"
	case MapEntryDefaultSource:
		return "default_source"
	case MapEntryDynamic:
		return "dynamic"
	case MapEntryDirectMount:
		return "direct_mount"
	default:
		return "unknown"
	}
}

// ExtensionSpec is one entry of a FileTypeMap folder: either a bare
// extension or a SRC:VIRT alias pair (§3).
type ExtensionSpec struct {
	SourceExt string
	VirtExt   string // equals SourceExt when there is no alias
}

// Aliased reports whether this spec renames the extension on the virtual side.
func (e ExtensionSpec) Aliased() bool {
	return !strings.EqualFold(e.SourceExt, e.VirtExt)
}

func parseExtensionSpec(raw string) (ExtensionSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ExtensionSpec{}, fmt.Errorf("empty extension spec")
	}
	if strings.Count(raw, ":") > 1 {
		return ExtensionSpec{}, fmt.Errorf("extension alias %q is not single-level", raw)
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) == 1 {
		ext := strings.ToUpper(parts[0])
		return ExtensionSpec{SourceExt: ext, VirtExt: ext}, nil
	}
	return ExtensionSpec{
		SourceExt: strings.ToUpper(strings.TrimSpace(parts[0])),
		VirtExt:   strings.ToUpper(strings.TrimSpace(parts[1])),
	}, nil
}

// FileTypeFolder is one (virtual_folder_name, [extension-spec]) pair of a
// FileTypeMap (§3).
type FileTypeFolder struct {
	VirtualFolder string
	Extensions    []ExtensionSpec
}

// MapEntry is a single rule describing how one virtual child of a System is
// produced. Exactly the fields relevant to Kind are populated; callers
// switch on Kind rather than inferring shape from zero values.
type MapEntry struct {
	Name string
	Kind MapEntryKind

	// MapEntryStatic
	SourceDir string

	// MapEntryDefaultSource
	SourceFile string
	// ZipMembers, when non-empty, lists member names enumerated under a
	// `files: { X: {zip: unzip} }` hint (Open Question 2: bounded to one
	// level — see DESIGN.md).
	ZipMembers []string

	// MapEntryDynamic
	DynSourceDir   string
	SupportsZip    bool
	ZipModeVal     ZipMode
	FileTypeFolder []FileTypeFolder

	// MapEntryDirectMount
	MountSourceDir  string
	MountSupportsZip bool
	MountZipMode     ZipMode
}

// System identifies one emulated platform under a Client (§3).
type System struct {
	Name                string
	Manufacturer        string
	CanonicalSystemName string
	LocalBasePath       string
	Maps                []MapEntry
}

// Client is a named downstream consumer of the virtual tree (§3).
type Client struct {
	Name               string
	DefaultTargetPath  string
	Systems            []System
}

// ClientsDocument is the second of the three configuration documents
// (§6.3): the list of Clients with nested Systems and MapEntries.
type ClientsDocument struct {
	Clients []Client
}

// AppConfig is the first configuration document (§6.3): mountpoint,
// filestore root and optional cache directory.
type AppConfig struct {
	MountPoint    string `yaml:"mountpoint"`
	FilestorePath string `yaml:"filestore_path"`
	CacheDir      string `yaml:"cache_dir"`
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	MetricsAddr   string `yaml:"metrics_addr"`
	MaxConcurrency int   `yaml:"max_concurrency"`
	ListingCacheEntries int `yaml:"listing_cache_entries"`
}

// SourcesDocument is the third configuration document (§6.3). It is parsed
// so that Load can validate the overall YAML and report line-referenced
// structural errors, but the core never consumes it: the acquisition
// subsystem that reads it is out of scope (§1).
type SourcesDocument struct {
	Raw map[string]interface{} `yaml:",inline"`
}

// Config is the fully parsed, immutable-after-load configuration handed to
// internal/core. Clients is already validated and normalised.
type Config struct {
	App     AppConfig
	Clients []Client
	Sources SourcesDocument
}

// rawYAML mirrors the on-disk shapes closely enough for yaml.v2 to unmarshal
// before the tagged-variant normalisation pass runs.
type rawSystem struct {
	Name                string                 `yaml:"name"`
	Manufacturer        string                 `yaml:"manufacturer"`
	CanonicalSystemName string                 `yaml:"canonical_system_name"`
	LocalBasePath       string                 `yaml:"local_base_path"`
	Maps                map[string]interface{} `yaml:"maps"`
}

type rawClient struct {
	Name              string      `yaml:"name"`
	DefaultTargetPath string      `yaml:"default_target_path"`
	Systems           []rawSystem `yaml:"systems"`
}

type rawClientsDoc struct {
	Clients []rawClient `yaml:"clients"`
}

// DefaultAppConfig returns sensible defaults for the App document.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		MountPoint:          "/mnt/transfs",
		FilestorePath:       "/srv/filestore/Native",
		CacheDir:            "/var/cache/transfs",
		LogLevel:            "INFO",
		MetricsAddr:         "localhost:8080",
		MaxConcurrency:      150,
		ListingCacheEntries: 100000,
	}
}

// Load reads and merges the three configuration documents and returns a
// validated Config. appPath, clientsPath and sourcesPath may point at the
// same file if the deployment concatenates all three documents, but in the
// common case each is its own YAML file.
func Load(appPath, clientsPath, sourcesPath string) (*Config, error) {
	app := DefaultAppConfig()
	if appPath != "" {
		data, err := os.ReadFile(appPath)
		if err != nil {
			return nil, fmt.Errorf("reading app config %s: %w", appPath, err)
		}
		if err := yaml.Unmarshal(data, &app); err != nil {
			return nil, fmt.Errorf("parsing app config %s: %w", appPath, err)
		}
	}
	app.applyEnv()

	var rawClients rawClientsDoc
	if clientsPath != "" {
		data, err := os.ReadFile(clientsPath)
		if err != nil {
			return nil, fmt.Errorf("reading clients config %s: %w", clientsPath, err)
		}
		if err := yaml.Unmarshal(data, &rawClients); err != nil {
			return nil, fmt.Errorf("parsing clients config %s: %w", clientsPath, err)
		}
	}

	clients, err := normalizeClients(rawClients)
	if err != nil {
		return nil, err
	}

	var sources SourcesDocument
	if sourcesPath != "" {
		data, err := os.ReadFile(sourcesPath)
		if err != nil {
			return nil, fmt.Errorf("reading sources config %s: %w", sourcesPath, err)
		}
		// Unknown fields are ignored (§6.3); this document is parsed only
		// far enough to catch malformed YAML, never consumed beyond that.
		if err := yaml.Unmarshal(data, &sources.Raw); err != nil {
			return nil, fmt.Errorf("parsing sources config %s: %w", sourcesPath, err)
		}
	}

	cfg := &Config{App: app, Clients: clients, Sources: sources}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *AppConfig) applyEnv() {
	if v := os.Getenv("TRANSFS_MOUNTPOINT"); v != "" {
		a.MountPoint = v
	}
	if v := os.Getenv("TRANSFS_FILESTORE_PATH"); v != "" {
		a.FilestorePath = v
	}
	if v := os.Getenv("TRANSFS_CACHE_DIR"); v != "" {
		a.CacheDir = v
	}
	if v := os.Getenv("TRANSFS_LOG_LEVEL"); v != "" {
		a.LogLevel = v
	}
	if v := os.Getenv("TRANSFS_METRICS_ADDR"); v != "" {
		a.MetricsAddr = v
	}
	if v := os.Getenv("TRANSFS_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			a.MaxConcurrency = n
		}
	}
}

// normalizeClients converts the loosely-typed YAML map shapes into the
// tagged MapEntry variant, classifying each map entry by the fields present
// (§9 "Dynamic typing / heterogeneous config").
func normalizeClients(doc rawClientsDoc) ([]Client, error) {
	seenClients := make(map[string]bool)
	clients := make([]Client, 0, len(doc.Clients))

	for ci, rc := range doc.Clients {
		if rc.Name == "" {
			return nil, fmt.Errorf("clients[%d]: missing name", ci)
		}
		if seenClients[rc.Name] {
			return nil, fmt.Errorf("clients[%d]: duplicate client name %q", ci, rc.Name)
		}
		seenClients[rc.Name] = true

		seenSystems := make(map[string]bool)
		systems := make([]System, 0, len(rc.Systems))
		for si, rs := range rc.Systems {
			if rs.Name == "" {
				return nil, fmt.Errorf("clients[%d].systems[%d]: missing name", ci, si)
			}
			if seenSystems[rs.Name] {
				return nil, fmt.Errorf("clients[%d].systems[%d]: duplicate system name %q", ci, si, rs.Name)
			}
			seenSystems[rs.Name] = true

			maps, err := normalizeMaps(rs.Maps)
			if err != nil {
				return nil, fmt.Errorf("clients[%d].systems[%d] (%s): %w", ci, si, rs.Name, err)
			}

			systems = append(systems, System{
				Name:                rs.Name,
				Manufacturer:        rs.Manufacturer,
				CanonicalSystemName: rs.CanonicalSystemName,
				LocalBasePath:       rs.LocalBasePath,
				Maps:                maps,
			})
		}

		clients = append(clients, Client{
			Name:              rc.Name,
			DefaultTargetPath: rc.DefaultTargetPath,
			Systems:           systems,
		})
	}
	return clients, nil
}

// normalizeMaps classifies each raw map-entry value by the keys present
// into the four MapEntry variants and enforces uniqueness of the resulting
// top-level virtual names (invariant (b) of §3).
func normalizeMaps(raw map[string]interface{}) ([]MapEntry, error) {
	seen := make(map[string]bool)
	entries := make([]MapEntry, 0, len(raw))

	for name, v := range raw {
		m, ok := v.(map[interface{}]interface{})
		if !ok {
			return nil, fmt.Errorf("map entry %q: expected mapping, got %T", name, v)
		}
		entry, folders, err := classifyMapEntry(name, m)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("map entry %q: duplicate virtual name after normalisation", name)
		}
		seen[key] = true
		for _, f := range folders {
			fk := strings.ToLower(f)
			if seen[fk] {
				return nil, fmt.Errorf("dynamic entry %q: virtual folder %q collides with another top-level name", name, f)
			}
			seen[fk] = true
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func classifyMapEntry(name string, m map[interface{}]interface{}) (MapEntry, []string, error) {
	get := func(k string) (interface{}, bool) {
		v, ok := m[k]
		return v, ok
	}

	if v, ok := get("source_dir"); ok {
		if _, hasExts := get("extensions"); hasExts {
			return classifyDynamic(name, m)
		}
		if _, hasMount := get("mount"); hasMount {
			return classifyDirectMount(name, m, v)
		}
		dir, _ := v.(string)
		return MapEntry{Name: name, Kind: MapEntryStatic, SourceDir: dir}, nil, nil
	}

	if v, ok := get("source_file"); ok {
		file, _ := v.(string)
		entry := MapEntry{Name: name, Kind: MapEntryDefaultSource, SourceFile: file}
		if filesRaw, ok := get("files"); ok {
			members, err := parseDefaultSourceFiles(name, filesRaw)
			if err != nil {
				return MapEntry{}, nil, err
			}
			entry.ZipMembers = members
		}
		return entry, nil, nil
	}

	return MapEntry{}, nil, fmt.Errorf("map entry %q: unrecognised shape (expected source_dir or source_file)", name)
}

func classifyDynamic(name string, m map[interface{}]interface{}) (MapEntry, []string, error) {
	srcDir, _ := m["source_dir"].(string)
	supportsZip, _ := m["supports_zip"].(bool)
	zipMode := ZipModeHierarchical
	if v, ok := m["zip_mode"]; ok {
		if s, ok := v.(string); ok {
			switch strings.ToLower(s) {
			case "flatten":
				zipMode = ZipModeFlatten
			case "hierarchical":
				zipMode = ZipModeHierarchical
			default:
				return MapEntry{}, nil, fmt.Errorf("dynamic entry %q: invalid zip_mode %q", name, s)
			}
		}
	}

	extsRaw, _ := m["extensions"].(map[interface{}]interface{})
	folders := make([]FileTypeFolder, 0, len(extsRaw))
	folderNames := make([]string, 0, len(extsRaw))
	for fname, fexts := range extsRaw {
		folderName, _ := fname.(string)
		list, ok := fexts.([]interface{})
		if !ok {
			return MapEntry{}, nil, fmt.Errorf("dynamic entry %q folder %q: expected a list of extensions", name, folderName)
		}
		specs := make([]ExtensionSpec, 0, len(list))
		for _, raw := range list {
			s, _ := raw.(string)
			spec, err := parseExtensionSpec(s)
			if err != nil {
				return MapEntry{}, nil, fmt.Errorf("dynamic entry %q folder %q: %w", name, folderName, err)
			}
			specs = append(specs, spec)
		}
		folders = append(folders, FileTypeFolder{VirtualFolder: folderName, Extensions: specs})
		folderNames = append(folderNames, folderName)
	}

	return MapEntry{
		Name:           name,
		Kind:           MapEntryDynamic,
		DynSourceDir:   srcDir,
		SupportsZip:    supportsZip,
		ZipModeVal:     zipMode,
		FileTypeFolder: folders,
	}, folderNames, nil
}

func classifyDirectMount(name string, m map[interface{}]interface{}, sourceDir interface{}) (MapEntry, []string, error) {
	dir, _ := sourceDir.(string)
	supportsZip, _ := m["supports_zip"].(bool)
	zipMode := ZipModeHierarchical
	if v, ok := m["zip_mode"].(string); ok && strings.EqualFold(v, "flatten") {
		zipMode = ZipModeFlatten
	}
	return MapEntry{
		Name:             name,
		Kind:             MapEntryDirectMount,
		MountSourceDir:   dir,
		MountSupportsZip: supportsZip,
		MountZipMode:     zipMode,
	}, nil, nil
}

// parseDefaultSourceFiles parses a `files: { X: {zip: unzip} }` hint.
// Nesting a zip hint inside a per-member hint is rejected (Open Question 2,
// resolved to one level of unpacking — see DESIGN.md).
func parseDefaultSourceFiles(entryName string, raw interface{}) ([]string, error) {
	m, ok := raw.(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("default_source entry %q: files must be a mapping", entryName)
	}
	members := make([]string, 0, len(m))
	for k, v := range m {
		member, _ := k.(string)
		hint, ok := v.(map[interface{}]interface{})
		if !ok {
			return nil, fmt.Errorf("default_source entry %q member %q: expected a hint mapping", entryName, member)
		}
		if _, nested := hint["zip"]; nested {
			if _, nestedAgain := hint["files"]; nestedAgain {
				return nil, fmt.Errorf("default_source entry %q member %q: nested zip hint is not supported (one level only)", entryName, member)
			}
		}
		members = append(members, member)
	}
	return members, nil
}

// Validate checks structural invariants not already enforced during
// normalisation and reports the first violation with enough context to
// locate it (§6.3 "structural errors fail startup with a line-referenced
// message" — client/system/map names substitute for line numbers since
// yaml.v2 does not expose them).
func (c *Config) Validate() error {
	if c.App.MountPoint == "" {
		return fmt.Errorf("app config: mountpoint is required")
	}
	if c.App.FilestorePath == "" {
		return fmt.Errorf("app config: filestore_path is required")
	}
	if c.App.MaxConcurrency <= 0 {
		return fmt.Errorf("app config: max_concurrency must be greater than 0")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	ok := false
	for _, lvl := range validLogLevels {
		if strings.EqualFold(c.App.LogLevel, lvl) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("app config: invalid log_level %q (must be one of: %s)", c.App.LogLevel, strings.Join(validLogLevels, ", "))
	}

	for _, client := range c.Clients {
		for _, sys := range client.Systems {
			if sys.LocalBasePath == "" {
				return fmt.Errorf("client %q system %q: local_base_path is required", client.Name, sys.Name)
			}
			if strings.Contains(sys.LocalBasePath, "..") {
				return fmt.Errorf("client %q system %q: local_base_path must not contain '..'", client.Name, sys.Name)
			}
			for _, me := range sys.Maps {
				if err := validateMapEntry(client.Name, sys.Name, me); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func validateMapEntry(clientName, systemName string, me MapEntry) error {
	path := func(p string) string {
		return fmt.Sprintf("client %q system %q map %q: %s", clientName, systemName, me.Name, p)
	}
	switch me.Kind {
	case MapEntryStatic:
		if me.SourceDir == "" {
			return fmt.Errorf(path("static entry requires source_dir"))
		}
		if strings.Contains(me.SourceDir, "..") {
			return fmt.Errorf(path("source_dir must not contain '..'"))
		}
	case MapEntryDefaultSource:
		if me.SourceFile == "" {
			return fmt.Errorf(path("default_source entry requires source_file"))
		}
	case MapEntryDynamic:
		if me.DynSourceDir == "" {
			return fmt.Errorf(path("dynamic entry requires source_dir"))
		}
		if len(me.FileTypeFolder) == 0 {
			return fmt.Errorf(path("dynamic entry requires at least one extensions folder"))
		}
		for _, f := range me.FileTypeFolder {
			if f.VirtualFolder == "" {
				return fmt.Errorf(path("extensions folder name must not be empty"))
			}
			if len(f.Extensions) == 0 {
				return fmt.Errorf(path(fmt.Sprintf("folder %q requires at least one extension", f.VirtualFolder)))
			}
		}
	case MapEntryDirectMount:
		if me.MountSourceDir == "" {
			return fmt.Errorf(path("direct_mount entry requires source_dir"))
		}
	default:
		return fmt.Errorf(path("unknown map entry kind"))
	}
	return nil
}

// Save writes the App document back to disk, used by operational tooling
// to persist defaults merged with environment overrides.
func (a AppConfig) Save(filename string) error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling app config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("writing app config: %w", err)
	}
	return nil
}
