// Package pathparse splits an absolute virtual path into the tuple the Map
// Resolver needs: (client, system, map-entry, subpath) (§4.1). It never
// touches the physical filesystem; unknown client/system segments are
// reported as NotFound so the FUSE boundary can translate them to ENOENT
// without a stat call.
package pathparse

import (
	"strings"

	"github.com/glennpegden2/transfs/internal/config"
)

// Kind distinguishes the four shapes a parsed path can take, plus
// KindNotFound for a path that matches none of them.
type Kind int

const (
	KindRoot Kind = iota
	KindClientOnly
	KindSystemOnly
	KindInSystem
	KindNotFound
)

// Parsed is the result of splitting a virtual path against a loaded
// configuration.
type Parsed struct {
	Kind        Kind
	Client      string
	System      string
	MapEntry    string
	Subpath     []string
}

// Parser resolves the first three path segments against the Clients
// document. It holds no mutable state; Config is immutable after load
// (§3), so a Parser is safe for concurrent use by many FUSE goroutines.
type Parser struct {
	cfg *config.Config
}

// New builds a Parser over an already-loaded, validated configuration.
func New(cfg *config.Config) *Parser {
	return &Parser{cfg: cfg}
}

// Parse splits path on '/', ignoring empty/leading segments, and matches
// segment 1 against a Client name and segment 2 against one of that
// Client's System names, both exact (case-sensitive). Segment 3 is handed
// to the Map Resolver's judgment (it may be a static/default map key or a
// dynamic virtual folder name) and is returned unresolved as MapEntry; this
// package only verifies segments 1 and 2.
func (p *Parser) Parse(path string) Parsed {
	segments := splitPath(path)
	if len(segments) == 0 {
		return Parsed{Kind: KindRoot}
	}

	client := p.findClient(segments[0])
	if client == nil {
		return Parsed{Kind: KindNotFound}
	}
	if len(segments) == 1 {
		return Parsed{Kind: KindClientOnly, Client: client.Name}
	}

	system := findSystem(client, segments[1])
	if system == nil {
		return Parsed{Kind: KindNotFound}
	}
	if len(segments) == 2 {
		return Parsed{Kind: KindSystemOnly, Client: client.Name, System: system.Name}
	}

	return Parsed{
		Kind:     KindInSystem,
		Client:   client.Name,
		System:   system.Name,
		MapEntry: segments[2],
		Subpath:  segments[3:],
	}
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (p *Parser) findClient(name string) *config.Client {
	for i := range p.cfg.Clients {
		if p.cfg.Clients[i].Name == name {
			return &p.cfg.Clients[i]
		}
	}
	return nil
}

func findSystem(client *config.Client, name string) *config.System {
	for i := range client.Systems {
		if client.Systems[i].Name == name {
			return &client.Systems[i]
		}
	}
	return nil
}

// FindMapEntry looks up a System's MapEntry by exact name. The Map Resolver
// uses this once it knows which System a path falls under; dynamic virtual
// folder names are matched separately by the resolver against each
// MapEntryDynamic's FileTypeFolder list, since those names are not stored
// as top-level MapEntry.Name values.
func FindMapEntry(system *config.System, name string) *config.MapEntry {
	for i := range system.Maps {
		if system.Maps[i].Name == name {
			return &system.Maps[i]
		}
	}
	return nil
}
