// Package catalog implements the index loader (spec §4.2): it parses a
// working tree of TOML descriptors into an immutable in-memory snapshot.
// It never touches the network — that is catalogsync's job.
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"

	"github.com/archipelago-lobby/lobby/internal/core"
)

// DefaultVersionPolicy names the special default_version values a world
// descriptor may use instead of a concrete semver (spec §3).
type DefaultVersionPolicy string

const (
	PolicyLatest          DefaultVersionPolicy = "latest"
	PolicyLatestSupported DefaultVersionPolicy = "latest_supported"
	PolicyDisabled        DefaultVersionPolicy = "disabled"
)

// Origin describes where a specific world version's archive comes from.
// Exactly one of Supported/Unsupported is populated.
type Origin struct {
	Supported   *SupportedOrigin
	Unsupported *UnsupportedOrigin
}

// SupportedOrigin is a version built in-tree from the upstream game repo.
type SupportedOrigin struct {
	Path    string
	Patches []string
}

// UnsupportedOrigin is a version fetched from an arbitrary URL.
type UnsupportedOrigin struct {
	URL    string
	Digest string
}

// World is one descriptor's parsed, validated result (spec §3 World record).
type World struct {
	ID             string
	DisplayName    string
	Home           string
	DefaultURL     string
	DefaultVersion string // a DefaultVersionPolicy value, or a key of Versions
	Versions       map[string]Origin
}

// Snapshot is the immutable catalog produced by Load (spec §3 Catalog
// snapshot): "readers see a consistent snapshot; swaps do not tear".
type Snapshot struct {
	Worlds map[string]World
}

// World looks up a world by id.
func (s *Snapshot) World(id string) (World, bool) {
	w, ok := s.Worlds[id]
	return w, ok
}

// worldFile mirrors the per-world TOML descriptor from spec §4.2:
//
//	name = "...", home = "...", default_url = ".../{{version}}/...",
//	default_version = "<semver>|latest|latest_supported|disabled"
//	[versions."X.Y.Z"] url = ...
type worldFile struct {
	Name           string                    `toml:"name"`
	Home           string                    `toml:"home"`
	DefaultURL     string                    `toml:"default_url"`
	DefaultVersion string                    `toml:"default_version"`
	Versions       map[string]versionEntry   `toml:"versions"`
}

type versionEntry struct {
	URL     string   `toml:"url"`
	Digest  string   `toml:"digest"`
	Path    string   `toml:"path"`
	Patches []string `toml:"patches"`
}

// indexFile is the index-level descriptor: homepage plus an optional
// upstream game repository pin (spec §4.2).
type indexFile struct {
	Home          string `toml:"home"`
	UpstreamRepo  string `toml:"upstream_repo"`
	UpstreamVer   string `toml:"upstream_version"`
}

// Load parses dir (the index descriptor plus a subdirectory of per-world
// descriptors) into a Snapshot. Unknown TOML fields are rejected; every
// version key must be a valid semver (spec §4.2: "strict parsing").
func Load(dir string) (*Snapshot, error) {
	const op = "catalog.load"

	indexPath := filepath.Join(dir, "index.toml")
	if _, err := os.Stat(indexPath); err == nil {
		data, err := os.ReadFile(indexPath)
		if err != nil {
			return nil, core.NewError(core.KindCorrupt, op, "read index descriptor", err)
		}
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		var idx indexFile
		if err := dec.Decode(&idx); err != nil {
			return nil, core.NewError(core.KindCorrupt, op, "parse index descriptor", err)
		}
	}

	worldsDir := filepath.Join(dir, "worlds")
	entries, err := os.ReadDir(worldsDir)
	if err != nil {
		return nil, core.NewError(core.KindCorrupt, op, "read worlds directory", err)
	}

	worlds := make(map[string]World, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}
		world, err := loadWorldFile(filepath.Join(worldsDir, entry.Name()))
		if err != nil {
			return nil, core.NewError(core.KindCorrupt, op, fmt.Sprintf("load world %s", entry.Name()), err)
		}
		worlds[world.ID] = world
	}

	return &Snapshot{Worlds: worlds}, nil
}

func loadWorldFile(path string) (World, error) {
	id := fileStem(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return World{}, err
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var wf worldFile
	if err := dec.Decode(&wf); err != nil {
		return World{}, fmt.Errorf("decode: %w", err)
	}

	versions := make(map[string]Origin, len(wf.Versions))
	for key, v := range wf.Versions {
		if _, err := semver.NewVersion(key); err != nil {
			return World{}, fmt.Errorf("version key %q is not valid semver: %w", key, err)
		}
		switch {
		case v.Path != "":
			versions[key] = Origin{Supported: &SupportedOrigin{Path: v.Path, Patches: v.Patches}}
		case v.URL != "":
			versions[key] = Origin{Unsupported: &UnsupportedOrigin{URL: v.URL, Digest: v.Digest}}
		default:
			return World{}, fmt.Errorf("version %q declares neither path nor url", key)
		}
	}

	switch wf.DefaultVersion {
	case string(PolicyLatest), string(PolicyLatestSupported), string(PolicyDisabled):
		// valid policy keyword
	default:
		if _, ok := versions[wf.DefaultVersion]; !ok {
			return World{}, fmt.Errorf("default_version %q is neither a policy keyword nor a declared version", wf.DefaultVersion)
		}
	}

	return World{
		ID:             id,
		DisplayName:    wf.Name,
		Home:           wf.Home,
		DefaultURL:     wf.DefaultURL,
		DefaultVersion: wf.DefaultVersion,
		Versions:       versions,
	}, nil
}

func fileStem(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

// SortedWorldIDs returns every world id in ascending order, matching the
// resolver's stable iteration requirement (spec §4.4).
func (s *Snapshot) SortedWorldIDs() []string {
	ids := make([]string, 0, len(s.Worlds))
	for id := range s.Worlds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
