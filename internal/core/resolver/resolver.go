// Package resolver implements the version resolver (spec §4.4): a pure
// function over a Manifest and a catalog Snapshot that produces the
// concrete, content-addressed set of worlds a validation or generation
// job needs.
package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/archipelago-lobby/lobby/internal/core/catalog"
	"github.com/archipelago-lobby/lobby/internal/core/manifest"
)

// Triple is one resolved world selection (spec §3: "a set of {world_id,
// version, origin_digest}").
type Triple struct {
	WorldID      string
	Version      string
	OriginDigest string
}

// Resolved is the deterministic projection of (Manifest, Snapshot): spec
// §4.4 requires iteration order keyed by world_id ascending so downstream
// digests are stable, and spec §4.8 hangs manifest_snapshot_id off this
// same stable ordering.
type Resolved struct {
	Triples []Triple
}

// SnapshotID is a content-addressed id computed from the sorted triples
// (spec §4.8: "manifest_snapshot_id is a content-addressed id of the
// resolved manifest computed from the sorted (world_id, version, digest)
// tuples"). Because Resolve is pure, identical manifests collapse to the
// same id.
func (r Resolved) SnapshotID() string {
	h := sha256.New()
	for _, t := range r.Triples {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", t.WorldID, t.Version, t.OriginDigest)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Resolve reduces m against snap to a Resolved set, applying
// m.NewWorldPolicy to worlds absent from the manifest and each entry's
// VersionSpec to a concrete version (spec §4.4).
func Resolve(m manifest.Manifest, snap *catalog.Snapshot) (Resolved, error) {
	worldIDs := snap.SortedWorldIDs()

	effective := make(map[string]manifest.Entry, len(worldIDs))
	for _, worldID := range worldIDs {
		if entry, ok := m.Entries[worldID]; ok {
			if entry.Stale {
				continue
			}
			effective[worldID] = entry
			continue
		}
		switch m.NewWorldPolicy {
		case manifest.PolicyEnable:
			effective[worldID] = manifest.Entry{Enabled: true, Version: manifest.VersionSpec{Kind: manifest.SpecLatest}}
		default:
			effective[worldID] = manifest.Entry{Enabled: false}
		}
	}

	var triples []Triple
	for _, worldID := range worldIDs {
		entry, ok := effective[worldID]
		if !ok || !entry.Enabled || entry.Version.Kind == manifest.SpecDisabled {
			continue
		}

		world, ok := snap.World(worldID)
		if !ok {
			continue
		}

		version, origin, err := concretize(world, entry.Version)
		if err != nil {
			return Resolved{}, fmt.Errorf("resolve %s: %w", worldID, err)
		}
		if version == "" {
			continue // Disabled policy resolution, or no eligible version found
		}

		triples = append(triples, Triple{
			WorldID:      worldID,
			Version:      version,
			OriginDigest: originDigest(origin),
		})
	}

	return Resolved{Triples: triples}, nil
}

func concretize(world catalog.World, spec manifest.VersionSpec) (string, catalog.Origin, error) {
	switch spec.Kind {
	case manifest.SpecConcrete:
		origin, ok := world.Versions[spec.Concrete]
		if !ok {
			return "", catalog.Origin{}, fmt.Errorf("version %q not present in catalog", spec.Concrete)
		}
		return spec.Concrete, origin, nil
	case manifest.SpecLatest:
		return pickGreatest(world, func(catalog.Origin) bool { return true })
	case manifest.SpecLatestSupported:
		return pickGreatest(world, func(o catalog.Origin) bool { return o.Supported != nil })
	case manifest.SpecDisabled:
		return "", catalog.Origin{}, nil
	default:
		return "", catalog.Origin{}, fmt.Errorf("unknown version spec kind %q", spec.Kind)
	}
}

// pickGreatest returns the greatest semver version in world.Versions
// satisfying filter, breaking ties lexicographically (spec §3: "ties
// broken by lexicographic version string (never occurs for valid
// semvers)").
func pickGreatest(world catalog.World, filter func(catalog.Origin) bool) (string, catalog.Origin, error) {
	type candidate struct {
		raw string
		sv  *semver.Version
	}
	var candidates []candidate
	for raw, origin := range world.Versions {
		if !filter(origin) {
			continue
		}
		sv, err := semver.NewVersion(raw)
		if err != nil {
			return "", catalog.Origin{}, fmt.Errorf("invalid semver %q in catalog: %w", raw, err)
		}
		candidates = append(candidates, candidate{raw: raw, sv: sv})
	}
	if len(candidates) == 0 {
		return "", catalog.Origin{}, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		cmp := candidates[i].sv.Compare(candidates[j].sv)
		if cmp != 0 {
			return cmp > 0
		}
		return candidates[i].raw > candidates[j].raw
	})

	best := candidates[0]
	return best.raw, world.Versions[best.raw], nil
}

func originDigest(o catalog.Origin) string {
	switch {
	case o.Unsupported != nil && o.Unsupported.Digest != "":
		return o.Unsupported.Digest
	case o.Unsupported != nil:
		sum := sha256.Sum256([]byte(o.Unsupported.URL))
		return hex.EncodeToString(sum[:])
	case o.Supported != nil:
		sum := sha256.Sum256([]byte(o.Supported.Path))
		return hex.EncodeToString(sum[:])
	default:
		return ""
	}
}
