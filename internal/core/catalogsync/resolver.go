package catalogsync

import "fmt"

// SnapshotResolver adapts a Syncer's current catalog.Snapshot to
// blobcache.Resolver, so the blob cache always resolves downloads against
// whatever index state is currently live rather than a frozen copy taken
// at startup.
type SnapshotResolver struct {
	syncer *Syncer
}

// NewSnapshotResolver builds a SnapshotResolver over syncer.
func NewSnapshotResolver(syncer *Syncer) *SnapshotResolver {
	return &SnapshotResolver{syncer: syncer}
}

// ResolveURL looks up worldID/version in the syncer's current snapshot.
// Only UnsupportedOrigin versions carry a download URL — a Supported
// origin is built in-tree rather than fetched, so it has none.
func (r *SnapshotResolver) ResolveURL(worldID, version string) (string, error) {
	snap := r.syncer.Snapshot()
	if snap == nil {
		return "", fmt.Errorf("catalog not yet synced")
	}
	world, ok := snap.World(worldID)
	if !ok {
		return "", fmt.Errorf("world %q not in catalog", worldID)
	}
	origin, ok := world.Versions[version]
	if !ok {
		return "", fmt.Errorf("version %q not in catalog for %q", version, worldID)
	}
	if origin.Unsupported == nil {
		return "", fmt.Errorf("%s@%s has no downloadable origin", worldID, version)
	}
	return origin.Unsupported.URL, nil
}
