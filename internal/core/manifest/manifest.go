// Package manifest implements the manifest store (spec §4.5): CRUD over
// each room's declared world selection, persisted relationally and
// re-parsed from form-encoded field groups on submit.
package manifest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"encoding/json"

	"github.com/archipelago-lobby/lobby/internal/core"
	"github.com/archipelago-lobby/lobby/internal/database/postgres"
)

// NewWorldPolicy controls how worlds added to the catalog after a
// manifest was last edited are treated (spec §4.4).
type NewWorldPolicy string

const (
	PolicyEnable  NewWorldPolicy = "enable"
	PolicyDisable NewWorldPolicy = "disable"
)

// VersionSpec is spec §3's VersionSpec sum type: Concrete(SemVer) | Latest
// | LatestSupported | Disabled.
type VersionSpec struct {
	Kind     VersionSpecKind
	Concrete string // populated iff Kind == SpecConcrete
}

type VersionSpecKind string

const (
	SpecConcrete        VersionSpecKind = "concrete"
	SpecLatest          VersionSpecKind = "latest"
	SpecLatestSupported VersionSpecKind = "latest_supported"
	SpecDisabled        VersionSpecKind = "disabled"
)

// Entry is one world's selection within a manifest.
type Entry struct {
	Enabled bool
	Version VersionSpec
	Stale   bool // world_id no longer exists in the catalog snapshot (spec §3)
}

// Manifest is spec §3's Manifest entity for one room.
type Manifest struct {
	RoomID        string
	NewWorldPolicy NewWorldPolicy
	Entries       map[string]Entry
	UpdatedAt     time.Time
}

// Scope discriminates a room's own manifest from a room_templates entry
// sharing the same storage and CRUD contract (spec §4.5: "Templated
// (room_templates) manifests follow identical contracts").
type Scope string

const (
	ScopeRoom     Scope = "room"
	ScopeTemplate Scope = "template"
)

// jsonEntry/jsonManifest are the JSONB wire shape stored in the manifests
// table's entries column.
type jsonEntry struct {
	Enabled bool   `json:"enabled"`
	Kind    string `json:"kind"`
	Version string `json:"version,omitempty"`
	Stale   bool   `json:"stale,omitempty"`
}

// Store is the relational CRUD layer over manifests (spec §4.5).
type Store struct {
	db postgres.DatabaseConnection
}

// NewStore builds a Store against db.
func NewStore(db postgres.DatabaseConnection) *Store {
	return &Store{db: db}
}

// Get loads the room-scoped manifest for roomID, or a zero-value Manifest
// with PolicyEnable and no entries if none has been saved yet.
func (s *Store) Get(ctx context.Context, roomID string) (Manifest, error) {
	return s.getScoped(ctx, roomID, ScopeRoom)
}

// Put writes m atomically under the room scope, replacing any prior
// manifest for the room.
func (s *Store) Put(ctx context.Context, m Manifest) error {
	return s.putScoped(ctx, m, ScopeRoom)
}

// GetTemplate loads the room_templates manifest identified by templateID,
// using the same zero-value fallback as Get (spec §4.5).
func (s *Store) GetTemplate(ctx context.Context, templateID string) (Manifest, error) {
	return s.getScoped(ctx, templateID, ScopeTemplate)
}

// PutTemplate writes m under the template scope, keyed by m.RoomID (the
// template's identifier).
func (s *Store) PutTemplate(ctx context.Context, m Manifest) error {
	return s.putScoped(ctx, m, ScopeTemplate)
}

// NewRoomFromTemplate seeds roomID's manifest by copying templateID's
// room_templates entry, then persists it under the room scope. Callers use
// this when a room is created against a configured template rather than
// starting from an empty manifest.
func (s *Store) NewRoomFromTemplate(ctx context.Context, roomID, templateID string) (Manifest, error) {
	tmpl, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{RoomID: roomID, NewWorldPolicy: tmpl.NewWorldPolicy, Entries: tmpl.Entries}
	if err := s.Put(ctx, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (s *Store) getScoped(ctx context.Context, id string, scope Scope) (Manifest, error) {
	const op = "manifest.get"

	var policy string
	var entriesJSON []byte
	var updatedAt time.Time
	row := s.db.QueryRow(ctx,
		`SELECT new_world_policy, entries, updated_at FROM manifests WHERE room_id = $1 AND scope = $2`,
		id, string(scope))
	switch err := row.Scan(&policy, &entriesJSON, &updatedAt); {
	case err == nil:
		entries, err := decodeEntries(entriesJSON)
		if err != nil {
			return Manifest{}, core.NewError(core.KindCorrupt, op, "decode stored entries", err)
		}
		return Manifest{RoomID: id, NewWorldPolicy: NewWorldPolicy(policy), Entries: entries, UpdatedAt: updatedAt}, nil
	default:
		return Manifest{RoomID: id, NewWorldPolicy: PolicyEnable, Entries: map[string]Entry{}}, nil
	}
}

func (s *Store) putScoped(ctx context.Context, m Manifest, scope Scope) error {
	const op = "manifest.put"

	data, err := encodeEntries(m.Entries)
	if err != nil {
		return core.NewError(core.KindInternal, op, "encode entries", err)
	}

	now := time.Now()
	_, err = s.db.Exec(ctx,
		`INSERT INTO manifests (room_id, scope, new_world_policy, entries, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (room_id, scope) DO UPDATE SET
		   new_world_policy = EXCLUDED.new_world_policy,
		   entries = EXCLUDED.entries,
		   updated_at = EXCLUDED.updated_at`,
		m.RoomID, string(scope), string(m.NewWorldPolicy), data, now)
	if err != nil {
		return core.NewError(core.KindTransient, op, "write manifest", err)
	}
	return nil
}

// ParseForm re-parses a form post's field groups of the shape
// `room.<world_id>.enabled.<n>` and `room.<world_id>.version.<n>` (spec
// §4.5). Every chosen concrete version must exist in the current catalog
// snapshot — the caller (C10 orchestrator or an HTTP handler) supplies
// availableVersions for that check.
func ParseForm(values map[string][]string, availableVersions func(worldID string) (map[string]bool, bool)) (map[string]Entry, error) {
	entries := make(map[string]Entry)

	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		worldID, field, ok := splitFormKey(key)
		if !ok {
			continue
		}

		entry := entries[worldID]
		switch field {
		case "enabled":
			enabled, err := strconv.ParseBool(vals[0])
			if err != nil {
				return nil, fmt.Errorf("room.%s.enabled: %w", worldID, err)
			}
			entry.Enabled = enabled
		case "version":
			spec, err := parseVersionSpec(vals[0])
			if err != nil {
				return nil, fmt.Errorf("room.%s.version: %w", worldID, err)
			}
			entry.Version = spec
		default:
			continue
		}
		entries[worldID] = entry
	}

	for worldID, entry := range entries {
		if entry.Version.Kind != SpecConcrete {
			continue
		}
		known, exists := availableVersions(worldID)
		if !exists {
			entry.Stale = true
			entries[worldID] = entry
			continue
		}
		if !known[entry.Version.Concrete] {
			return nil, fmt.Errorf("room.%s.version: %q is not a known version", worldID, entry.Version.Concrete)
		}
	}

	return entries, nil
}

func splitFormKey(key string) (worldID, field string, ok bool) {
	const prefix = "room."
	if !strings.HasPrefix(key, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(key, prefix)
	// rest is "<world_id>.<field>.<n>"
	parts := strings.SplitN(rest, ".", 3)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func parseVersionSpec(raw string) (VersionSpec, error) {
	switch raw {
	case string(SpecLatest):
		return VersionSpec{Kind: SpecLatest}, nil
	case string(SpecLatestSupported):
		return VersionSpec{Kind: SpecLatestSupported}, nil
	case string(SpecDisabled), "":
		return VersionSpec{Kind: SpecDisabled}, nil
	default:
		return VersionSpec{Kind: SpecConcrete, Concrete: raw}, nil
	}
}

func decodeEntries(data []byte) (map[string]Entry, error) {
	var wire map[string]jsonEntry
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	entries := make(map[string]Entry, len(wire))
	for worldID, je := range wire {
		entries[worldID] = Entry{
			Enabled: je.Enabled,
			Version: VersionSpec{Kind: VersionSpecKind(je.Kind), Concrete: je.Version},
			Stale:   je.Stale,
		}
	}
	return entries, nil
}

func encodeEntries(entries map[string]Entry) ([]byte, error) {
	worldIDs := make([]string, 0, len(entries))
	for id := range entries {
		worldIDs = append(worldIDs, id)
	}
	sort.Strings(worldIDs)

	wire := make(map[string]jsonEntry, len(entries))
	for _, worldID := range worldIDs {
		e := entries[worldID]
		wire[worldID] = jsonEntry{
			Enabled: e.Enabled,
			Kind:    string(e.Version.Kind),
			Version: e.Version.Concrete,
			Stale:   e.Stale,
		}
	}
	return json.Marshal(wire)
}
