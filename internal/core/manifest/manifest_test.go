package manifest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archipelago-lobby/lobby/internal/database/postgres"
)

func fixedAvailability(versions map[string]map[string]bool) func(string) (map[string]bool, bool) {
	return func(worldID string) (map[string]bool, bool) {
		v, ok := versions[worldID]
		return v, ok
	}
}

func TestParseForm_EnabledAndVersion(t *testing.T) {
	values := map[string][]string{
		"room.alttp.enabled.0": {"true"},
		"room.alttp.version.0": {"1.0.0"},
	}
	avail := fixedAvailability(map[string]map[string]bool{"alttp": {"1.0.0": true}})

	entries, err := ParseForm(values, avail)
	require.NoError(t, err)
	require.Contains(t, entries, "alttp")
	assert.True(t, entries["alttp"].Enabled)
	assert.Equal(t, SpecConcrete, entries["alttp"].Version.Kind)
	assert.Equal(t, "1.0.0", entries["alttp"].Version.Concrete)
}

func TestParseForm_SpecialVersionKeywords(t *testing.T) {
	values := map[string][]string{
		"room.alttp.version.0":     {"latest"},
		"room.minecraft.version.0": {"latest_supported"},
		"room.zelda.version.0":     {"disabled"},
	}
	avail := fixedAvailability(map[string]map[string]bool{})

	entries, err := ParseForm(values, avail)
	require.NoError(t, err)
	assert.Equal(t, SpecLatest, entries["alttp"].Version.Kind)
	assert.Equal(t, SpecLatestSupported, entries["minecraft"].Version.Kind)
	assert.Equal(t, SpecDisabled, entries["zelda"].Version.Kind)
}

func TestParseForm_UnknownConcreteVersionErrors(t *testing.T) {
	values := map[string][]string{
		"room.alttp.version.0": {"9.9.9"},
	}
	avail := fixedAvailability(map[string]map[string]bool{"alttp": {"1.0.0": true}})

	_, err := ParseForm(values, avail)
	assert.Error(t, err)
}

func TestParseForm_MissingWorldMarkedStale(t *testing.T) {
	values := map[string][]string{
		"room.removed-world.version.0": {"1.0.0"},
	}
	avail := fixedAvailability(map[string]map[string]bool{})

	entries, err := ParseForm(values, avail)
	require.NoError(t, err)
	assert.True(t, entries["removed-world"].Stale)
}

func TestParseForm_IgnoresUnrelatedKeys(t *testing.T) {
	values := map[string][]string{
		"unrelated_field": {"value"},
	}
	avail := fixedAvailability(map[string]map[string]bool{})

	entries, err := ParseForm(values, avail)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// fakeRow is a minimal pgx.Row backed by a fixed Scan function.
type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// scopedStoreDB is a postgres.DatabaseConnection fake that serves one
// row per (room_id, scope) key and records every Exec call so a test can
// assert which scope a write landed under.
type scopedStoreDB struct {
	rows  map[string]fakeRow
	execs []execCall
}

type execCall struct {
	sql  string
	args []interface{}
}

func newScopedStoreDB() *scopedStoreDB {
	return &scopedStoreDB{rows: make(map[string]fakeRow)}
}

func (d *scopedStoreDB) seed(id string, scope Scope, policy NewWorldPolicy, entries map[string]Entry) {
	wire := make(map[string]jsonEntry, len(entries))
	for worldID, e := range entries {
		wire[worldID] = jsonEntry{Enabled: e.Enabled, Kind: string(e.Version.Kind), Version: e.Version.Concrete, Stale: e.Stale}
	}
	data, _ := json.Marshal(wire)
	d.rows[id+"|"+string(scope)] = fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*string)) = string(policy)
		*(dest[1].(*[]byte)) = data
		return nil
	}}
}

func (d *scopedStoreDB) Connect(ctx context.Context) error    { return nil }
func (d *scopedStoreDB) Disconnect(ctx context.Context) error { return nil }
func (d *scopedStoreDB) IsConnected() bool                    { return true }
func (d *scopedStoreDB) Health(ctx context.Context) error     { return nil }
func (d *scopedStoreDB) Stats() postgres.PoolStats            { return postgres.PoolStats{} }

func (d *scopedStoreDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	d.execs = append(d.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func (d *scopedStoreDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (d *scopedStoreDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	// args[0] is room_id/template id, args[1] is scope, per getScoped's SQL.
	id, _ := args[0].(string)
	scope, _ := args[1].(string)
	if row, ok := d.rows[id+"|"+scope]; ok {
		return row
	}
	return fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (d *scopedStoreDB) Begin(ctx context.Context) (pgx.Tx, error) { return nil, nil }

func TestStore_GetTemplate_ReadsTemplateScope(t *testing.T) {
	db := newScopedStoreDB()
	db.seed("starter", ScopeTemplate, PolicyDisable, map[string]Entry{
		"alttp": {Enabled: true, Version: VersionSpec{Kind: SpecLatest}},
	})
	s := NewStore(db)

	m, err := s.GetTemplate(context.Background(), "starter")
	require.NoError(t, err)
	assert.Equal(t, PolicyDisable, m.NewWorldPolicy)
	assert.True(t, m.Entries["alttp"].Enabled)

	// The room scope for the same id is unseeded, so Get falls back to
	// the zero-value manifest rather than returning the template's data.
	roomM, err := s.Get(context.Background(), "starter")
	require.NoError(t, err)
	assert.Equal(t, PolicyEnable, roomM.NewWorldPolicy)
	assert.Empty(t, roomM.Entries)
}

func TestStore_NewRoomFromTemplate_CopiesIntoRoomScope(t *testing.T) {
	db := newScopedStoreDB()
	db.seed("starter", ScopeTemplate, PolicyEnable, map[string]Entry{
		"minecraft": {Enabled: true, Version: VersionSpec{Kind: SpecConcrete, Concrete: "1.0.0"}},
	})
	s := NewStore(db)

	m, err := s.NewRoomFromTemplate(context.Background(), "room-42", "starter")
	require.NoError(t, err)
	assert.Equal(t, "room-42", m.RoomID)
	assert.Equal(t, PolicyEnable, m.NewWorldPolicy)
	assert.True(t, m.Entries["minecraft"].Enabled)

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].args, "room")
	assert.Contains(t, db.execs[0].args, "room-42")
}
