package generation

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archipelago-lobby/lobby/internal/core"
	"github.com/archipelago-lobby/lobby/internal/core/catalog"
	"github.com/archipelago-lobby/lobby/internal/core/queue"
	"github.com/archipelago-lobby/lobby/internal/database/postgres"
	"github.com/archipelago-lobby/lobby/internal/infrastructure/lock"
	"github.com/archipelago-lobby/lobby/internal/realtime"
)

// recordingDB is a minimal postgres.DatabaseConnection fake that records
// every Exec call's SQL and arguments, mirroring the pack's
// internal/core/validation test fake.
type recordingDB struct {
	execs []execCall
}

type execCall struct {
	sql  string
	args []interface{}
}

func (r *recordingDB) Connect(ctx context.Context) error    { return nil }
func (r *recordingDB) Disconnect(ctx context.Context) error { return nil }
func (r *recordingDB) IsConnected() bool                    { return true }
func (r *recordingDB) Health(ctx context.Context) error      { return nil }
func (r *recordingDB) Stats() postgres.PoolStats             { return postgres.PoolStats{} }

func (r *recordingDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	r.execs = append(r.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func (r *recordingDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (r *recordingDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return nil
}

func (r *recordingDB) Begin(ctx context.Context) (pgx.Tx, error) { return nil, nil }

// recordingBus is a realtime.EventBus fake that records every published
// event without requiring a running broadcast worker.
type recordingBus struct {
	published []realtime.Event
}

func (b *recordingBus) Subscribe(realtime.EventSubscriber) error   { return nil }
func (b *recordingBus) Unsubscribe(realtime.EventSubscriber) error { return nil }
func (b *recordingBus) Publish(event realtime.Event) error {
	b.published = append(b.published, event)
	return nil
}
func (b *recordingBus) GetActiveSubscribers() int            { return 0 }
func (b *recordingBus) Start(ctx context.Context) error       { return nil }
func (b *recordingBus) Stop(ctx context.Context) error        { return nil }

func emptySnapshot() *catalog.Snapshot {
	return &catalog.Snapshot{Worlds: map[string]catalog.World{}}
}

func newTestLockManager(t *testing.T) *lock.LockManager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return lock.NewLockManager(client, nil, nil)
}

func TestOrchestrator_Submit_ConflictWhenGenerationActive(t *testing.T) {
	locks := newTestLockManager(t)
	ctx := context.Background()

	// Simulate an in-flight generation for the room by holding its lock,
	// the same key Submit itself acquires.
	_, err := locks.AcquireLock(ctx, "generation:room-1")
	require.NoError(t, err)

	o := New(&recordingDB{}, nil, nil, nil, locks, &recordingBus{}, t.TempDir(), nil)

	_, err = o.Submit(ctx, Request{RoomID: "room-1", SnapshotFn: emptySnapshot})
	require.Error(t, err)
	assert.Equal(t, core.KindConflict, core.KindOf(err))
}

func TestOrchestrator_Complete_SuccessStoresArtifactAndPublishesReady(t *testing.T) {
	locks := newTestLockManager(t)
	ctx := context.Background()
	_, err := locks.AcquireLock(ctx, "generation:room-2")
	require.NoError(t, err)

	db := &recordingDB{}
	bus := &recordingBus{}
	o := New(db, nil, nil, nil, locks, bus, t.TempDir(), nil)

	job := &queue.Job{ID: uuid.New(), State: queue.StateSuccess, Result: []byte("bundle-bytes")}
	require.NoError(t, o.Complete(ctx, "room-2", job, nil))

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "generation_artifacts")

	require.Len(t, bus.published, 1)
	assert.Equal(t, EventReady, bus.published[0].Type)
	assert.Equal(t, "room-2", bus.published[0].RoomID)

	// The lock Complete holds for the room is released so a subsequent
	// Submit for the same room no longer conflicts.
	_, err = locks.AcquireLock(ctx, "generation:room-2")
	assert.NoError(t, err)
}

func TestOrchestrator_Complete_FailurePublishesFailedWithoutStoringArtifact(t *testing.T) {
	locks := newTestLockManager(t)
	ctx := context.Background()
	_, err := locks.AcquireLock(ctx, "generation:room-3")
	require.NoError(t, err)

	db := &recordingDB{}
	bus := &recordingBus{}
	o := New(db, nil, nil, nil, locks, bus, t.TempDir(), nil)

	job := &queue.Job{ID: uuid.New(), State: queue.StateFailure, Error: "worker crashed"}
	require.NoError(t, o.Complete(ctx, "room-3", job, nil))

	assert.Empty(t, db.execs, "a failed generation must not record an artifact")

	require.Len(t, bus.published, 1)
	assert.Equal(t, EventFailed, bus.published[0].Type)
	assert.Equal(t, "room-3", bus.published[0].RoomID)
}

func TestOrchestrator_RecordCurrentJob_PersistsRoomToJobMapping(t *testing.T) {
	want := uuid.New()
	db := &recordingDB{}
	o := New(db, nil, nil, nil, newTestLockManager(t), &recordingBus{}, t.TempDir(), nil)

	require.NoError(t, o.recordCurrentJob(context.Background(), "room-4", want))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "room_generations")
	assert.Contains(t, db.execs[0].args, want)
}
