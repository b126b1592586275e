package validation

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archipelago-lobby/lobby/internal/core/queue"
	"github.com/archipelago-lobby/lobby/internal/database/postgres"
)

// recordingDB is a minimal postgres.DatabaseConnection fake that records
// every Exec call's SQL and arguments for assertion, without touching a
// real database.
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
func (r *recordingDB) Health(ctx context.Context) error     { return nil }
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

func (r *recordingDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, nil
}

func TestOrchestrator_Complete_SuccessMarksValidated(t *testing.T) {
	db := &recordingDB{}
	decode := func(data []byte) (Outcome, error) {
		return Outcome{Worlds: []string{"alttp@1.0.0"}}, nil
	}
	o := New(db, nil, decode, nil)

	job := &queue.Job{State: queue.StateSuccess, Result: []byte(`{}`)}
	require.NoError(t, o.Complete(context.Background(), "room-1", "slot-1", job))

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].args, string(StatusValidated))
}

func TestOrchestrator_Complete_UnsupportedWorldReason(t *testing.T) {
	db := &recordingDB{}
	decode := func(data []byte) (Outcome, error) {
		return Outcome{Reason: ReasonUnsupportedWorld, Error: "world not in catalog"}, nil
	}
	o := New(db, nil, decode, nil)

	job := &queue.Job{State: queue.StateFailure, Error: "world not in catalog"}
	require.NoError(t, o.Complete(context.Background(), "room-1", "slot-1", job))

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].args, string(StatusUnsupported))
}

func TestOrchestrator_Complete_ValidatorErrorReason(t *testing.T) {
	db := &recordingDB{}
	decode := func(data []byte) (Outcome, error) {
		return Outcome{Reason: ReasonValidatorError, Error: "parse failure"}, nil
	}
	o := New(db, nil, decode, nil)

	job := &queue.Job{State: queue.StateFailure, Error: "parse failure"}
	require.NoError(t, o.Complete(context.Background(), "room-1", "slot-1", job))

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].args, string(StatusFailed))
}

func TestOrchestrator_DisableForRoom_SetsUnknown(t *testing.T) {
	db := &recordingDB{}
	o := New(db, nil, nil, nil)

	require.NoError(t, o.DisableForRoom(context.Background(), "room-1"))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].args, string(StatusUnknown))
}
