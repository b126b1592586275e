// Package generation implements the generation orchestrator (spec §4.9):
// it assembles inputs for a room's generate job, enforces at-most-one
// active generation per room via the teacher's Redis distributed lock,
// and publishes a "ready"/"failed" event when the job completes.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/archipelago-lobby/lobby/internal/core"
	"github.com/archipelago-lobby/lobby/internal/core/blobcache"
	"github.com/archipelago-lobby/lobby/internal/core/catalog"
	"github.com/archipelago-lobby/lobby/internal/core/dispatcher"
	"github.com/archipelago-lobby/lobby/internal/core/manifest"
	"github.com/archipelago-lobby/lobby/internal/core/queue"
	"github.com/archipelago-lobby/lobby/internal/core/resolver"
	"github.com/archipelago-lobby/lobby/internal/database/postgres"
	"github.com/archipelago-lobby/lobby/internal/infrastructure/lock"
	"github.com/archipelago-lobby/lobby/internal/realtime"
)

// Event types published on the realtime bus (spec §4.9: "emits a ready
// event"; spec §6 status endpoint reuses the same state names).
const (
	EventReady   = "generation.ready"
	EventFailed  = "generation.failed"
	EventRunning = "generation.running"
)

// Request is a submit call's input: the room's uploaded bundle plus
// whatever files the caller wants packaged alongside resolved blobs.
type Request struct {
	RoomID        string
	RoomBundle    []byte
	SnapshotFn    func() *catalog.Snapshot
}

// Orchestrator is the generation orchestrator from spec §4.9.
type Orchestrator struct {
	db         postgres.DatabaseConnection
	manifests  *manifest.Store
	blobs      *blobcache.Cache
	dispatch   *dispatcher.Dispatcher
	locks      *lock.LockManager
	bus        realtime.EventBus
	outputDir  string
	logger     *slog.Logger
}

// New builds an Orchestrator.
func New(db postgres.DatabaseConnection, manifests *manifest.Store, blobs *blobcache.Cache, dispatch *dispatcher.Dispatcher, locks *lock.LockManager, bus realtime.EventBus, outputDir string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{db: db, manifests: manifests, blobs: blobs, dispatch: dispatch, locks: locks, bus: bus, outputDir: outputDir, logger: logger.With("component", "generation")}
}

// Submit resolves the room's manifest, ensures every required blob is
// cached, and enqueues one generate job. At most one active generation
// per room is allowed; a concurrent request returns a Conflict error
// (spec §4.9).
func (o *Orchestrator) Submit(ctx context.Context, req Request) (uuid.UUID, error) {
	const op = "generation.submit"

	lockKey := "generation:" + req.RoomID
	if _, err := o.locks.AcquireLock(ctx, lockKey); err != nil {
		return uuid.Nil, core.NewError(core.KindConflict, op, "a generation is already active for this room", err)
	}

	m, err := o.manifests.Get(ctx, req.RoomID)
	if err != nil {
		o.locks.ReleaseLock(ctx, lockKey)
		return uuid.Nil, err
	}

	snap := req.SnapshotFn()
	resolved, err := resolver.Resolve(m, snap)
	if err != nil {
		o.locks.ReleaseLock(ctx, lockKey)
		return uuid.Nil, core.NewError(core.KindInternal, op, "resolve manifest", err)
	}

	requests := make(map[blobcache.Key]string, len(resolved.Triples))
	for _, t := range resolved.Triples {
		requests[blobcache.Key{WorldID: t.WorldID, Version: t.Version}] = t.OriginDigest
	}
	if _, err := o.blobs.EnsureMany(ctx, requests); err != nil {
		o.locks.ReleaseLock(ctx, lockKey)
		return uuid.Nil, err
	}

	jobID, err := o.dispatch.SubmitGenerate(ctx, dispatcher.GeneratePayload{
		RoomBundleBlob:     req.RoomBundle,
		ManifestSnapshotID: resolved.SnapshotID(),
		RoomID:             req.RoomID,
	})
	if err != nil {
		o.locks.ReleaseLock(ctx, lockKey)
		return uuid.Nil, err
	}

	if err := o.recordCurrentJob(ctx, req.RoomID, jobID); err != nil {
		o.locks.ReleaseLock(ctx, lockKey)
		return uuid.Nil, err
	}

	o.publish(req.RoomID, EventRunning, nil)
	o.logger.Info("generation submitted", "room_id", req.RoomID, "job_id", jobID)
	return jobID, nil
}

// Complete is called by the queue layer (or a poller) once the generate
// job reaches a terminal state: on success it persists the artifact and
// emits "ready"; on failure it surfaces the captured logs via the
// "failed" event (spec §4.9).
func (o *Orchestrator) Complete(ctx context.Context, roomID string, job *queue.Job, logs []byte) error {
	lockKey := "generation:" + roomID
	defer o.locks.ReleaseLock(ctx, lockKey)

	switch job.State {
	case queue.StateSuccess:
		path, err := o.storeArtifact(roomID, job.ID, job.Result)
		if err != nil {
			return err
		}
		if err := o.recordArtifact(ctx, roomID, job.ID, path); err != nil {
			return err
		}
		o.publish(roomID, EventReady, nil)
		return nil
	default:
		o.logger.Warn("generation failed", "room_id", roomID, "job_id", job.ID, "error", job.Error)
		o.publish(roomID, EventFailed, map[string]interface{}{"error": job.Error, "logs": string(logs)})
		return nil
	}
}

// CurrentJobID returns the job id of the most recently submitted
// generation for roomID, so a room-scoped HTTP route (the log-stream
// endpoint from spec §6, keyed by room rather than job) can find the
// job-keyed logstream.Registry entry to subscribe to. The mapping persists
// past job completion, so a room's last generation's logs remain
// reachable after the job reaches a terminal state.
func (o *Orchestrator) CurrentJobID(ctx context.Context, roomID string) (uuid.UUID, bool, error) {
	const op = "generation.current_job_id"
	var jobID uuid.UUID
	row := o.db.QueryRow(ctx, `SELECT job_id FROM room_generations WHERE room_id = $1`, roomID)
	switch err := row.Scan(&jobID); {
	case err == nil:
		return jobID, true, nil
	case isNoRows(err):
		return uuid.Nil, false, nil
	default:
		return uuid.Nil, false, core.NewError(core.KindTransient, op, "load current job id", err)
	}
}

func (o *Orchestrator) recordCurrentJob(ctx context.Context, roomID string, jobID uuid.UUID) error {
	const op = "generation.record_current_job"
	_, err := o.db.Exec(ctx,
		`INSERT INTO room_generations (room_id, job_id, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (room_id) DO UPDATE SET job_id = EXCLUDED.job_id, updated_at = EXCLUDED.updated_at`,
		roomID, jobID, time.Now())
	if err != nil {
		return core.NewError(core.KindTransient, op, "record current generation job", err)
	}
	return nil
}

func (o *Orchestrator) storeArtifact(roomID string, jobID uuid.UUID, data []byte) (string, error) {
	const op = "generation.store_artifact"
	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		return "", core.NewError(core.KindInternal, op, "create output dir", err)
	}
	path := filepath.Join(o.outputDir, fmt.Sprintf("%s-%s.zip", roomID, jobID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", core.NewError(core.KindInternal, op, "write artifact", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", core.NewError(core.KindInternal, op, "publish artifact", err)
	}
	return path, nil
}

func (o *Orchestrator) recordArtifact(ctx context.Context, roomID string, jobID uuid.UUID, path string) error {
	const op = "generation.record_artifact"
	_, err := o.db.Exec(ctx,
		`INSERT INTO generation_artifacts (room_id, job_id, path, ready_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (room_id) DO UPDATE SET job_id = EXCLUDED.job_id, path = EXCLUDED.path, ready_at = EXCLUDED.ready_at`,
		roomID, jobID, path, time.Now())
	if err != nil {
		return core.NewError(core.KindTransient, op, "persist generation artifact", err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (o *Orchestrator) publish(roomID, eventType string, data map[string]interface{}) {
	if o.bus == nil {
		return
	}
	_ = o.bus.Publish(realtime.Event{
		Type:      eventType,
		Source:    "generation",
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Timestamp: time.Now(),
		Data:      data,
	})
}
