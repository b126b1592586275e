// Package validation implements the validation orchestrator (spec §4.10):
// per uploaded file it submits a validate job, then maps the job's
// terminal outcome onto the room's per-slot status.
package validation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/archipelago-lobby/lobby/internal/core"
	"github.com/archipelago-lobby/lobby/internal/core/dispatcher"
	"github.com/archipelago-lobby/lobby/internal/core/queue"
	"github.com/archipelago-lobby/lobby/internal/database/postgres"
)

// SlotStatus is spec §3's room slot status enum.
type SlotStatus string

const (
	StatusPending           SlotStatus = "pending"
	StatusValidated         SlotStatus = "validated"
	StatusManuallyValidated SlotStatus = "manually_validated"
	StatusUnsupported       SlotStatus = "unsupported"
	StatusFailed            SlotStatus = "failed"
	StatusUnknown           SlotStatus = "unknown"
)

// Reason is the structured failure reason a validate worker reports,
// distinguishing "world not in catalog" from "validator error" (spec
// §4.10).
type Reason string

const (
	ReasonUnsupportedWorld Reason = "unsupported_world"
	ReasonValidatorError   Reason = "validator_error"
)

// Outcome is the structured result a validate worker's Outcome.Result
// decodes into.
type Outcome struct {
	Reason Reason
	Error  string
	Worlds []string // (world, version) pairs the file exercises, "world@version"
}

// Orchestrator is the validation orchestrator from spec §4.10.
type Orchestrator struct {
	db         postgres.DatabaseConnection
	dispatch   *dispatcher.Dispatcher
	decode     func([]byte) (Outcome, error)
	logger     *slog.Logger
}

// New builds an Orchestrator. decode parses a worker's raw result/error
// payload into a structured Outcome.
func New(db postgres.DatabaseConnection, dispatch *dispatcher.Dispatcher, decode func([]byte) (Outcome, error), logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{db: db, dispatch: dispatch, decode: decode, logger: logger.With("component", "validation")}
}

// Submit enqueues a validate job for one uploaded file and marks the slot
// Pending until the job completes (spec §4.10).
func (o *Orchestrator) Submit(ctx context.Context, roomID, slotID string, fileBlob []byte, manifestSnapshotID string) (uuid.UUID, error) {
	jobID, err := o.dispatch.SubmitValidate(ctx, dispatcher.ValidatePayload{
		FileBlob:           fileBlob,
		ManifestSnapshotID: manifestSnapshotID,
		RoomID:             roomID,
		SlotID:             slotID,
	})
	if err != nil {
		return uuid.Nil, err
	}
	if err := o.setSlotStatus(ctx, roomID, slotID, StatusPending, "", nil); err != nil {
		return jobID, err
	}
	return jobID, nil
}

// Complete maps a terminal validate job onto the slot's status (spec
// §4.10): Success -> Validated; Failure with ReasonUnsupportedWorld ->
// Unsupported; Failure with ReasonValidatorError -> Failed.
func (o *Orchestrator) Complete(ctx context.Context, roomID, slotID string, job *queue.Job) error {
	if job.State == queue.StateSuccess {
		outcome, err := o.decode(job.Result)
		if err != nil {
			return core.NewError(core.KindInternal, "validation.complete", "decode worker result", err)
		}
		return o.setSlotStatus(ctx, roomID, slotID, StatusValidated, "", outcome.Worlds)
	}

	outcome, err := o.decode([]byte(job.Error))
	status := StatusFailed
	errStr := job.Error
	if err == nil && outcome.Reason == ReasonUnsupportedWorld {
		status = StatusUnsupported
		errStr = outcome.Error
	}
	o.logger.Warn("validation job failed", "room_id", roomID, "slot_id", slotID, "status", status)
	return o.setSlotStatus(ctx, roomID, slotID, status, errStr, nil)
}

// DisableForRoom sets every slot in a room to Unknown when the room
// disables validation entirely (spec §4.10).
func (o *Orchestrator) DisableForRoom(ctx context.Context, roomID string) error {
	const op = "validation.disable_for_room"
	_, err := o.db.Exec(ctx,
		`UPDATE room_slots SET status = $1, updated_at = $2 WHERE room_id = $3`,
		string(StatusUnknown), time.Now(), roomID)
	if err != nil {
		return core.NewError(core.KindTransient, op, "disable validation for room", err)
	}
	return nil
}

// AllowInvalid toggles a room's "allow invalid" flag (spec §4.10): when
// set, invalid files remain uploaded with slot status staying Failed
// rather than being rejected outright at upload time.
func (o *Orchestrator) AllowInvalid(ctx context.Context, roomID string, allow bool) error {
	const op = "validation.allow_invalid"
	_, err := o.db.Exec(ctx,
		`UPDATE room_slots SET allow_invalid = $1, updated_at = $2 WHERE room_id = $3`,
		allow, time.Now(), roomID)
	if err != nil {
		return core.NewError(core.KindTransient, op, "set allow_invalid", err)
	}
	return nil
}

func (o *Orchestrator) setSlotStatus(ctx context.Context, roomID, slotID string, status SlotStatus, lastError string, worlds []string) error {
	const op = "validation.set_slot_status"
	_, err := o.db.Exec(ctx,
		`INSERT INTO room_slots (room_id, slot_id, status, last_error, last_validated_at, worlds, allow_invalid, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, $5)
		 ON CONFLICT (room_id, slot_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   last_error = EXCLUDED.last_error,
		   last_validated_at = EXCLUDED.last_validated_at,
		   worlds = EXCLUDED.worlds,
		   updated_at = EXCLUDED.updated_at`,
		roomID, slotID, string(status), lastError, time.Now(), worldsJSON(worlds))
	if err != nil {
		return core.NewError(core.KindTransient, op, "update slot status", err)
	}
	return nil
}

func worldsJSON(worlds []string) []byte {
	if worlds == nil {
		worlds = []string{}
	}
	data, _ := json.Marshal(worlds)
	return data
}
