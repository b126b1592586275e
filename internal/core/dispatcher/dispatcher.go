// Package dispatcher implements the dispatcher façade (spec §4.8): it
// wraps submit/cancel/observe for the two concrete queues and computes
// the dedupe keys and manifest_snapshot_id every job payload carries.
package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/archipelago-lobby/lobby/internal/core/queue"
)

const (
	QueueValidate queue.QueueName = "validate"
	QueueGenerate queue.QueueName = "generate"
)

// ValidatePayload is the wire shape of a validate job (spec §4.8).
type ValidatePayload struct {
	FileBlob           []byte `json:"file_blob"`
	ManifestSnapshotID string `json:"manifest_snapshot_id"`
	RoomID             string `json:"room_id"`
	SlotID             string `json:"slot_id"`
}

// GeneratePayload is the wire shape of a generate job (spec §4.8).
type GeneratePayload struct {
	RoomBundleBlob      []byte `json:"room_bundle_blob"`
	ManifestSnapshotID  string `json:"manifest_snapshot_id"`
	RoomID              string `json:"room_id"`
}

// Encoder serializes a payload to bytes for queue.Submit. Kept as an
// interface so callers can swap JSON for another codec without touching
// dispatch logic.
type Encoder func(v interface{}) ([]byte, error)

// Dispatcher is the façade from spec §4.8.
type Dispatcher struct {
	q       *queue.Queue
	encode  Encoder
}

// New builds a Dispatcher over q, using encode to serialize payloads.
func New(q *queue.Queue, encode Encoder) *Dispatcher {
	return &Dispatcher{q: q, encode: encode}
}

// SubmitValidate enqueues a validate job. Dedupe key is
// sha256(file_blob) ⊕ manifest_snapshot_id (spec §4.8).
func (d *Dispatcher) SubmitValidate(ctx context.Context, p ValidatePayload) (uuid.UUID, error) {
	data, err := d.encode(p)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode validate payload: %w", err)
	}
	key := xorDigest(sha256Hex(p.FileBlob), p.ManifestSnapshotID)
	return d.q.Submit(ctx, QueueValidate, data, key)
}

// SubmitGenerate enqueues a generate job. Dedupe key is
// room_id ⊕ bundle_digest (spec §4.8).
func (d *Dispatcher) SubmitGenerate(ctx context.Context, p GeneratePayload) (uuid.UUID, error) {
	data, err := d.encode(p)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode generate payload: %w", err)
	}
	key := xorDigest(p.RoomID, sha256Hex(p.RoomBundleBlob))
	return d.q.Submit(ctx, QueueGenerate, data, key)
}

// Cancel cancels a previously submitted job (spec §4.8 cancel).
func (d *Dispatcher) Cancel(ctx context.Context, jobID uuid.UUID) error {
	return d.q.Cancel(ctx, jobID)
}

// Observe returns the current state of a submitted job (spec §4.8
// observe).
func (d *Dispatcher) Observe(ctx context.Context, jobID uuid.UUID) (*queue.Job, error) {
	return d.q.Get(ctx, jobID)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// xorDigest combines two strings into a single dedupe key. It is not a
// cryptographic operation — just a stable, order-sensitive combination of
// two identifiers into one string key, matching spec §4.8's "⊕" notation.
func xorDigest(a, b string) string {
	return a + ":" + b
}
