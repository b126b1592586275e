package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/archipelago-lobby/lobby/internal/core"
	"github.com/archipelago-lobby/lobby/internal/core/logstream"
	"github.com/archipelago-lobby/lobby/internal/core/queue"
	"github.com/archipelago-lobby/lobby/internal/database/postgres"
)

// QueueCompletionHook is invoked after a job reaches a terminal state via
// the complete endpoint, so a caller can route the outcome into the
// generation or validation orchestrator that owns queueName. QueueHandler
// itself has no domain knowledge of either orchestrator.
type QueueCompletionHook func(ctx context.Context, queueName queue.QueueName, job *queue.Job)

// QueueHandler serves the worker-facing HTTP surface for the durable
// work-queue broker (spec §6): reserve, heartbeat, complete, and log
// append, all bearer-token authenticated per queue.
type QueueHandler struct {
	q          *queue.Queue
	tokens     queue.TokenSet
	streams    *logstream.Registry
	db         postgres.DatabaseConnection
	onComplete QueueCompletionHook
	logger     *slog.Logger
}

// NewQueueHandler builds a QueueHandler. tokens must be the same TokenSet
// the Queue itself was constructed with, since the log endpoint checks
// bearer tokens directly rather than through a state-mutating Queue call.
func NewQueueHandler(q *queue.Queue, tokens queue.TokenSet, streams *logstream.Registry, db postgres.DatabaseConnection, onComplete QueueCompletionHook, logger *slog.Logger) *QueueHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueHandler{
		q:          q,
		tokens:     tokens,
		streams:    streams,
		db:         db,
		onComplete: onComplete,
		logger:     logger.With("component", "queue_handler"),
	}
}

// Register wires the four worker endpoints onto router.
func (h *QueueHandler) Register(router *mux.Router) {
	router.HandleFunc("/q/{queue}/reserve", h.reserve).Methods(http.MethodPost)
	router.HandleFunc("/q/{queue}/{job_id}/heartbeat", h.heartbeat).Methods(http.MethodPost)
	router.HandleFunc("/q/{queue}/{job_id}/complete", h.complete).Methods(http.MethodPost)
	router.HandleFunc("/q/{queue}/{job_id}/log", h.log).Methods(http.MethodPost)
}

type reserveRequest struct {
	WorkerID string `json:"worker_id"`
	LeaseMs  int64  `json:"lease_ms"`
}

type reserveResponse struct {
	JobID      string `json:"job_id"`
	PayloadB64 string `json:"payload_b64"`
}

func (h *QueueHandler) reserve(w http.ResponseWriter, r *http.Request) {
	queueName := queue.QueueName(mux.Vars(r)["queue"])

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeQueueError(w, core.NewError(core.KindConfig, "queue_handler.reserve", "decode request body", err))
		return
	}

	job, err := h.q.Reserve(r.Context(), queueName, req.WorkerID, bearerToken(r), req.LeaseMs)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeQueueJSON(w, http.StatusOK, reserveResponse{
		JobID:      job.ID.String(),
		PayloadB64: base64.StdEncoding.EncodeToString(job.Payload),
	})
}

type leaseRequest struct {
	WorkerID string `json:"worker_id"`
	LeaseMs  int64  `json:"lease_ms"`
}

func (h *QueueHandler) heartbeat(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeQueueError(w, core.NewError(core.KindConfig, "queue_handler.heartbeat", "decode request body", err))
		return
	}

	if err := h.q.Heartbeat(r.Context(), jobID, req.WorkerID, bearerToken(r), req.LeaseMs); err != nil {
		writeQueueError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type completeRequest struct {
	WorkerID  string `json:"worker_id"`
	Outcome   string `json:"outcome"`
	ResultB64 string `json:"result_b64,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *QueueHandler) complete(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}
	queueName := queue.QueueName(mux.Vars(r)["queue"])

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeQueueError(w, core.NewError(core.KindConfig, "queue_handler.complete", "decode request body", err))
		return
	}

	outcome := queue.Outcome{Success: req.Outcome == "success", Err: req.Error}
	if req.ResultB64 != "" {
		result, err := base64.StdEncoding.DecodeString(req.ResultB64)
		if err != nil {
			writeQueueError(w, core.NewError(core.KindConfig, "queue_handler.complete", "decode result_b64", err))
			return
		}
		outcome.Result = result
	}

	if err := h.q.Complete(r.Context(), jobID, req.WorkerID, bearerToken(r), outcome); err != nil {
		writeQueueError(w, err)
		return
	}

	job, err := h.q.Get(r.Context(), jobID)
	if err != nil {
		h.logger.Warn("reload job after complete failed", "job_id", jobID, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.streams != nil {
		if snapshot := h.streams.Archive(jobID.String()); snapshot != nil {
			if err := h.persistLog(r.Context(), jobID, snapshot); err != nil {
				h.logger.Warn("persist archived log failed", "job_id", jobID, "error", err)
			}
		}
	}

	if h.onComplete != nil {
		h.onComplete(r.Context(), queueName, job)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *QueueHandler) persistLog(ctx context.Context, jobID uuid.UUID, data []byte) error {
	if h.db == nil {
		return nil
	}
	_, err := h.db.Exec(ctx,
		`INSERT INTO job_logs (job_id, data, closed_at) VALUES ($1, $2, $3)
		 ON CONFLICT (job_id) DO UPDATE SET data = EXCLUDED.data, closed_at = EXCLUDED.closed_at`,
		jobID, data, time.Now())
	return err
}

func (h *QueueHandler) log(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}
	queueName := queue.QueueName(mux.Vars(r)["queue"])

	if !h.tokens.Check(queueName, bearerToken(r)) {
		writeQueueError(w, core.NewError(core.KindUnauthorized, "queue_handler.log", "bad queue token", nil))
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeQueueError(w, core.NewError(core.KindConfig, "queue_handler.log", "read log chunk", err))
		return
	}

	h.streams.Get(jobID.String()).Append(data)
	w.WriteHeader(http.StatusOK)
}

func jobIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := mux.Vars(r)["job_id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		writeQueueError(w, core.NewError(core.KindNotFound, "queue_handler.job_id", "malformed job id", err))
		return uuid.Nil, false
	}
	return id, true
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

// writeQueueError maps a core.Error's Kind onto the HTTP status spec §7
// assigns it: Unauthorized -> 401, NotFound -> 404, Conflict -> 410 (a
// stale lease or terminal-state mismatch means the worker's view of the
// job is gone), Config -> 400, everything else -> 500.
func writeQueueError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch core.KindOf(err) {
	case core.KindUnauthorized:
		status = http.StatusUnauthorized
	case core.KindNotFound:
		status = http.StatusNotFound
	case core.KindConflict:
		status = http.StatusGone
	case core.KindConfig:
		status = http.StatusBadRequest
	case core.KindTransient, core.KindCorrupt, core.KindInternal:
		status = http.StatusInternalServerError
	}
	writeQueueJSON(w, status, map[string]string{"error": err.Error()})
}

func writeQueueJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
