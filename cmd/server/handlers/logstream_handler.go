package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/archipelago-lobby/lobby/internal/core/logstream"
)

// currentJobResolver resolves a room id to the job id of its most recent
// generation. *generation.Orchestrator satisfies this; kept as a narrow
// interface so this handler doesn't import the generation package.
type currentJobResolver interface {
	CurrentJobID(ctx context.Context, roomID string) (uuid.UUID, bool, error)
}

// LogStreamHandler serves GET /room/{id}/generation/logs/stream: a chunked
// text stream of a job's log output, replaying the ring buffer's current
// contents before following new Append calls (spec §4.7).
type LogStreamHandler struct {
	streams *logstream.Registry
	jobs    currentJobResolver
	logger  *slog.Logger
}

// NewLogStreamHandler creates a handler backed by streams. jobs resolves
// the request's room id to the job whose log stream should be served.
func NewLogStreamHandler(streams *logstream.Registry, jobs currentJobResolver, logger *slog.Logger) *LogStreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogStreamHandler{streams: streams, jobs: jobs, logger: logger.With("component", "logstream_handler")}
}

// ServeJobLog resolves the request's {id} room path parameter to its
// current generation job and streams that job's log; it blocks until the
// stream closes or the client disconnects.
func (h *LogStreamHandler) ServeJobLog(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	jobID, ok, err := h.jobs.CurrentJobID(r.Context(), roomID)
	if err != nil {
		h.logger.Error("resolve current generation job failed", "room_id", roomID, "error", err)
		http.Error(w, "failed to resolve generation job", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no generation found for room", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream := h.streams.Get(jobID.String())
	chunks := stream.Subscribe(r.Context())

	h.logger.Debug("log stream client connected", "room_id", roomID, "job_id", jobID, "remote_addr", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				// stream closed: nothing left to replay
				return
			}
			if chunk.Dropped > 0 {
				fmt.Fprintf(w, "[... %d lines dropped]\n", chunk.Dropped)
			}
			if _, err := w.Write(chunk.Data); err != nil {
				h.logger.Warn("log stream write failed", "job_id", jobID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
