// Package realtime provides the real-time event broadcasting system behind
// the room generation-status and log-stream endpoints.
package realtime

import (
	"log/slog"

	"github.com/archipelago-lobby/lobby/internal/core/queue"
)

// EventPublisher publishes job lifecycle events onto the EventBus from the
// dispatcher, generation orchestrator, and validation orchestrator.
type EventPublisher struct {
	eventBus *DefaultEventBus
	logger   *slog.Logger
	metrics  *RealtimeMetrics
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(eventBus *DefaultEventBus, logger *slog.Logger, metrics *RealtimeMetrics) *EventPublisher {
	return &EventPublisher{
		eventBus: eventBus,
		logger:   logger.With("component", "event_publisher"),
		metrics:  metrics,
	}
}

// PublishJobQueued publishes a generation_queued or validation_queued event
// right after Dispatcher.SubmitGenerate/SubmitValidate.
func (p *EventPublisher) PublishJobQueued(eventType, roomID string, jobID string) error {
	if p.eventBus == nil {
		return nil
	}
	event := NewEvent(eventType, roomID, map[string]interface{}{"job_id": jobID}, EventSourceDispatcher)
	return p.eventBus.Publish(*event)
}

// PublishJobStarted publishes a generation_started event when a worker
// reserves the job (spec §4.6's Reserve transition).
func (p *EventPublisher) PublishJobStarted(roomID, jobID string) error {
	if p.eventBus == nil {
		return nil
	}
	event := NewEvent(EventTypeGenerationStarted, roomID, map[string]interface{}{"job_id": jobID}, EventSourceDispatcher)
	return p.eventBus.Publish(*event)
}

// PublishJobTerminal publishes the terminal generation_succeeded /
// generation_failed / validation_succeeded / validation_failed event once
// Orchestrator.Complete observes job.State.
func (p *EventPublisher) PublishJobTerminal(eventType, roomID string, job *queue.Job) error {
	if p.eventBus == nil {
		return nil
	}
	data := map[string]interface{}{
		"job_id": job.ID.String(),
		"state":  string(job.State),
	}
	if job.Error != "" {
		data["error"] = job.Error
	}
	event := NewEvent(eventType, roomID, data, EventSourceGeneration)
	return p.eventBus.Publish(*event)
}

// PublishLogLine publishes a single streamed log line for a room's active
// job (fed from internal/core/logstream appends).
func (p *EventPublisher) PublishLogLine(roomID, jobID, line string) error {
	if p.eventBus == nil {
		return nil
	}
	event := NewEvent(EventTypeLogLine, roomID, map[string]interface{}{
		"job_id": jobID,
		"line":   line,
	}, EventSourceSystem)
	return p.eventBus.Publish(*event)
}
