// Package realtime provides the real-time event broadcasting system behind
// the room generation-status and log-stream endpoints.
package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a real-time event broadcast to subscribers of a room.
type Event struct {
	// Type is the event type (generation_queued, generation_progress, etc.)
	Type string `json:"type"`

	// ID is a unique event ID (UUID)
	ID string `json:"id"`

	// RoomID scopes the event to a single room's subscribers.
	RoomID string `json:"room_id"`

	// Data is the event payload (varies by event type)
	Data map[string]interface{} `json:"data"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Source is the event source (dispatcher, generation, validation)
	Source string `json:"source"`

	// Sequence is a sequence number for event ordering (monotonically increasing)
	Sequence int64 `json:"sequence"`
}

// EventType constants for generation/validation status events (spec §6).
const (
	EventTypeGenerationQueued    = "generation_queued"
	EventTypeGenerationStarted   = "generation_started"
	EventTypeGenerationProgress  = "generation_progress"
	EventTypeGenerationSucceeded = "generation_succeeded"
	EventTypeGenerationFailed    = "generation_failed"

	EventTypeValidationQueued    = "validation_queued"
	EventTypeValidationSucceeded = "validation_succeeded"
	EventTypeValidationFailed    = "validation_failed"

	EventTypeLogLine = "log_line"
)

// EventSource constants.
const (
	EventSourceDispatcher = "dispatcher"
	EventSourceGeneration = "generation"
	EventSourceValidation = "validation"
	EventSourceSystem     = "system"
)

// NewEvent creates a new Event scoped to roomID.
func NewEvent(eventType, roomID string, data map[string]interface{}, source string) *Event {
	return &Event{
		Type:      eventType,
		ID:        generateEventID(),
		RoomID:    roomID,
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
		Sequence:  0, // set by EventBus.Publish
	}
}

func generateEventID() string {
	return uuid.New().String()
}
