// Package queue implements the durable work-queue broker (spec §4.6): a
// relational FIFO with token-authenticated reservation, lease-based
// heartbeating, idempotent submission, and a rate-limited retry policy.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// QueueName identifies one of the two concrete queues (validate, generate)
// or, in tests, an arbitrary logical queue.
type QueueName string

// State is the job lifecycle state from spec §3.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSuccess   State = "success"
	StateFailure   State = "failure"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// terminal reports whether a state accepts no further transitions.
func (s State) terminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateCancelled, StateExpired:
		return true
	default:
		return false
	}
}

// Job is the durable unit of work described in spec §3.
type Job struct {
	ID             uuid.UUID
	Queue          QueueName
	Payload        []byte
	DedupeKey      string // empty when the submit call provided none
	State          State
	Attempts       int
	MaxAttempts    int
	NextVisibleAt  time.Time
	LeaseDeadline  *time.Time
	WorkerID       string
	HardTimeoutAt  *time.Time
	Result         []byte
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Policy bounds a queue's retry/backoff/lease behavior (spec §4.6 defaults).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	HardTimeout time.Duration
}

// DefaultPolicy returns spec §4.6's stated defaults: base 1s, max 60s,
// max_attempts 3.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		HardTimeout: 30 * time.Minute,
	}
}

// Outcome is what a worker reports to complete().
type Outcome struct {
	Success bool
	Result  []byte
	Err     string
}
