// Package history exports lifecycle events to external analytics systems.
// Sinks are advisory: a failed send is the caller's to log and drop.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	EventFail  EventType = "fail"
)

// Event represents a lifecycle event of one project's dev server.
type Event struct {
	Type          EventType `json:"type"`
	OccurredAt    time.Time `json:"occurred_at"`
	ProjectID     string    `json:"project_id"`
	PID           int       `json:"pid"`
	Port          int       `json:"port"`
	State         string    `json:"state"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
