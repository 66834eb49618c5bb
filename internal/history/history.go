package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventSpawn     EventType = "spawn"
	EventExit      EventType = "exit"
	EventStop      EventType = "stop"
	EventForceKill EventType = "force_kill"
	EventError     EventType = "error"
	EventUsage     EventType = "usage"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Domain     string    `json:"domain"`
	Key        string    `json:"key"`
	PID        int       `json:"pid"`
	Command    string    `json:"command,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Detail     string    `json:"detail,omitempty"`
}

// NewEvent stamps a fresh id and the current UTC time.
func NewEvent(t EventType, domain, key string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Domain:     domain,
		Key:        key,
	}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
