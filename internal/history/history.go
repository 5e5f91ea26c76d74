package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventAgentStarted EventType = "agent_started"
	EventReaperReady  EventType = "reaper_ready"
	EventParentLost   EventType = "parent_lost"
	EventAgentStopped EventType = "agent_stopped"
	EventSendResolved EventType = "send_resolved"
	EventSendRejected EventType = "send_rejected"
)

// Event is one audit record of a supervisor session or channel outcome,
// exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Label      string    `json:"label"`
	AgentPID   int       `json:"agent_pid"`
	ParentPID  int       `json:"parent_pid"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
