package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventFramePush      EventType = "frame_push"
	EventFramePop       EventType = "frame_pop"
	EventFieldCollected EventType = "field_collected"
	EventFieldRejected  EventType = "field_rejected"
	EventEntityResolved EventType = "entity_resolved"
	EventEntityFailed   EventType = "entity_failed"
	EventActionExecuted EventType = "action_executed"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	FrameID   string    `json:"frame_id"`
	Workflow  string    `json:"workflow"`
}

// FrameEvent represents a push onto or a pop from the stack.
type FrameEvent struct {
	EventBase
	Depth int   `json:"depth"`
	Phase Phase `json:"phase,omitempty"` // Set on pop
}

// FieldEvent represents an accepted or rejected field value.
type FieldEvent struct {
	EventBase
	Field   string `json:"field"`
	Attempt int    `json:"attempt,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// EntityEvent represents the outcome of an entity lookup.
type EntityEvent struct {
	EventBase
	Entity string        `json:"entity"`
	Status EntityStatus  `json:"status"`
	Took   time.Duration `json:"took"`
}

// ActionEvent represents one attempt of a terminal action.
type ActionEvent struct {
	EventBase
	Action  string        `json:"action"`
	Took    time.Duration `json:"took"`
	IsError bool          `json:"is_error,omitempty"`
}

// LifecycleHooks defines callbacks for orchestrator observability.
// Every hook is optional.
type LifecycleHooks struct {
	OnFramePush      func(context.Context, *FrameEvent)
	OnFramePop       func(context.Context, *FrameEvent)
	OnFieldCollected func(context.Context, *FieldEvent)
	OnFieldRejected  func(context.Context, *FieldEvent)
	OnEntityResolved func(context.Context, *EntityEvent)
	OnActionExecuted func(context.Context, *ActionEvent)
}
