package core

import (
	"context"
	"time"
)

// EventTypeName is a string alias for event type identifiers (e.g., "reconcile_now")
type EventTypeName string

const (
	EventReconcileNow       EventTypeName = "reconcile_now"
	EventPoolChannelCreated EventTypeName = "pool_channel_created"
	EventPoolChannelDeleted EventTypeName = "pool_channel_deleted"
	EventPoolChannelRenamed EventTypeName = "pool_channel_renamed"
	EventPoolCallFailed     EventTypeName = "pool_call_failed"
)

// EventTypeDesc defines the "class" for an event type (registered dynamically)
type EventTypeDesc struct {
	Name        EventTypeName           // Unique ID, e.g., "pool_channel_created"
	Description string                  // Human-readable
	PayloadSpec map[string]PayloadField // Optional: Expected fields in event.Details
}

// PayloadField describes a field in the event payload
type PayloadField struct {
	Type        string // e.g., "string", "int"
	Description string
	Required    bool
}

// InternalEvent is the payload sent over the bus
type InternalEvent struct {
	Type      EventTypeName          `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"` // "voicepool", "webhook_trigger", ...
	Guild     string                 `json:"guild,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	String    string                 `json:"string,omitempty"`
}

// Listener is a handler func for subscribers
type Listener func(ctx context.Context, event InternalEvent)
