package domain

import (
	"encoding/json"
	"time"
)

// EventKind classifies an inbound webhook event. Unknown event names map to
// EventOther instead of silently falling through with empty defaults.
type EventKind int

const (
	EventOther EventKind = iota
	EventConnectionUpdate
	EventMessageUpsert
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionUpdate:
		return "connection.update"
	case EventMessageUpsert:
		return "messages.upsert"
	default:
		return "other"
	}
}

// InboundEvent is one decoded webhook call. Exactly one of the payload
// pointers matching Kind is set.
type InboundEvent struct {
	Kind     EventKind
	Instance string

	Connection *ConnectionUpdate
	Message    *MessageUpsert
}

// ConnectionUpdate reports a gateway connection state change. Logged only.
type ConnectionUpdate struct {
	State string
}

// MessageUpsert is a new or updated chat message. Envelope holds the raw
// nested message body; internal/extract knows its shapes.
type MessageUpsert struct {
	RemoteJID string
	FromMe    bool
	MessageID string
	Timestamp time.Time
	Envelope  json.RawMessage
}
