package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Presence is the typing indicator state shown in the conversation.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// StoredMessage is one record from the gateway's message store. Envelope is
// the same nested message body the webhook delivers.
type StoredMessage struct {
	RemoteJID string
	FromMe    bool
	ID        string
	Timestamp time.Time
	Envelope  json.RawMessage
}

// MessagePage is one page of a paginated find-messages response. TotalPages
// is as reported by the store; only the first page's value is trusted.
type MessagePage struct {
	Records    []StoredMessage
	TotalPages int
}

// ChatGateway is the outbound surface of the chat gateway. Presence calls are
// best effort; their errors must not abort delivery of the actual reply.
type ChatGateway interface {
	SendText(ctx context.Context, jid, text string, delay time.Duration) error
	SetPresence(ctx context.Context, jid string, p Presence) error
	FindMessages(ctx context.Context, jid string, page int) (*MessagePage, error)
	MediaBytes(ctx context.Context, messageID string) ([]byte, error)
}

// Generator produces a model reply for an assembled context.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// MessageBus hands decoded webhook events from the HTTP layer to the
// reply pipeline.
type MessageBus interface {
	Publish(ev InboundEvent)
	Subscribe() <-chan InboundEvent
	Close()
}
