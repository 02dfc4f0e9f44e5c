package extract

import (
	"encoding/json"
	"time"

	"zapgem/internal/domain"
)

// webhookPayload is the top-level body Evolution API posts to the webhook.
type webhookPayload struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type connectionData struct {
	State string `json:"state"`
}

type upsertData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	MessageTimestamp int64           `json:"messageTimestamp"`
	Message          json.RawMessage `json:"message"`
}

// Classify parses a webhook body into the typed event union. A body that is
// not valid JSON, or a known event with an undecodable data section, is a
// malformed-payload error. Unknown event names are valid and classify as
// EventOther.
func Classify(body []byte) (domain.InboundEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.InboundEvent{}, domain.E(domain.KindMalformedPayload, "extract.classify", err)
	}

	ev := domain.InboundEvent{Instance: p.Instance}

	switch p.Event {
	case "connection.update":
		var d connectionData
		if err := json.Unmarshal(p.Data, &d); err != nil {
			return domain.InboundEvent{}, domain.E(domain.KindMalformedPayload, "extract.classify", err)
		}
		ev.Kind = domain.EventConnectionUpdate
		ev.Connection = &domain.ConnectionUpdate{State: d.State}

	case "messages.upsert":
		var d upsertData
		if err := json.Unmarshal(p.Data, &d); err != nil {
			return domain.InboundEvent{}, domain.E(domain.KindMalformedPayload, "extract.classify", err)
		}
		if d.Key.RemoteJID == "" {
			return domain.InboundEvent{}, domain.Errorf(domain.KindMalformedPayload, "extract.classify",
				"messages.upsert without remoteJid")
		}
		ev.Kind = domain.EventMessageUpsert
		ev.Message = &domain.MessageUpsert{
			RemoteJID: d.Key.RemoteJID,
			FromMe:    d.Key.FromMe,
			MessageID: d.Key.ID,
			Timestamp: time.Unix(d.MessageTimestamp, 0),
			Envelope:  d.Message,
		}

	default:
		ev.Kind = domain.EventOther
	}

	return ev, nil
}

// CanonicalRecord applies the same unwrapping and precedence rules to a
// stored history record and maps it onto a conversation turn. ok=false when
// the record yields no text content (audio records in history are skipped
// too: only their transcriptions, stored as text, matter for context).
func CanonicalRecord(rec domain.StoredMessage) (domain.Turn, bool) {
	msg, ok := Canonical(rec.Envelope, rec.ID, rec.FromMe)
	if !ok {
		return domain.Turn{}, false
	}
	text := msg.Text()
	if text == "" {
		return domain.Turn{}, false
	}
	return domain.Turn{
		Role:      msg.Role,
		Text:      text,
		Timestamp: rec.Timestamp,
	}, true
}
