// Package extract normalizes Evolution API webhook payloads into the typed
// forms the rest of the pipeline works with. Everything here is pure: no
// network, no filesystem.
package extract

import (
	"encoding/json"
	"strings"

	"zapgem/internal/domain"
)

// Envelope mirrors the nested message body of a WhatsApp message. Exactly the
// known shapes are modelled; anything else classifies as unsupported.
type Envelope struct {
	Conversation string            `json:"conversation,omitempty"`
	ExtendedText *ExtendedText     `json:"extendedTextMessage,omitempty"`
	Audio        *AudioMessage     `json:"audioMessage,omitempty"`
	Ephemeral    *EphemeralWrapper `json:"ephemeralMessage,omitempty"`
}

// ExtendedText carries quoted/linked text messages.
type ExtendedText struct {
	Text string `json:"text"`
}

// AudioMessage describes voice content. URL may be empty for messages whose
// media has to be resolved through the gateway's decrypt endpoint.
type AudioMessage struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
	Seconds  int    `json:"seconds,omitempty"`
}

// EphemeralWrapper adds one level of indirection around a regular envelope
// for disappearing messages.
type EphemeralWrapper struct {
	Message *Envelope `json:"message"`
}

// Canonical unwraps a raw message envelope and extracts its content.
// Precedence, first match wins: extended text, plain conversation text,
// audio descriptor. Returns ok=false when the envelope holds no usable
// content (unsupported shape, or text that is empty after trimming).
//
// messageID is needed to build the media-decrypt reference for audio without
// a direct URL.
func Canonical(raw json.RawMessage, messageID string, fromMe bool) (domain.CanonicalMessage, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.CanonicalMessage{}, false
	}

	// Unwrap exactly one ephemeral level.
	if env.Ephemeral != nil {
		if env.Ephemeral.Message == nil {
			return domain.CanonicalMessage{}, false
		}
		env = *env.Ephemeral.Message
	}

	role := domain.RoleUser
	if fromMe {
		role = domain.RoleModel
	}

	if env.ExtendedText != nil {
		return textMessage(role, env.ExtendedText.Text)
	}
	if env.Conversation != "" {
		return textMessage(role, env.Conversation)
	}
	if env.Audio != nil {
		ref := &domain.AudioRef{
			URL:       env.Audio.URL,
			MimeType:  env.Audio.MimeType,
			MessageID: messageID,
		}
		return domain.CanonicalMessage{
			Role:  role,
			Parts: []domain.Part{{Audio: ref}},
		}, true
	}

	return domain.CanonicalMessage{}, false
}

func textMessage(role domain.Role, text string) (domain.CanonicalMessage, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.CanonicalMessage{}, false
	}
	return domain.CanonicalMessage{
		Role:  role,
		Parts: []domain.Part{{Text: text}},
	}, true
}
