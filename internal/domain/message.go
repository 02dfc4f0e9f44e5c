package domain

import (
	"strings"
	"time"
)

// Role tags who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// AudioRef points at voice content that still has to be fetched: either a
// directly fetchable URL or a message id resolved through the gateway's
// media-decrypt endpoint.
type AudioRef struct {
	URL       string
	MessageID string
	MimeType  string
}

// Part is one ordered piece of a canonical message: text or an audio
// reference, never both.
type Part struct {
	Text  string
	Audio *AudioRef
}

// CanonicalMessage is the normalized form of an inbound message after
// envelope unwrapping. Immutable once built.
type CanonicalMessage struct {
	Role  Role
	Parts []Part
}

// Text joins the text parts of the message.
func (m CanonicalMessage) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// AudioRef returns the first audio part, or nil.
func (m CanonicalMessage) AudioRef() *AudioRef {
	for _, p := range m.Parts {
		if p.Audio != nil {
			return p.Audio
		}
	}
	return nil
}

// Turn is one role-tagged message in a conversation's chronological sequence.
// Text is never empty.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// History is a conversation's turns, oldest first.
type History []Turn

// AudioClip is decoded media ready for the generation service.
type AudioClip struct {
	Data     []byte
	MIMEType string
}

// GenerationRequest is the assembled context for one generation call:
// prior history plus the new turn's text and/or transcoded audio.
type GenerationRequest struct {
	History History
	Text    string
	Audio   *AudioClip
}
