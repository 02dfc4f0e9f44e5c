package extract

import (
	"encoding/json"
	"testing"
	"time"

	"zapgem/internal/domain"
)

// --- Canonical ---

func TestCanonical_ExtendedTextWins(t *testing.T) {
	raw := []byte(`{"extendedTextMessage":{"text":"quoted reply"},"conversation":"plain"}`)
	msg, ok := Canonical(raw, "id1", false)
	if !ok {
		t.Fatal("expected content")
	}
	if msg.Text() != "quoted reply" {
		t.Errorf("extended text should win, got %q", msg.Text())
	}
	if msg.Role != domain.RoleUser {
		t.Errorf("expected user role, got %s", msg.Role)
	}
}

func TestCanonical_PlainConversation(t *testing.T) {
	msg, ok := Canonical([]byte(`{"conversation":"hello there"}`), "id1", false)
	if !ok {
		t.Fatal("expected content")
	}
	if msg.Text() != "hello there" {
		t.Errorf("got %q", msg.Text())
	}
}

func TestCanonical_Audio(t *testing.T) {
	raw := []byte(`{"audioMessage":{"url":"https://mmg.whatsapp.net/a.enc","mimetype":"audio/ogg; codecs=opus","seconds":7}}`)
	msg, ok := Canonical(raw, "MSG42", false)
	if !ok {
		t.Fatal("expected content")
	}
	ref := msg.AudioRef()
	if ref == nil {
		t.Fatal("expected audio ref")
	}
	if ref.URL != "https://mmg.whatsapp.net/a.enc" {
		t.Errorf("got url %q", ref.URL)
	}
	if ref.MessageID != "MSG42" {
		t.Errorf("got message id %q", ref.MessageID)
	}
}

func TestCanonical_EphemeralEquivalence(t *testing.T) {
	inner := []byte(`{"conversation":"disappearing"}`)
	wrapped := []byte(`{"ephemeralMessage":{"message":{"conversation":"disappearing"}}}`)

	a, okA := Canonical(inner, "id", false)
	b, okB := Canonical(wrapped, "id", false)

	if !okA || !okB {
		t.Fatal("both should extract")
	}
	if a.Text() != b.Text() || a.Role != b.Role {
		t.Errorf("wrapped extraction differs: %+v vs %+v", a, b)
	}
}

func TestCanonical_EphemeralAudio(t *testing.T) {
	wrapped := []byte(`{"ephemeralMessage":{"message":{"audioMessage":{"url":"https://x/a.enc"}}}}`)
	msg, ok := Canonical(wrapped, "id", false)
	if !ok || msg.AudioRef() == nil {
		t.Fatal("expected audio from ephemeral wrapper")
	}
}

func TestCanonical_EmptyEphemeral(t *testing.T) {
	if _, ok := Canonical([]byte(`{"ephemeralMessage":{}}`), "id", false); ok {
		t.Error("empty ephemeral wrapper should yield no content")
	}
}

func TestCanonical_WhitespaceOnly(t *testing.T) {
	if _, ok := Canonical([]byte(`{"conversation":"   \n\t "}`), "id", false); ok {
		t.Error("whitespace-only text should yield no content")
	}
	if _, ok := Canonical([]byte(`{"extendedTextMessage":{"text":"  "}}`), "id", false); ok {
		t.Error("whitespace-only extended text should yield no content")
	}
}

func TestCanonical_UnsupportedShape(t *testing.T) {
	if _, ok := Canonical([]byte(`{"imageMessage":{"url":"https://x/i.enc"}}`), "id", false); ok {
		t.Error("unsupported message type should yield no content")
	}
	if _, ok := Canonical([]byte(`{}`), "id", false); ok {
		t.Error("empty envelope should yield no content")
	}
}

func TestCanonical_FromMeRole(t *testing.T) {
	msg, ok := Canonical([]byte(`{"conversation":"my own reply"}`), "id", true)
	if !ok {
		t.Fatal("expected content")
	}
	if msg.Role != domain.RoleModel {
		t.Errorf("sent-by-us should map to model role, got %s", msg.Role)
	}
}

func TestCanonical_TrimsText(t *testing.T) {
	msg, ok := Canonical([]byte(`{"conversation":"  padded  "}`), "id", false)
	if !ok {
		t.Fatal("expected content")
	}
	if msg.Text() != "padded" {
		t.Errorf("expected trimmed text, got %q", msg.Text())
	}
}

// --- Classify ---

func TestClassify_MessageUpsert(t *testing.T) {
	body := []byte(`{
		"event": "messages.upsert",
		"instance": "main",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "fromMe": false, "id": "ABC"},
			"messageTimestamp": 1756600000,
			"message": {"conversation": "oi"}
		}
	}`)
	ev, err := Classify(body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != domain.EventMessageUpsert {
		t.Fatalf("expected messages.upsert, got %s", ev.Kind)
	}
	if ev.Message.RemoteJID != "5511999999999@s.whatsapp.net" {
		t.Errorf("got jid %q", ev.Message.RemoteJID)
	}
	if !ev.Message.Timestamp.Equal(time.Unix(1756600000, 0)) {
		t.Errorf("got timestamp %v", ev.Message.Timestamp)
	}
	if _, ok := Canonical(ev.Message.Envelope, ev.Message.MessageID, ev.Message.FromMe); !ok {
		t.Error("envelope should extract")
	}
}

func TestClassify_ConnectionUpdate(t *testing.T) {
	body := []byte(`{"event":"connection.update","instance":"main","data":{"state":"open"}}`)
	ev, err := Classify(body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != domain.EventConnectionUpdate {
		t.Fatalf("got %s", ev.Kind)
	}
	if ev.Connection.State != "open" {
		t.Errorf("got state %q", ev.Connection.State)
	}
}

func TestClassify_UnknownEvent(t *testing.T) {
	ev, err := Classify([]byte(`{"event":"contacts.update","instance":"main","data":{}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != domain.EventOther {
		t.Errorf("unknown event should classify as other, got %s", ev.Kind)
	}
}

func TestClassify_InvalidJSON(t *testing.T) {
	_, err := Classify([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.KindOf(err) != domain.KindMalformedPayload {
		t.Errorf("expected malformed_payload, got %s", domain.KindOf(err))
	}
}

func TestClassify_UpsertWithoutJID(t *testing.T) {
	body := []byte(`{"event":"messages.upsert","instance":"main","data":{"key":{},"message":{"conversation":"x"}}}`)
	_, err := Classify(body)
	if domain.KindOf(err) != domain.KindMalformedPayload {
		t.Errorf("expected malformed_payload, got %v", err)
	}
}

// --- CanonicalRecord ---

func TestCanonicalRecord_RoleMapping(t *testing.T) {
	rec := domain.StoredMessage{
		FromMe:    true,
		ID:        "X",
		Timestamp: time.Unix(100, 0),
		Envelope:  json.RawMessage(`{"conversation":"sent by bot"}`),
	}
	turn, ok := CanonicalRecord(rec)
	if !ok {
		t.Fatal("expected turn")
	}
	if turn.Role != domain.RoleModel {
		t.Errorf("fromMe record should be model, got %s", turn.Role)
	}
	if turn.Text != "sent by bot" {
		t.Errorf("got %q", turn.Text)
	}
}

func TestCanonicalRecord_DropsEmpty(t *testing.T) {
	rec := domain.StoredMessage{
		Envelope: json.RawMessage(`{"conversation":"  "}`),
	}
	if _, ok := CanonicalRecord(rec); ok {
		t.Error("empty record should be dropped")
	}
}

func TestCanonicalRecord_DropsAudioRecord(t *testing.T) {
	rec := domain.StoredMessage{
		Envelope: json.RawMessage(`{"audioMessage":{"url":"https://x/a.enc"}}`),
	}
	if _, ok := CanonicalRecord(rec); ok {
		t.Error("audio history record has no text and should be dropped")
	}
}
