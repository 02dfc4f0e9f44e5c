package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"

	"zapgem/internal/domain"
)

type captureBus struct {
	events []domain.InboundEvent
}

func (b *captureBus) Publish(ev domain.InboundEvent)         { b.events = append(b.events, ev) }
func (b *captureBus) Subscribe() <-chan domain.InboundEvent  { return nil }
func (b *captureBus) Close()                                 {}

func newTestWebhook() (*Webhook, *captureBus) {
	w := NewWebhook(WebhookConfig{Port: 0, Logger: testLogger()})
	b := &captureBus{}
	w.bus = b
	return w, b
}

func TestHandleEvent_PublishesUpsert(t *testing.T) {
	w, b := newTestWebhook()

	body := `{"event":"messages.upsert","instance":"main","data":{"key":{"remoteJid":"x@s.whatsapp.net","id":"A"},"message":{"conversation":"oi"}}}`
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	w.handleEvent(rec, req)

	if rec.Code != 200 {
		t.Fatalf("got status %d", rec.Code)
	}
	if len(b.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(b.events))
	}
	if b.events[0].Kind != domain.EventMessageUpsert {
		t.Errorf("got kind %s", b.events[0].Kind)
	}
}

func TestHandleEvent_ConnectionUpdateNotPublished(t *testing.T) {
	w, b := newTestWebhook()

	body := `{"event":"connection.update","instance":"main","data":{"state":"open"}}`
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	w.handleEvent(rec, req)

	if rec.Code != 200 {
		t.Fatalf("got status %d", rec.Code)
	}
	if len(b.events) != 0 {
		t.Errorf("connection updates are logged only, got %d published", len(b.events))
	}
}

func TestHandleEvent_MalformedPayload(t *testing.T) {
	w, b := newTestWebhook()

	req := httptest.NewRequest("POST", "/webhook", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	w.handleEvent(rec, req)

	if rec.Code != 400 {
		t.Errorf("malformed payload should 400, got %d", rec.Code)
	}
	if len(b.events) != 0 {
		t.Errorf("nothing should be published, got %d", len(b.events))
	}
}

func TestHandleEvent_UnknownEventAccepted(t *testing.T) {
	w, b := newTestWebhook()

	body := `{"event":"chats.update","instance":"main","data":{}}`
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	w.handleEvent(rec, req)

	if rec.Code != 200 {
		t.Errorf("unknown events are acknowledged, got %d", rec.Code)
	}
	if len(b.events) != 0 {
		t.Errorf("unknown events are not published, got %d", len(b.events))
	}
}

func TestHandleHealth(t *testing.T) {
	w, _ := newTestWebhook()

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	w.handleHealth(rec, req)

	if rec.Code != 200 {
		t.Errorf("got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("got body %q", rec.Body.String())
	}
}
