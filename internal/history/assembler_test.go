package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"zapgem/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// pagedGateway serves canned pages and records how many were requested.
type pagedGateway struct {
	pages    []*domain.MessagePage
	failFrom int // page number at which fetches start failing; 0 = never
	calls    int
}

func (g *pagedGateway) FindMessages(_ context.Context, _ string, page int) (*domain.MessagePage, error) {
	g.calls++
	if g.failFrom > 0 && page >= g.failFrom {
		return nil, domain.Errorf(domain.KindUpstream, "gateway.findMessages", "boom")
	}
	if page < 1 || page > len(g.pages) {
		return &domain.MessagePage{}, nil
	}
	return g.pages[page-1], nil
}

func (g *pagedGateway) SendText(context.Context, string, string, time.Duration) error { return nil }
func (g *pagedGateway) SetPresence(context.Context, string, domain.Presence) error    { return nil }
func (g *pagedGateway) MediaBytes(context.Context, string) ([]byte, error)            { return nil, nil }

func record(id string, fromMe bool, ts int64, text string) domain.StoredMessage {
	return domain.StoredMessage{
		RemoteJID: "a@s.whatsapp.net",
		FromMe:    fromMe,
		ID:        id,
		Timestamp: time.Unix(ts, 0),
		Envelope:  json.RawMessage(fmt.Sprintf(`{"conversation":%q}`, text)),
	}
}

func newAssembler(gw domain.ChatGateway) *Assembler {
	return NewAssembler(AssemblerConfig{Gateway: gw, Logger: testLogger()})
}

func TestAssemble_SortsAcrossPages(t *testing.T) {
	// Pages arrive with interleaved, out-of-order timestamps.
	gw := &pagedGateway{pages: []*domain.MessagePage{
		{TotalPages: 2, Records: []domain.StoredMessage{
			record("C", false, 300, "third"),
			record("A", false, 100, "first"),
		}},
		{TotalPages: 2, Records: []domain.StoredMessage{
			record("D", true, 400, "fourth"),
			record("B", true, 200, "second"),
		}},
	}}

	turns := newAssembler(gw).Assemble(context.Background(), "a@s.whatsapp.net")

	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].Timestamp.Before(turns[i-1].Timestamp) {
			t.Fatalf("turns not chronological at %d: %v then %v", i, turns[i-1].Timestamp, turns[i].Timestamp)
		}
	}
	if turns[0].Text != "first" || turns[3].Text != "fourth" {
		t.Errorf("order wrong: %q ... %q", turns[0].Text, turns[3].Text)
	}
	if turns[1].Role != domain.RoleModel {
		t.Errorf("fromMe record should map to model, got %s", turns[1].Role)
	}
}

func TestAssemble_TotalPagesFromFirstPageOnly(t *testing.T) {
	// Later pages report a larger count; it must be ignored.
	gw := &pagedGateway{pages: []*domain.MessagePage{
		{TotalPages: 2, Records: []domain.StoredMessage{record("A", false, 1, "a")}},
		{TotalPages: 99, Records: []domain.StoredMessage{record("B", false, 2, "b")}},
	}}

	turns := newAssembler(gw).Assemble(context.Background(), "jid")

	if gw.calls != 2 {
		t.Errorf("expected exactly 2 page fetches, got %d", gw.calls)
	}
	if len(turns) != 2 {
		t.Errorf("expected 2 turns, got %d", len(turns))
	}
}

func TestAssemble_DropsEmptyAndUnsupported(t *testing.T) {
	gw := &pagedGateway{pages: []*domain.MessagePage{
		{TotalPages: 1, Records: []domain.StoredMessage{
			record("A", false, 1, "keep me"),
			record("B", false, 2, "   "),
			{ID: "C", Timestamp: time.Unix(3, 0), Envelope: json.RawMessage(`{"imageMessage":{}}`)},
		}},
	}}

	turns := newAssembler(gw).Assemble(context.Background(), "jid")
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].Text != "keep me" {
		t.Errorf("got %q", turns[0].Text)
	}
}

func TestAssemble_DegradesToPartialOnFailure(t *testing.T) {
	gw := &pagedGateway{
		pages: []*domain.MessagePage{
			{TotalPages: 3, Records: []domain.StoredMessage{record("A", false, 1, "page one")}},
		},
		failFrom: 2,
	}

	turns := newAssembler(gw).Assemble(context.Background(), "jid")
	if len(turns) != 1 {
		t.Fatalf("expected partial history of 1 turn, got %d", len(turns))
	}
}

func TestAssemble_EmptyOnImmediateFailure(t *testing.T) {
	gw := &pagedGateway{failFrom: 1}
	turns := newAssembler(gw).Assemble(context.Background(), "jid")
	if len(turns) != 0 {
		t.Errorf("expected empty history, got %d", len(turns))
	}
}

func TestAssemble_PageCapBoundsLoop(t *testing.T) {
	// Store claims an absurd page count; the cap must stop the loop.
	var pages []*domain.MessagePage
	for i := 0; i < 100; i++ {
		pages = append(pages, &domain.MessagePage{
			TotalPages: 1000,
			Records:    []domain.StoredMessage{record(fmt.Sprintf("R%d", i), false, int64(i), "x")},
		})
	}
	gw := &pagedGateway{pages: pages}

	a := NewAssembler(AssemblerConfig{Gateway: gw, MaxPages: 5, Logger: testLogger()})
	a.Assemble(context.Background(), "jid")

	if gw.calls != 5 {
		t.Errorf("expected 5 fetches under cap, got %d", gw.calls)
	}
}

// --- Archive ---

func testArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := NewArchive(t.TempDir()+"/archive.db", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchive_AppendAndRecent(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	for i, text := range []string{"one", "two", "three"} {
		err := a.Append(ctx, "jid", domain.Turn{
			Role:      domain.RoleUser,
			Text:      text,
			Timestamp: time.Unix(int64(100+i), 0),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	turns, err := a.Recent(ctx, "jid", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Text != "two" || turns[1].Text != "three" {
		t.Errorf("expected chronological tail, got %q, %q", turns[0].Text, turns[1].Text)
	}
}

func TestArchive_SeparatesSenders(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	a.Append(ctx, "alice", domain.Turn{Role: domain.RoleUser, Text: "from alice"})
	a.Append(ctx, "bob", domain.Turn{Role: domain.RoleUser, Text: "from bob"})

	turns, err := a.Recent(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].Text != "from alice" {
		t.Errorf("got %+v", turns)
	}
}

func TestArchive_RecentEmpty(t *testing.T) {
	a := testArchive(t)
	turns, err := a.Recent(context.Background(), "nobody", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Errorf("expected empty, got %d", len(turns))
	}
}
