// Package agent drives the reply pipeline: consume inbound events, build a
// generation context, and deliver the reply through the chat gateway.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"zapgem/internal/domain"
	"zapgem/internal/extract"
)

const (
	defaultConcurrency = 4

	// Pacing makes delivery read like a human typed it: 60ms per rune,
	// clamped so short replies still pause and long ones do not stall.
	pacingPerRune = 60 * time.Millisecond
	pacingMin     = 2 * time.Second
	pacingMax     = 8 * time.Second

	apologyText = "Desculpa, não consegui processar sua mensagem agora. Pode tentar de novo?"
)

// state is the position of one message inside the pipeline. Transitions are
// strictly forward; there are no retries within a single message.
type state int

const (
	stateReceived state = iota
	stateExtracting
	stateTranscoding
	stateContextBuilding
	stateGenerating
	statePacing
	stateDelivering
	stateDone
)

func (s state) String() string {
	switch s {
	case stateReceived:
		return "received"
	case stateExtracting:
		return "extracting"
	case stateTranscoding:
		return "transcoding"
	case stateContextBuilding:
		return "context_building"
	case stateGenerating:
		return "generating"
	case statePacing:
		return "pacing"
	case stateDelivering:
		return "delivering"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Status is the outcome of processing one inbound event.
type Status int

const (
	// StatusIgnored means the event was filtered out before any work.
	StatusIgnored Status = iota
	// StatusReplied means the generated reply was delivered.
	StatusReplied
	// StatusRecovered means the pipeline failed but the apology was delivered.
	StatusRecovered
	// StatusFailed means neither the reply nor the apology reached the sender.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusReplied:
		return "replied"
	case StatusRecovered:
		return "recovered"
	case StatusFailed:
		return "failed"
	default:
		return "ignored"
	}
}

// Transcoder turns a voice reference into model-ready audio.
type Transcoder interface {
	Transcode(ctx context.Context, ref *domain.AudioRef) (*domain.AudioClip, error)
}

// Historian assembles prior conversation turns for a sender. It degrades
// internally and never fails the pipeline.
type Historian interface {
	Assemble(ctx context.Context, jid string) domain.History
}

// Archiver persists completed turns. Optional; append failures are logged
// and never fail the pipeline.
type Archiver interface {
	Append(ctx context.Context, jid string, turn domain.Turn) error
}

// Pipeline consumes webhook events from the bus and replies through the
// gateway. Messages from the same sender are processed strictly in order;
// different senders proceed in parallel up to the concurrency bound.
type Pipeline struct {
	bus         domain.MessageBus
	gateway     domain.ChatGateway
	generator   domain.Generator
	transcoder  Transcoder
	historian   Historian
	archive     Archiver
	targetJID   string
	concurrency int
	logger      *slog.Logger
	gate        *senderGate
}

// PipelineConfig holds all dependencies and tuning parameters.
type PipelineConfig struct {
	Bus        domain.MessageBus
	Gateway    domain.ChatGateway
	Generator  domain.Generator
	Transcoder Transcoder
	Historian  Historian
	Archive    Archiver // optional
	// TargetJID restricts the pipeline to one conversation. Empty means
	// reply to every sender.
	TargetJID   string
	Concurrency int
	Logger      *slog.Logger
}

// NewPipeline creates the reply pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		bus:         cfg.Bus,
		gateway:     cfg.Gateway,
		generator:   cfg.Generator,
		transcoder:  cfg.Transcoder,
		historian:   cfg.Historian,
		archive:     cfg.Archive,
		targetJID:   cfg.TargetJID,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		gate:        newSenderGate(),
	}
}

// Run consumes inbound events until the context is cancelled or the bus
// closes, processing them with bounded concurrency.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("pipeline started", "concurrency", p.concurrency)

	sem := make(chan struct{}, p.concurrency)
	inbound := p.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				p.logger.Info("inbound channel closed, pipeline stopping")
				return
			}
			sem <- struct{}{}
			go func(ev domain.InboundEvent) {
				defer func() { <-sem }()
				p.Process(ctx, ev)
			}(ev)
		}
	}
}

// Process runs one event through the pipeline and returns its outcome.
func (p *Pipeline) Process(ctx context.Context, ev domain.InboundEvent) Status {
	if ev.Kind != domain.EventMessageUpsert || ev.Message == nil {
		return StatusIgnored
	}
	msg := ev.Message
	if msg.FromMe {
		return StatusIgnored
	}
	if p.targetJID != "" && msg.RemoteJID != p.targetJID {
		p.logger.Debug("skipping message from non-target sender", "jid", msg.RemoteJID)
		return StatusIgnored
	}

	// Serialize per sender so replies land in the order messages arrived.
	unlock := p.gate.lock(msg.RemoteJID)
	defer unlock()

	start := time.Now()
	st := p.advance(msg.RemoteJID, stateReceived, stateExtracting)

	canon, ok := extract.Canonical(msg.Envelope, msg.MessageID, msg.FromMe)
	if !ok {
		p.logger.Debug("unsupported message shape, skipping", "jid", msg.RemoteJID, "message_id", msg.MessageID)
		return StatusIgnored
	}

	req := domain.GenerationRequest{Text: canon.Text()}

	if ref := canon.AudioRef(); ref != nil {
		st = p.advance(msg.RemoteJID, st, stateTranscoding)
		clip, err := p.transcoder.Transcode(ctx, ref)
		if err != nil {
			return p.recover(ctx, msg.RemoteJID, st, err)
		}
		req.Audio = clip
	}

	st = p.advance(msg.RemoteJID, st, stateContextBuilding)
	req.History = p.historian.Assemble(ctx, msg.RemoteJID)

	st = p.advance(msg.RemoteJID, st, stateGenerating)
	reply, err := p.generator.Generate(ctx, req)
	if err != nil {
		return p.recover(ctx, msg.RemoteJID, st, err)
	}

	st = p.advance(msg.RemoteJID, st, statePacing)
	delay := pacingDelay(reply)

	st = p.advance(msg.RemoteJID, st, stateDelivering)
	if err := p.gateway.SetPresence(ctx, msg.RemoteJID, domain.PresenceComposing); err != nil {
		p.logger.Warn("presence update failed", "jid", msg.RemoteJID, "error", err)
	}
	if err := p.gateway.SendText(ctx, msg.RemoteJID, reply, delay); err != nil {
		p.logger.Error("reply delivery failed", "jid", msg.RemoteJID, "state", st.String(), "error", err)
		return StatusFailed
	}
	if err := p.gateway.SetPresence(ctx, msg.RemoteJID, domain.PresencePaused); err != nil {
		p.logger.Warn("presence update failed", "jid", msg.RemoteJID, "error", err)
	}

	p.archiveTurns(ctx, msg, req, reply)

	p.advance(msg.RemoteJID, st, stateDone)
	p.logger.Info("reply delivered",
		"jid", msg.RemoteJID,
		"reply_len", len(reply),
		"pacing_ms", delay.Milliseconds(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return StatusReplied
}

// recover answers a failed message with the fixed apology so the sender is
// never left on read. An apology that itself fails is logged and swallowed.
func (p *Pipeline) recover(ctx context.Context, jid string, st state, cause error) Status {
	p.logger.Error("pipeline failed",
		"jid", jid,
		"state", st.String(),
		"kind", domain.KindOf(cause).String(),
		"error", cause,
	)
	if err := p.gateway.SendText(ctx, jid, apologyText, pacingMin); err != nil {
		p.logger.Error("apology delivery failed", "jid", jid, "error", err)
		return StatusFailed
	}
	return StatusRecovered
}

// archiveTurns records the exchange. The user turn is skipped when the
// message had no text (audio-only with no caption).
func (p *Pipeline) archiveTurns(ctx context.Context, msg *domain.MessageUpsert, req domain.GenerationRequest, reply string) {
	if p.archive == nil {
		return
	}
	if req.Text != "" {
		turn := domain.Turn{Role: domain.RoleUser, Text: req.Text, Timestamp: msg.Timestamp}
		if err := p.archive.Append(ctx, msg.RemoteJID, turn); err != nil {
			p.logger.Warn("archive append failed", "jid", msg.RemoteJID, "error", err)
		}
	}
	turn := domain.Turn{Role: domain.RoleModel, Text: reply, Timestamp: time.Now()}
	if err := p.archive.Append(ctx, msg.RemoteJID, turn); err != nil {
		p.logger.Warn("archive append failed", "jid", msg.RemoteJID, "error", err)
	}
}

func (p *Pipeline) advance(jid string, from, to state) state {
	p.logger.Debug("pipeline state", "jid", jid, "from", from.String(), "to", to.String())
	return to
}

// pacingDelay derives the typing delay from reply length.
func pacingDelay(text string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(text)) * pacingPerRune
	if d < pacingMin {
		return pacingMin
	}
	if d > pacingMax {
		return pacingMax
	}
	return d
}

// senderGate hands out one mutex per sender JID.
type senderGate struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSenderGate() *senderGate {
	return &senderGate{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the sender's mutex and returns its release func.
func (g *senderGate) lock(jid string) func() {
	g.mu.Lock()
	l, ok := g.locks[jid]
	if !ok {
		l = &sync.Mutex{}
		g.locks[jid] = l
	}
	g.mu.Unlock()

	l.Lock()
	return l.Unlock
}
