package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"zapgem/internal/domain"
	"zapgem/internal/extract"
)

// WebhookConfig configures the inbound webhook server.
type WebhookConfig struct {
	Port   int
	Path   string // webhook URL path (default: /webhook)
	Logger *slog.Logger
}

// Webhook receives Evolution API notifications and hands decoded events to
// the reply pipeline through the bus. Route dispatch stays thin: decode,
// acknowledge, publish.
type Webhook struct {
	port   int
	path   string
	bus    domain.MessageBus
	logger *slog.Logger
	server *http.Server
}

// NewWebhook creates the webhook server.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	return &Webhook{
		port:   cfg.Port,
		path:   cfg.Path,
		logger: cfg.Logger,
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+w.path, w.handleEvent)
	mux.HandleFunc("GET /health", w.handleHealth)

	w.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", w.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "port", w.port, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) handleEvent(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	ev, err := extract.Classify(body)
	if err != nil {
		w.logger.Warn("malformed webhook payload", "err", err)
		http.Error(rw, "Invalid payload", http.StatusBadRequest)
		return
	}

	switch ev.Kind {
	case domain.EventConnectionUpdate:
		w.logger.Info("gateway connection update",
			"instance", ev.Instance,
			"state", ev.Connection.State,
		)
	case domain.EventMessageUpsert:
		w.logger.Info("message received",
			"instance", ev.Instance,
			"from", ev.Message.RemoteJID,
			"from_me", ev.Message.FromMe,
		)
		w.bus.Publish(ev)
	default:
		w.logger.Debug("ignoring unsupported event", "instance", ev.Instance)
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(map[string]string{"status": "received"})
}

func (w *Webhook) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}
