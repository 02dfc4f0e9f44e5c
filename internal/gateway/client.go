// Package gateway speaks to the Evolution API: outbound message delivery,
// presence signals, the paginated message store, and media decryption. It
// also hosts the inbound webhook server.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"zapgem/internal/domain"
)

const (
	presenceTimeout = 10 * time.Second
	deliveryTimeout = 30 * time.Second
	pageTimeout     = 15 * time.Second
	mediaTimeout    = 30 * time.Second

	defaultPageSize = 50
)

// Client is the Evolution API client. One instance is constructed at startup
// and shared by every request.
type Client struct {
	baseURL  string
	apiKey   string
	instance string
	pageSize int
	client   *http.Client
	logger   *slog.Logger
}

// ClientConfig configures the gateway client.
type ClientConfig struct {
	BaseURL  string
	APIKey   string
	Instance string
	PageSize int
	Logger   *slog.Logger
}

// NewClient creates a gateway client with a pooled HTTP transport.
func NewClient(cfg ClientConfig) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		instance: cfg.Instance,
		pageSize: cfg.PageSize,
		client:   &http.Client{Transport: transport},
		logger:   cfg.Logger,
	}
}

// SendText delivers the final reply. The delay hint lets the gateway show a
// matching typing duration on its side. Transient failures are retried.
func (c *Client) SendText(ctx context.Context, jid, text string, delay time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	body := map[string]any{
		"number": jid,
		"text":   text,
	}
	if delay > 0 {
		body["delay"] = int(delay / time.Millisecond)
	}

	resp, err := c.postRetry(ctx, "/message/sendText/"+c.instance, body)
	if err != nil {
		return domain.E(domain.KindDelivery, "gateway.sendText", err)
	}
	resp.Body.Close()
	return nil
}

// SetPresence emits a composing/paused indicator. Best effort: callers log
// and continue on error.
func (c *Client) SetPresence(ctx context.Context, jid string, p domain.Presence) error {
	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()

	resp, err := c.post(ctx, "/chat/sendPresence/"+c.instance, map[string]any{
		"number":   jid,
		"presence": string(p),
	})
	if err != nil {
		return domain.E(domain.KindUpstream, "gateway.setPresence", err)
	}
	resp.Body.Close()
	return nil
}

// findResponse is the store's paginated reply. The reported page count is
// only read from the first page by the assembler.
type findResponse struct {
	Messages struct {
		Total   int          `json:"total"`
		Pages   int          `json:"pages"`
		Records []findRecord `json:"records"`
	} `json:"messages"`
}

type findRecord struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	MessageTimestamp int64           `json:"messageTimestamp"`
	Message          json.RawMessage `json:"message"`
}

// FindMessages fetches one page of a conversation's stored messages.
func (c *Client) FindMessages(ctx context.Context, jid string, page int) (*domain.MessagePage, error) {
	ctx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()

	resp, err := c.post(ctx, "/chat/findMessages/"+c.instance, map[string]any{
		"where": map[string]any{
			"key": map[string]any{"remoteJid": jid},
		},
		"page":   page,
		"offset": c.pageSize,
	})
	if err != nil {
		return nil, domain.E(domain.KindUpstream, "gateway.findMessages", err)
	}
	defer resp.Body.Close()

	var fr findResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, domain.E(domain.KindUpstream, "gateway.findMessages", err)
	}

	mp := &domain.MessagePage{TotalPages: fr.Messages.Pages}
	for _, rec := range fr.Messages.Records {
		mp.Records = append(mp.Records, domain.StoredMessage{
			RemoteJID: rec.Key.RemoteJID,
			FromMe:    rec.Key.FromMe,
			ID:        rec.Key.ID,
			Timestamp: time.Unix(rec.MessageTimestamp, 0),
			Envelope:  rec.Message,
		})
	}
	return mp, nil
}

// MediaBytes resolves an opaque media token into raw decoded bytes via the
// gateway's decrypt endpoint.
func (c *Client) MediaBytes(ctx context.Context, messageID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, mediaTimeout)
	defer cancel()

	resp, err := c.post(ctx, "/chat/getBase64FromMediaMessage/"+c.instance, map[string]any{
		"message": map[string]any{
			"key": map[string]any{"id": messageID},
		},
		"convertToMp4": false,
	})
	if err != nil {
		return nil, domain.E(domain.KindUpstream, "gateway.mediaBytes", err)
	}
	defer resp.Body.Close()

	var mr struct {
		Base64 string `json:"base64"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, domain.E(domain.KindUpstream, "gateway.mediaBytes", err)
	}
	data, err := base64.StdEncoding.DecodeString(mr.Base64)
	if err != nil {
		return nil, domain.E(domain.KindUpstream, "gateway.mediaBytes", fmt.Errorf("decode base64: %w", err))
	}
	return data, nil
}

// post issues a single JSON POST and treats non-2xx as an error.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	req, err := c.newRequest(ctx, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode, body: string(detail)}
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	return req, nil
}
