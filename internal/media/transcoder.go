// Package media turns inbound voice content into bytes the generation
// service accepts: fetch or decrypt, transcode through ffmpeg, clean up.
package media

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"zapgem/internal/domain"
)

const (
	defaultWorkers  = 2
	fetchTimeout    = 30 * time.Second
	convertTimeout  = 60 * time.Second
	targetMIMEType  = "audio/mp3"
	targetExtension = ".mp3"
)

// runFunc executes an external command and returns its combined output.
// Swappable in tests.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Transcoder fetches, converts, and cleans up voice content. Conversions
// pass through a bounded worker pool so one slow ffmpeg run cannot starve
// the other in-flight requests.
type Transcoder struct {
	gw     domain.ChatGateway
	client *http.Client
	dir    string
	ffmpeg string
	sem    chan struct{}
	run    runFunc
	logger *slog.Logger
}

// Config configures the transcoder.
type Config struct {
	Gateway    domain.ChatGateway
	Dir        string // temp artifact directory (default: os.TempDir())
	FFmpegPath string // transcoder binary (default: "ffmpeg")
	Workers    int    // max concurrent conversions
	Logger     *slog.Logger
}

// New creates a transcoder.
func New(cfg Config) *Transcoder {
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Transcoder{
		gw:     cfg.Gateway,
		client: &http.Client{Timeout: fetchTimeout},
		dir:    cfg.Dir,
		ffmpeg: cfg.FFmpegPath,
		sem:    make(chan struct{}, cfg.Workers),
		run:    runCommand,
		logger: cfg.Logger,
	}
}

// Probe verifies the transcoder binary is installed. Called once at startup:
// a missing binary is a configuration error, never a per-request one.
func (t *Transcoder) Probe(ctx context.Context) error {
	if _, err := t.run(ctx, t.ffmpeg, "-version"); err != nil {
		return domain.Errorf(domain.KindConfiguration, "media.probe",
			"transcoder binary %q not available: %v", t.ffmpeg, err)
	}
	return nil
}

// Transcode resolves an audio reference into target-codec bytes. Every
// temporary artifact is removed before return on every path: success, fetch
// failure, conversion failure.
func (t *Transcoder) Transcode(ctx context.Context, ref *domain.AudioRef) (*domain.AudioClip, error) {
	raw, err := t.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	// Per-request unique names: a fixed filename would let concurrent
	// requests overwrite or delete each other's artifacts.
	id := uuid.NewString()
	rawPath := filepath.Join(t.dir, "zapgem-"+id+sourceExtension(ref.MimeType))
	outPath := filepath.Join(t.dir, "zapgem-"+id+targetExtension)
	defer t.cleanup(rawPath, outPath)

	if err := os.WriteFile(rawPath, raw, 0o600); err != nil {
		return nil, domain.E(domain.KindTranscoding, "media.transcode", err)
	}

	if err := t.convert(ctx, rawPath, outPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, domain.E(domain.KindTranscoding, "media.transcode", err)
	}

	t.logger.Debug("audio transcoded", "in_bytes", len(raw), "out_bytes", len(data))
	return &domain.AudioClip{Data: data, MIMEType: targetMIMEType}, nil
}

// fetch acquires the raw audio bytes: direct GET when the descriptor carries
// a URL, otherwise a decrypt round-trip through the gateway.
func (t *Transcoder) fetch(ctx context.Context, ref *domain.AudioRef) ([]byte, error) {
	if ref.URL == "" {
		return t.gw.MediaBytes(ctx, ref.MessageID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, domain.E(domain.KindUpstream, "media.fetch", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, domain.E(domain.KindUpstream, "media.fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.Errorf(domain.KindUpstream, "media.fetch", "HTTP %d fetching audio", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.E(domain.KindUpstream, "media.fetch", err)
	}
	return data, nil
}

// convert runs ffmpeg under the worker pool. A non-zero exit becomes a
// transcoding error carrying the captured diagnostic output.
func (t *Transcoder) convert(ctx context.Context, rawPath, outPath string) error {
	select {
	case t.sem <- struct{}{}:
		defer func() { <-t.sem }()
	case <-ctx.Done():
		return domain.E(domain.KindTranscoding, "media.convert", ctx.Err())
	}

	ctx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	args := []string{"-y", "-i", rawPath, "-vn", "-ar", "16000", "-ac", "1", "-b:a", "64k", outPath}
	output, err := t.run(ctx, t.ffmpeg, args...)
	if err != nil {
		return domain.Errorf(domain.KindTranscoding, "media.convert",
			"%s exited with error: %v: %s", t.ffmpeg, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// cleanup removes every temp artifact of this request. Runs deferred so no
// return path can leak a file.
func (t *Transcoder) cleanup(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("temp artifact not removed", "path", p, "err", err)
		}
	}
}

func sourceExtension(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return ".mp3"
	case strings.Contains(mimeType, "mp4"), strings.Contains(mimeType, "m4a"):
		return ".m4a"
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	default:
		return ".ogg" // WhatsApp voice notes are ogg/opus
	}
}
