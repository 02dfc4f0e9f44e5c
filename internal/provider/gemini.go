// Package provider wraps the generation service behind domain.Generator.
package provider

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"zapgem/internal/domain"
)

const defaultModel = "gemini-2.0-flash"

// audioInstruction accompanies audio that arrived without caption text.
const audioInstruction = "Consider this audio and respond."

// Gemini generates replies through the Google Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	persona string
	logger  *slog.Logger
}

// GeminiConfig configures the generator.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Persona string // system persona text, may be empty
	Logger  *slog.Logger
}

// NewGemini creates the Gemini client. A missing credential is a
// configuration error caught at startup.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, domain.Errorf(domain.KindConfiguration, "provider.gemini", "missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, domain.E(domain.KindConfiguration, "provider.gemini", err)
	}

	return &Gemini{
		client:  client,
		model:   cfg.Model,
		persona: cfg.Persona,
		logger:  cfg.Logger,
	}, nil
}

// Generate sends the assembled context and returns the reply text.
func (g *Gemini) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	contents := buildContents(req)
	if len(contents) == 0 {
		return "", domain.Errorf(domain.KindGeneration, "provider.generate", "empty context")
	}

	var cfg *genai.GenerateContentConfig
	if g.persona != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{
				Parts: []*genai.Part{genai.NewPartFromText(g.persona)},
			},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", domain.E(domain.KindGeneration, "provider.generate", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", domain.Errorf(domain.KindGeneration, "provider.generate", "no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", domain.Errorf(domain.KindGeneration, "provider.generate", "empty reply")
	}

	g.logger.Debug("generation complete", "turns", len(contents), "reply_len", len(reply))
	return reply, nil
}

// buildContents maps history plus the new turn onto the wire schema. The new
// turn comes last; audio without caption text gets the fixed instruction
// part so the model knows what to do with the bytes.
func buildContents(req domain.GenerationRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		contents = append(contents, &genai.Content{
			Role:  string(turn.Role),
			Parts: []*genai.Part{genai.NewPartFromText(turn.Text)},
		})
	}

	var parts []*genai.Part
	if req.Text != "" {
		parts = append(parts, genai.NewPartFromText(req.Text))
	}
	if req.Audio != nil {
		if req.Text == "" {
			parts = append(parts, genai.NewPartFromText(audioInstruction))
		}
		parts = append(parts, genai.NewPartFromBytes(req.Audio.Data, req.Audio.MIMEType))
	}
	if len(parts) > 0 {
		contents = append(contents, &genai.Content{Role: string(domain.RoleUser), Parts: parts})
	}

	return contents
}
