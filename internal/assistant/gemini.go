package assistant

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

var errEmptyAPIKey = errors.New("gemini API key is required")

// Gemini streams replies from the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	logger *zap.Logger
}

var _ Responder = (*Gemini)(nil)

// NewGemini creates a Gemini responder.
func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errEmptyAPIKey
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		},
		logger: logger,
	}, nil
}

// Stream implements Responder.
func (g *Gemini) Stream(ctx context.Context, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		contents := []*genai.Content{genai.NewContentFromText(message, genai.RoleUser)}
		chunks := 0
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, g.config) {
			if err != nil {
				g.logger.Error("gemini stream failed", zap.Error(err), zap.Int("chunks", chunks))
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			chunks++
			if !yield(text, nil) {
				return
			}
		}
		g.logger.Debug("gemini stream finished", zap.String("model", g.model), zap.Int("chunks", chunks))
	}
}
