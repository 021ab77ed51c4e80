package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiConfig contains configuration for a Gemini caller.
type GeminiConfig struct {
	Params
	APIKey string
	// BaseURL overrides the Gemini API endpoint.
	BaseURL string
	Tracker *TokenTracker
}

// GeminiCaller calls Google Gemini models.
type GeminiCaller struct {
	client  *genai.Client
	params  Params
	tracker *TokenTracker
}

// NewGeminiCaller creates a caller for a Gemini model.
func NewGeminiCaller(ctx context.Context, cfg GeminiConfig) (*GeminiCaller, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNoCredential)
	}

	params := cfg.Params.withDefaults()
	if params.Model == "" {
		params.Model = "gemini-2.0-flash"
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiCaller{client: client, params: params, tracker: cfg.Tracker}, nil
}

// Model returns the configured model name.
func (c *GeminiCaller) Model() string {
	return c.params.Model
}

// Generate sends the images followed by the prompt as one user turn.
func (c *GeminiCaller) Generate(ctx context.Context, req Request) (string, error) {
	var parts []*genai.Part
	if c.params.Vision && len(req.Images) > 0 {
		images, err := loadImages(req.Images)
		if err != nil {
			return "", providerError("gemini", c.params.Model, err)
		}
		for _, img := range images {
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data},
			})
		}
	}
	if req.Text != "" || len(parts) == 0 {
		parts = append(parts, &genai.Part{Text: req.Text})
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(c.params.temperature())),
		MaxOutputTokens: int32(c.params.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	resp, err := c.client.Models.GenerateContent(ctx, c.params.Model, contents, config)
	if err != nil {
		return "", providerError("gemini", c.params.Model, err)
	}
	if len(resp.Candidates) == 0 {
		return "", providerError("gemini", c.params.Model, ErrNoChoices)
	}

	if c.tracker != nil && resp.UsageMetadata != nil {
		c.tracker.Add(int64(resp.UsageMetadata.PromptTokenCount), int64(resp.UsageMetadata.CandidatesTokenCount))
	}

	var text []string
	if content := resp.Candidates[0].Content; content != nil {
		for _, part := range content.Parts {
			// Thought parts are the model's scratch work, not the reply.
			if part.Text != "" && !part.Thought {
				text = append(text, part.Text)
			}
		}
	}
	return joinText(text), nil
}
