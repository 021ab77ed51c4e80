package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaURL is where a local Ollama server listens by default.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaConfig contains configuration for a local Ollama caller.
type OllamaConfig struct {
	Params
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OllamaCaller runs models on a local Ollama server. Text-only models drop
// image input.
type OllamaCaller struct {
	params  Params
	baseURL string
	client  *http.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// NewOllamaCaller creates a caller for a local model.
func NewOllamaCaller(cfg OllamaConfig) (*OllamaCaller, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama: model name is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 5 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}

	return &OllamaCaller{params: cfg.Params.withDefaults(), baseURL: baseURL, client: client}, nil
}

// Model returns the configured model name.
func (c *OllamaCaller) Model() string {
	return c.params.Model
}

// Generate calls /api/chat without streaming.
func (c *OllamaCaller) Generate(ctx context.Context, req Request) (string, error) {
	user := ollamaMessage{Role: "user", Content: userContent(req.Text)}
	if c.params.Vision && len(req.Images) > 0 {
		images, err := loadImages(req.Images)
		if err != nil {
			return "", providerError("ollama", c.params.Model, err)
		}
		for _, img := range images {
			user.Images = append(user.Images, img.Base64())
		}
	}

	body := ollamaRequest{
		Model:    c.params.Model,
		Messages: []ollamaMessage{{Role: "system", Content: req.System}, user},
		Options: map[string]any{
			"temperature": c.params.temperature(),
			"num_predict": c.params.MaxTokens,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", providerError("ollama", c.params.Model, fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", providerError("ollama", c.params.Model, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", providerError("ollama", c.params.Model, fmt.Errorf("send request: %w", err))
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", providerError("ollama", c.params.Model, fmt.Errorf("read response: %w", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", providerError("ollama", c.params.Model, fmt.Errorf("request failed with status %d: %s", httpResp.StatusCode, truncate(string(raw), 500)))
	}

	var out ollamaResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", providerError("ollama", c.params.Model, fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return "", providerError("ollama", c.params.Model, errors.New(out.Error))
	}
	return strings.TrimSpace(out.Message.Content), nil
}
