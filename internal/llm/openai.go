package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// DashScopeBaseURL is the OpenAI-compatible endpoint of Alibaba DashScope.
const DashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// OpenAIConfig contains configuration for an OpenAI-compatible caller.
type OpenAIConfig struct {
	Params
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Tracker *TokenTracker
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// OpenAICaller calls any /chat/completions compatible endpoint, such as
// DashScope Qwen models.
type OpenAICaller struct {
	params  Params
	apiKey  string
	baseURL string
	client  *http.Client
	tracker *TokenTracker
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content []chatPart `json:"content"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// NewOpenAICaller creates a caller for an OpenAI-compatible endpoint.
func NewOpenAICaller(cfg OpenAIConfig) (*OpenAICaller, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai-compatible %s: %w", cfg.Model, ErrNoCredential)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai-compatible: model name is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DashScopeBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &OpenAICaller{
		params:  cfg.Params.withDefaults(),
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  client,
		tracker: cfg.Tracker,
	}, nil
}

// Model returns the configured model name.
func (c *OpenAICaller) Model() string {
	return c.params.Model
}

// Generate posts one system and one user message. Vision models get the
// images appended to the user message as data URLs.
func (c *OpenAICaller) Generate(ctx context.Context, req Request) (string, error) {
	user := chatMessage{
		Role:    "user",
		Content: []chatPart{{Type: "text", Text: userContent(req.Text)}},
	}
	if c.params.Vision && len(req.Images) > 0 {
		images, err := loadImages(req.Images)
		if err != nil {
			return "", providerError("openai-compatible", c.params.Model, err)
		}
		for _, img := range images {
			user.Content = append(user.Content, chatPart{
				Type:     "image_url",
				ImageURL: &chatImageURL{URL: img.DataURL()},
			})
		}
	}

	body := chatRequest{
		Model: c.params.Model,
		Messages: []chatMessage{
			{Role: "system", Content: []chatPart{{Type: "text", Text: req.System}}},
			user,
		},
		Temperature: c.params.temperature(),
		MaxTokens:   c.params.MaxTokens,
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return "", providerError("openai-compatible", c.params.Model, err)
	}
	if resp.Error != nil {
		return "", providerError("openai-compatible", c.params.Model, fmt.Errorf("API error: %s", resp.Error.Message))
	}
	if len(resp.Choices) == 0 {
		return "", providerError("openai-compatible", c.params.Model, ErrNoChoices)
	}

	if c.tracker != nil && resp.Usage != nil {
		c.tracker.Add(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAICaller) post(ctx context.Context, body chatRequest) (*chatResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", httpResp.StatusCode, truncate(string(raw), 500))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "... (truncated)"
}
