package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// AnthropicConfig contains configuration for an Anthropic caller.
type AnthropicConfig struct {
	Params
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseBedrock routes requests through AWS Bedrock instead of the direct API.
	UseBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// Tracker receives token usage. Optional.
	Tracker *TokenTracker
	// Options are extra request options, appended last.
	Options []option.RequestOption
}

// AnthropicCaller calls Claude models through the Messages API.
type AnthropicCaller struct {
	inner   anthropic.Client
	params  Params
	tracker *TokenTracker
}

// NewAnthropicCaller creates a caller for a Claude model.
func NewAnthropicCaller(ctx context.Context, cfg AnthropicConfig) (*AnthropicCaller, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic: %w", ErrNoCredential)
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, cfg.Options...)

	params := cfg.Params.withDefaults()
	if params.Model == "" {
		params.Model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if cfg.UseBedrock {
		params.Model = string(translateModelForBedrock(anthropic.Model(params.Model)))
	}

	return &AnthropicCaller{
		inner:   anthropic.NewClient(opts...),
		params:  params,
		tracker: cfg.Tracker,
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock inference profile format.
// Bedrock uses cross-region inference profiles: us.anthropic.{model}-v1:0
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	if strings.HasPrefix(string(model), "us.anthropic") {
		return model
	}

	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

// Model returns the configured model name.
func (c *AnthropicCaller) Model() string {
	return c.params.Model
}

// Generate sends the prompt and images as one user turn.
func (c *AnthropicCaller) Generate(ctx context.Context, req Request) (string, error) {
	var blocks []anthropic.ContentBlockParamUnion
	if c.params.Vision && len(req.Images) > 0 {
		images, err := loadImages(req.Images)
		if err != nil {
			return "", providerError("anthropic", c.params.Model, err)
		}
		for _, img := range images {
			blocks = append(blocks, anthropic.NewImageBlockBase64(img.MIMEType, img.Base64()))
		}
	}
	if req.Text != "" || len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(req.Text))
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.params.Model),
		MaxTokens:   int64(c.params.MaxTokens),
		Temperature: anthropic.Float(c.params.temperature()),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return "", providerError("anthropic", c.params.Model, err)
	}

	if c.tracker != nil {
		c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	var parts []string
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			parts = append(parts, variant.Text)
		}
	}
	return joinText(parts), nil
}
