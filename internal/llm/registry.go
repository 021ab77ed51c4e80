package llm

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
)

//go:embed registry.yaml
var defaultRegistry []byte

// Backend kinds.
const (
	KindOpenAI    = "openai"
	KindOllama    = "ollama"
	KindAnthropic = "anthropic"
	KindGemini    = "gemini"
)

var (
	// ErrUnknownModel is returned when a role names a model the registry lacks.
	ErrUnknownModel = errors.New("unknown model")
	// ErrUnknownKind is returned for registry entries with an unsupported backend.
	ErrUnknownKind = errors.New("unknown backend kind")
)

// Entry describes one named model.
type Entry struct {
	Kind     string `yaml:"kind"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	// Temperature is nil when the key is absent.
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	Vision      bool     `yaml:"vision"`
}

func (e Entry) params() Params {
	return Params{Model: e.Model, Temperature: e.Temperature, MaxTokens: e.MaxTokens, Vision: e.Vision}
}

// Registry maps model names to backends.
type Registry struct {
	entries map[string]Entry
}

// Credentials resolves a provider name to its API key.
type Credentials interface {
	Lookup(provider string) (string, error)
}

// BuildOptions carries the shared dependencies of callers built from a registry.
type BuildOptions struct {
	Credentials Credentials
	Tracker     *TokenTracker
	// Bedrock settings apply to anthropic entries.
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
}

// DefaultRegistry returns the built-in registry.
func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(defaultRegistry)
}

// LoadRegistry reads a registry file. Entries in the file replace built-in
// entries of the same name.
func LoadRegistry(path string) (*Registry, error) {
	reg, err := DefaultRegistry()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return reg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	override, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	for name, e := range override.entries {
		reg.entries[name] = e
	}
	return reg, nil
}

// ParseRegistry parses registry YAML and validates every entry.
func ParseRegistry(data []byte) (*Registry, error) {
	var doc struct {
		Models map[string]Entry `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal registry: %w", err)
	}

	reg := &Registry{entries: make(map[string]Entry, len(doc.Models))}
	for name, e := range doc.Models {
		switch e.Kind {
		case KindOpenAI, KindOllama, KindAnthropic, KindGemini:
		default:
			return nil, fmt.Errorf("model %q: %w %q", name, ErrUnknownKind, e.Kind)
		}
		if e.Model == "" {
			return nil, fmt.Errorf("model %q: model name is required", name)
		}
		reg.entries[name] = e
	}
	return reg, nil
}

// Names returns the registered model names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w %q (registered: %s)", ErrUnknownModel, name, strings.Join(r.Names(), ", "))
	}
	return e, nil
}

// Build creates a caller for the named model.
func (r *Registry) Build(ctx context.Context, name string, opts BuildOptions) (Caller, error) {
	e, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	apiKey, err := r.credential(e, opts)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", name, err)
	}

	var (
		caller   Caller
		buildErr error
	)
	switch e.Kind {
	case KindOpenAI:
		var c *OpenAICaller
		c, buildErr = NewOpenAICaller(OpenAIConfig{Params: e.params(), APIKey: apiKey, BaseURL: e.BaseURL, Tracker: opts.Tracker})
		caller = c
	case KindOllama:
		var c *OllamaCaller
		c, buildErr = NewOllamaCaller(OllamaConfig{Params: e.params(), BaseURL: e.BaseURL})
		caller = c
	case KindAnthropic:
		var c *AnthropicCaller
		c, buildErr = NewAnthropicCaller(ctx, AnthropicConfig{
			Params:     e.params(),
			APIKey:     apiKey,
			UseBedrock: opts.UseBedrock,
			AWSRegion:  opts.AWSRegion,
			AWSProfile: opts.AWSProfile,
			Tracker:    opts.Tracker,
		})
		caller = c
	case KindGemini:
		var c *GeminiCaller
		c, buildErr = NewGeminiCaller(ctx, GeminiConfig{Params: e.params(), APIKey: apiKey, BaseURL: e.BaseURL, Tracker: opts.Tracker})
		caller = c
	default:
		buildErr = fmt.Errorf("%w %q", ErrUnknownKind, e.Kind)
	}
	if buildErr != nil {
		return nil, fmt.Errorf("model %q: %w", name, buildErr)
	}
	return caller, nil
}

func (r *Registry) credential(e Entry, opts BuildOptions) (string, error) {
	if e.Provider == "" || e.Kind == KindOllama {
		return "", nil
	}
	if e.Kind == KindAnthropic && opts.UseBedrock {
		return "", nil
	}
	if opts.Credentials == nil {
		return "", fmt.Errorf("provider %q: %w", e.Provider, ErrNoCredential)
	}
	return opts.Credentials.Lookup(e.Provider)
}
