// Package llm provides the model callers used by the role agents.
//
// Every backend satisfies Caller: one text prompt, optional image file paths,
// one raw text reply. Backends that cannot see images ignore them.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultTemperature is the sampling temperature used when a registry entry
// does not set one.
const DefaultTemperature = 0.7

// DefaultMaxTokens caps the reply length when a registry entry does not.
const DefaultMaxTokens = 1024

// ErrNoCredential is returned when a remote backend has no API key.
var ErrNoCredential = errors.New("no API key configured")

// ErrNoChoices is returned when a backend reply carries no candidates.
var ErrNoChoices = errors.New("model returned no choices")

// Request is a single generation call.
type Request struct {
	// System is the role system prompt.
	System string
	// Text is the user prompt. May be empty for image-only calls.
	Text string
	// Images are paths of image files to attach, in order.
	Images []string
}

// Caller produces a raw text reply for a request.
type Caller interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f CallerFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Params are the generation parameters fixed when a caller is built.
type Params struct {
	Model string
	// Temperature is nil when unset; zero is a valid setting.
	Temperature *float64
	MaxTokens   int
	// Vision marks backends that accept image input.
	Vision bool
}

func (p Params) withDefaults() Params {
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	return p
}

func (p Params) temperature() float64 {
	if p.Temperature == nil {
		return DefaultTemperature
	}
	return *p.Temperature
}

// inputPrefix introduces the user payload for chat-style backends.
const inputPrefix = "\n\n**Input:** \n"

func userContent(text string) string {
	return inputPrefix + text
}

func joinText(parts []string) string {
	return strings.TrimSpace(strings.Join(parts, ""))
}

// providerError tags a backend failure with the backend and model name.
func providerError(provider, model string, err error) error {
	return fmt.Errorf("%s %s: %w", provider, model, err)
}
