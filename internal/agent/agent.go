// Package agent implements the four role agents of a document QA run.
//
// A role agent wraps an llm.Caller with a fixed system prompt, serializes a
// structured input record into the prompt and extracts a structured reply.
// Unparseable replies never fail the call: each role returns its degraded
// default and marks the result Degraded. Caller errors are returned as-is.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/docqa/internal/extract"
	"github.com/ShayCichocki/docqa/internal/llm"
)

// Role names a role agent. It doubles as the prompt store key.
type Role string

const (
	RoleDecompose Role = "decompose_agent"
	RoleText      Role = "text_agent"
	RoleImage     Role = "image_agent"
	RoleSummary   Role = "summary_agent"
)

// NoAnswer is the answer recorded when a reply could not be parsed.
const NoAnswer = "NaN"

// Uncertain is the answer a text agent gives when the text is insufficient.
const Uncertain = "uncertain"

const tracerName = "github.com/ShayCichocki/docqa/internal/agent"

// HistoryEntry is one answered sub-question.
type HistoryEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// PromptSource resolves role names to system prompts.
type PromptSource interface {
	Lookup(role string) (string, error)
}

// Option configures a role agent.
type Option func(*base)

// WithLogger sets the logger used for degraded replies and raw exchanges.
func WithLogger(l hclog.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithTracer sets the tracer used for per-call spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *base) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithSystemPrompt overrides the prompt store for this agent.
func WithSystemPrompt(prompt string) Option {
	return func(b *base) {
		b.system = prompt
	}
}

// base holds what every role shares.
type base struct {
	role   Role
	caller llm.Caller
	system string
	anchor extract.Anchor
	logger hclog.Logger
	tracer trace.Tracer
}

func newBase(role Role, anchor extract.Anchor, caller llm.Caller, prompts PromptSource, opts []Option) (base, error) {
	b := base{
		role:   role,
		caller: caller,
		anchor: anchor,
		logger: hclog.NewNullLogger(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&b)
	}

	if caller == nil {
		return base{}, fmt.Errorf("%s: model caller is required", role)
	}
	if b.system == "" {
		if prompts == nil {
			return base{}, fmt.Errorf("%s: prompt store is required", role)
		}
		system, err := prompts.Lookup(string(role))
		if err != nil {
			return base{}, fmt.Errorf("%s: %w", role, err)
		}
		b.system = system
	}
	b.logger = b.logger.Named(string(role))
	return b, nil
}

// Role returns the agent role.
func (b *base) Role() Role {
	return b.role
}

// SystemPrompt returns the prompt sent with every call.
func (b *base) SystemPrompt() string {
	return b.system
}

// call invokes the model and parses its reply. A non-nil parseErr means the
// reply was unusable and the caller should degrade; err is a model failure.
func (b *base) call(ctx context.Context, text string, images []string) (resp extract.Response, parseErr error, err error) {
	ctx, span := b.tracer.Start(ctx, string(b.role),
		trace.WithAttributes(
			attribute.String("agent.role", string(b.role)),
			attribute.Int("agent.images", len(images)),
		))
	defer span.End()

	raw, err := b.caller.Generate(ctx, llm.Request{System: b.system, Text: text, Images: images})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		return extract.Response{}, nil, fmt.Errorf("%s: %w", b.role, err)
	}
	b.logger.Trace("model reply", "raw", raw)

	resp, parseErr = extract.Parse(raw, b.anchor)
	if parseErr != nil {
		span.SetAttributes(attribute.Bool("agent.degraded", true))
		b.logger.Warn("unparseable reply, using default", "error", parseErr)
	}
	return resp, parseErr, nil
}

// encode renders an input record as indented JSON without HTML escaping.
func encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// snapshot copies history so a callee cannot alias the run's slice.
func snapshot(history []HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, len(history))
	copy(out, history)
	return out
}

// Answer is the result of the image and summary roles.
type Answer struct {
	Text      string
	Reasoning string
	// Degraded is set when the reply was unparseable and Text is NoAnswer.
	Degraded bool
}

func answerFrom(resp extract.Response, parseErr error) Answer {
	if parseErr != nil {
		return Answer{Text: NoAnswer, Degraded: true}
	}
	return Answer{Text: resp.Answer, Reasoning: resp.Reasoning}
}
