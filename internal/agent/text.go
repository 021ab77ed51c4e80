package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/docqa/internal/extract"
	"github.com/ShayCichocki/docqa/internal/llm"
)

// TextKind tags the outcome of a text answer.
type TextKind int

const (
	// Answered means the text held an answer.
	Answered TextKind = iota
	// Insufficient means the text could not answer the question.
	Insufficient
)

// String returns the kind name.
func (k TextKind) String() string {
	if k == Insufficient {
		return "insufficient"
	}
	return "answered"
}

// TextResult is the outcome of a text answer. Text is empty when Kind is
// Insufficient.
type TextResult struct {
	Kind      TextKind
	Text      string
	Reasoning string
	// Degraded is set when the reply was unparseable. A degraded result is
	// Answered with NoAnswer.
	Degraded bool
}

// TextInput is the record sent to the text agent.
type TextInput struct {
	History  []HistoryEntry `json:"history"`
	Question string         `json:"question"`
	Text     string         `json:"text"`
}

// TextAnswerer answers a sub-question from document text.
type TextAnswerer struct {
	base
}

// NewTextAnswerer creates a text answerer bound to caller.
func NewTextAnswerer(caller llm.Caller, prompts PromptSource, opts ...Option) (*TextAnswerer, error) {
	b, err := newBase(RoleText, extract.AnchorLast, caller, prompts, opts)
	if err != nil {
		return nil, err
	}
	return &TextAnswerer{base: b}, nil
}

// Answer asks the model to answer question from text given the history so far.
func (a *TextAnswerer) Answer(ctx context.Context, history []HistoryEntry, question, text string) (TextResult, error) {
	prompt, err := encode(TextInput{History: snapshot(history), Question: question, Text: text})
	if err != nil {
		return TextResult{}, fmt.Errorf("%s: encode input: %w", a.role, err)
	}

	resp, parseErr, err := a.call(ctx, prompt, nil)
	if err != nil {
		return TextResult{}, err
	}
	if parseErr != nil {
		return TextResult{Kind: Answered, Text: NoAnswer, Degraded: true}, nil
	}
	if isUncertain(resp.Answer) {
		return TextResult{Kind: Insufficient, Reasoning: resp.Reasoning}, nil
	}
	return TextResult{Kind: Answered, Text: resp.Answer, Reasoning: resp.Reasoning}, nil
}

func isUncertain(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), Uncertain)
}
