package agent

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/docqa/internal/extract"
	"github.com/ShayCichocki/docqa/internal/llm"
)

// SummaryInput is the record sent to the summary agent.
type SummaryInput struct {
	OriginalQuestion string         `json:"original_question"`
	History          []HistoryEntry `json:"history"`
}

// Summarizer writes the final answer from the run history.
type Summarizer struct {
	base
}

// NewSummarizer creates a summarizer bound to caller.
func NewSummarizer(caller llm.Caller, prompts PromptSource, opts ...Option) (*Summarizer, error) {
	b, err := newBase(RoleSummary, extract.AnchorLast, caller, prompts, opts)
	if err != nil {
		return nil, err
	}
	return &Summarizer{base: b}, nil
}

// Summarize answers the original question from the full history.
func (s *Summarizer) Summarize(ctx context.Context, question string, history []HistoryEntry) (Answer, error) {
	prompt, err := encode(SummaryInput{OriginalQuestion: question, History: snapshot(history)})
	if err != nil {
		return Answer{}, fmt.Errorf("%s: encode input: %w", s.role, err)
	}

	resp, parseErr, err := s.call(ctx, prompt, nil)
	if err != nil {
		return Answer{}, err
	}
	return answerFrom(resp, parseErr), nil
}
