package agent

import (
	"context"
	"strings"

	"github.com/ShayCichocki/docqa/internal/extract"
	"github.com/ShayCichocki/docqa/internal/llm"
)

// Decomposition is the ordered list of sub-questions for one question.
type Decomposition struct {
	SubQuestions []string
	Reasoning    string
	// Degraded is set when the reply was unusable and SubQuestions holds
	// only the original question.
	Degraded bool
}

// Decomposer splits a question into sub-questions.
type Decomposer struct {
	base
}

// NewDecomposer creates a decomposer bound to caller.
func NewDecomposer(caller llm.Caller, prompts PromptSource, opts ...Option) (*Decomposer, error) {
	// The reply nests the sub-question mapping inside the answer object,
	// so the span must start at the first brace.
	b, err := newBase(RoleDecompose, extract.AnchorFirst, caller, prompts, opts)
	if err != nil {
		return nil, err
	}
	return &Decomposer{base: b}, nil
}

// Decompose returns the sub-questions in the order the model produced them.
func (d *Decomposer) Decompose(ctx context.Context, question string) (Decomposition, error) {
	resp, parseErr, err := d.call(ctx, "question: "+question, nil)
	if err != nil {
		return Decomposition{}, err
	}
	if parseErr != nil {
		return degradedDecomposition(question), nil
	}

	var subs []string
	if resp.Composite() {
		for _, item := range resp.Items {
			if s := strings.TrimSpace(item); s != "" {
				subs = append(subs, s)
			}
		}
	} else if s := strings.TrimSpace(resp.Answer); s != "" {
		subs = []string{s}
	}
	if len(subs) == 0 {
		d.logger.Warn("decomposition has no sub-questions, using original question")
		return degradedDecomposition(question), nil
	}

	return Decomposition{SubQuestions: subs, Reasoning: resp.Reasoning}, nil
}

func degradedDecomposition(question string) Decomposition {
	return Decomposition{SubQuestions: []string{question}, Degraded: true}
}
