package agent

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/docqa/internal/extract"
	"github.com/ShayCichocki/docqa/internal/llm"
)

// ImageInput is the record sent to the image agent alongside the images.
type ImageInput struct {
	History  []HistoryEntry `json:"history"`
	Question string         `json:"question"`
}

// ImageAnswerer answers a sub-question from document page images.
type ImageAnswerer struct {
	base
}

// NewImageAnswerer creates an image answerer bound to caller, which should
// be a vision model.
func NewImageAnswerer(caller llm.Caller, prompts PromptSource, opts ...Option) (*ImageAnswerer, error) {
	b, err := newBase(RoleImage, extract.AnchorLast, caller, prompts, opts)
	if err != nil {
		return nil, err
	}
	return &ImageAnswerer{base: b}, nil
}

// Answer asks the model to answer question from images given the history so far.
func (a *ImageAnswerer) Answer(ctx context.Context, history []HistoryEntry, question string, images []string) (Answer, error) {
	prompt, err := encode(ImageInput{History: snapshot(history), Question: question})
	if err != nil {
		return Answer{}, fmt.Errorf("%s: encode input: %w", a.role, err)
	}

	resp, parseErr, err := a.call(ctx, prompt, images)
	if err != nil {
		return Answer{}, err
	}
	return answerFrom(resp, parseErr), nil
}
