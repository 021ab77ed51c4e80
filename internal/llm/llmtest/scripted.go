// Package llmtest provides a scripted llm.Caller for tests.
package llmtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ShayCichocki/docqa/internal/llm"
)

// ErrScriptExhausted is returned when a system prompt has no replies left.
var ErrScriptExhausted = errors.New("no scripted response available")

// Reply is one scripted model reply.
type Reply struct {
	Text string
	Err  error
}

// Text returns a reply carrying text.
func Text(s string) Reply { return Reply{Text: s} }

// Fail returns a reply carrying err.
func Fail(err error) Reply { return Reply{Err: err} }

// Scripted replays replies keyed on the request system prompt, in order.
// A single Scripted can back every role because each role has its own
// system prompt. It records every request it receives.
type Scripted struct {
	mu      sync.Mutex
	replies map[string][]Reply
	next    map[string]int
	calls   []llm.Request
}

// NewScripted creates an empty script.
func NewScripted() *Scripted {
	return &Scripted{replies: make(map[string][]Reply), next: make(map[string]int)}
}

// On appends replies for requests with the given system prompt.
func (s *Scripted) On(system string, replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[system] = append(s.replies[system], replies...)
	return s
}

// Generate returns the next reply scripted for req.System.
func (s *Scripted) Generate(ctx context.Context, req llm.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, cloneRequest(req))

	list, ok := s.replies[req.System]
	if !ok {
		return "", fmt.Errorf("unknown system prompt %q", req.System)
	}
	idx := s.next[req.System]
	if idx >= len(list) {
		return "", ErrScriptExhausted
	}
	s.next[req.System] = idx + 1
	return list[idx].Text, list[idx].Err
}

// Calls returns every recorded request.
func (s *Scripted) Calls() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsFor returns the recorded requests for one system prompt.
func (s *Scripted) CallsFor(system string) []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []llm.Request
	for _, c := range s.calls {
		if c.System == system {
			out = append(out, c)
		}
	}
	return out
}

// Reset rewinds every script and clears recorded calls.
func (s *Scripted) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = make(map[string]int)
	s.calls = nil
}

func cloneRequest(req llm.Request) llm.Request {
	if req.Images != nil {
		req.Images = append([]string(nil), req.Images...)
	}
	return req
}
