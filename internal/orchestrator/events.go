package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventRunStarted indicates a run has started.
	EventRunStarted EventType = "run_started"
	// EventDecomposed indicates the question was split into sub-questions.
	EventDecomposed EventType = "decomposed"
	// EventTextTry indicates a sub-question is being answered from text.
	EventTextTry EventType = "text_try"
	// EventImageFallback indicates the text was insufficient and the images
	// are being consulted.
	EventImageFallback EventType = "image_fallback"
	// EventSubQuestionAnswered indicates an answer was recorded in the history.
	EventSubQuestionAnswered EventType = "sub_question_answered"
	// EventSummarizing indicates the final answer is being written.
	EventSummarizing EventType = "summarizing"
	// EventRunDone indicates the run completed.
	EventRunDone EventType = "run_done"
	// EventRunFailed indicates the run aborted on a model error.
	EventRunFailed EventType = "run_failed"
)

// OrchestratorEvent represents an event emitted during a run.
// These events are used to update the TUI and track progress.
type OrchestratorEvent struct {
	// Type is the kind of event.
	Type EventType
	// RunID identifies the run.
	RunID string
	// DocumentID is the document being processed, if the caller set one.
	DocumentID string
	// Index is the sub-question index for per-sub-question events.
	Index int
	// Total is the number of sub-questions once known.
	Total int
	// Question is the sub-question, or the original question for run events.
	Question string
	// Answer is the recorded or final answer.
	Answer string
	// Degraded is set when the reply behind this event was unparseable.
	Degraded bool
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is the elapsed run time.
	Duration time.Duration
}
