package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/docqa/internal/agent"
)

// State is the position of a run in its pipeline.
type State string

const (
	StateInit          State = "INIT"
	StateDecomposed    State = "DECOMPOSED"
	StateTextTry       State = "TEXT_TRY"
	StateImageFallback State = "IMAGE_FALLBACK"
	StateSummarizing   State = "SUMMARIZING"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// Run is the state of one Understand call. It is created per call and never
// shared between calls.
type Run struct {
	ID         string
	DocumentID string
	Question   string
	Started    time.Time

	mu           sync.Mutex
	state        State
	index        int
	subQuestions []string
	history      []agent.HistoryEntry
	steps        []Step
}

// Step records how one sub-question was answered.
type Step struct {
	Index    int
	Question string
	Answer   string
	// UsedImages is set when the text was insufficient and the image agent
	// produced the answer.
	UsedImages bool
	// Degraded is set when the reply that produced Answer was unparseable.
	Degraded bool
}

func newRun(documentID, question string) *Run {
	return &Run{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Question:   question,
		Started:    time.Now(),
		state:      StateInit,
		index:      -1,
	}
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Index returns the sub-question being answered, or -1 outside ANSWERING.
func (r *Run) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// transition moves the run forward. States are never revisited except
// TEXT_TRY and IMAGE_FALLBACK, which repeat once per sub-question.
func (r *Run) transition(to State, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = to
	r.index = index
}

func (r *Run) setSubQuestions(subs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subQuestions = append([]string(nil), subs...)
}

// History returns a copy of the entries recorded so far.
func (r *Run) History() []agent.HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agent.HistoryEntry, len(r.history))
	copy(out, r.history)
	return out
}

// record appends the answer for the next sub-question. Entries are
// appended strictly in sub-question order.
func (r *Run) record(step Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if step.Index != len(r.history) {
		return fmt.Errorf("record sub-question %d: history has %d entries", step.Index, len(r.history))
	}
	r.history = append(r.history, agent.HistoryEntry{Question: step.Question, Answer: step.Answer})
	r.steps = append(r.steps, step)
	return nil
}

// Stats summarizes a run for logging and metrics.
type Stats struct {
	RunID      string
	DocumentID string
	Steps      []Step
	// Fallbacks counts sub-questions answered from images.
	Fallbacks int
	// Degraded counts unparseable replies, including decomposition and
	// summary.
	Degraded   int
	Duration   time.Duration
	FinalState State
}

func (r *Run) stats(extraDegraded int) *Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Stats{
		RunID:      r.ID,
		DocumentID: r.DocumentID,
		Steps:      append([]Step(nil), r.steps...),
		Degraded:   extraDegraded,
		Duration:   time.Since(r.Started),
		FinalState: r.state,
	}
	for _, st := range r.steps {
		if st.UsedImages {
			s.Fallbacks++
		}
		if st.Degraded {
			s.Degraded++
		}
	}
	return s
}
