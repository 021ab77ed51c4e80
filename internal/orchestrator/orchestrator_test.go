package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/docqa/internal/agent"
	"github.com/ShayCichocki/docqa/internal/llm"
	"github.com/ShayCichocki/docqa/internal/llm/llmtest"
)

const (
	decomposePrompt = "decompose"
	textPrompt      = "text"
	imagePrompt     = "image"
	summaryPrompt   = "summary"
)

type mapPrompts map[string]string

func (m mapPrompts) Lookup(role string) (string, error) {
	p, ok := m[role]
	if !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	return p, nil
}

var testPrompts = mapPrompts{
	string(agent.RoleDecompose): decomposePrompt,
	string(agent.RoleText):      textPrompt,
	string(agent.RoleImage):     imagePrompt,
	string(agent.RoleSummary):   summaryPrompt,
}

// newTestOrchestrator wires real role agents to a single caller.
func newTestOrchestrator(t *testing.T, caller llm.Caller, opts ...Option) *Orchestrator {
	t.Helper()

	decomposer, err := agent.NewDecomposer(caller, testPrompts)
	require.NoError(t, err)
	text, err := agent.NewTextAnswerer(caller, testPrompts)
	require.NoError(t, err)
	image, err := agent.NewImageAnswerer(caller, testPrompts)
	require.NoError(t, err)
	summarizer, err := agent.NewSummarizer(caller, testPrompts)
	require.NoError(t, err)

	o, err := New(RequiredConfig{
		Decomposer:    decomposer,
		TextAnswerer:  text,
		ImageAnswerer: image,
		Summarizer:    summarizer,
	}, opts...)
	require.NoError(t, err)
	return o
}

func datasetsScript() *llmtest.Scripted {
	return llmtest.NewScripted().
		On(decomposePrompt, llmtest.Text(`{"answer": {"q1": "What tasks were evaluated?", "q2": "How many datasets in total?"}}`)).
		On(textPrompt, llmtest.Text(`{"answer": "Four tasks."}`), llmtest.Text(`{"answer": "9"}`)).
		On(summaryPrompt, llmtest.Text(`{"answer": "9 datasets across four tasks."}`))
}

func TestUnderstand_DatasetsScenario(t *testing.T) {
	script := datasetsScript()
	o := newTestOrchestrator(t, script)

	result, err := o.Understand(context.Background(), "How many datasets are used?", "page text", []string{"doc_0.png"})
	require.NoError(t, err)

	assert.Equal(t, "How many datasets are used?", result.OriginalQuestion)
	assert.Equal(t, []string{"What tasks were evaluated?", "How many datasets in total?"}, result.SubQuestions)
	assert.Equal(t, []agent.HistoryEntry{
		{Question: "What tasks were evaluated?", Answer: "Four tasks."},
		{Question: "How many datasets in total?", Answer: "9"},
	}, result.History)
	assert.Equal(t, "9 datasets across four tasks.", result.FinalAnswer)
	assert.Empty(t, script.CallsFor(imagePrompt))
}

func TestUnderstand_ImageFallback(t *testing.T) {
	script := llmtest.NewScripted().
		On(decomposePrompt, llmtest.Text(`{"answer": {"q1": "What color is the shirt?"}}`)).
		On(textPrompt, llmtest.Text(`{"answer": "uncertain"}`)).
		On(imagePrompt, llmtest.Text(`{"answer": "Blue shirt."}`)).
		On(summaryPrompt, llmtest.Text(`{"answer": "The shirt is blue."}`))
	o := newTestOrchestrator(t, script)

	images := []string{"doc_2.png", "doc_3.png"}
	result, _, err := o.UnderstandDocument(context.Background(), "What is he wearing?", Document{ID: "doc", Text: "no colors here", Images: images})
	require.NoError(t, err)

	require.Len(t, result.History, 1)
	assert.Equal(t, "Blue shirt.", result.History[0].Answer)

	imageCalls := script.CallsFor(imagePrompt)
	require.Len(t, imageCalls, 1)
	assert.Equal(t, images, imageCalls[0].Images)
}

func TestUnderstand_FallbackIsPerSubQuestion(t *testing.T) {
	script := llmtest.NewScripted().
		On(decomposePrompt, llmtest.Text(`{"answer": {"q1": "a?", "q2": "b?", "q3": "c?"}}`)).
		On(textPrompt,
			llmtest.Text(`{"answer": " Uncertain "}`),
			llmtest.Text(`{"answer": "from text"}`),
			llmtest.Text(`{"answer": "UNCERTAIN"}`),
		).
		On(imagePrompt, llmtest.Text(`{"answer": "from image 1"}`), llmtest.Text(`{"answer": "from image 3"}`)).
		On(summaryPrompt, llmtest.Text(`{"answer": "done"}`))
	o := newTestOrchestrator(t, script)

	result, stats, err := o.UnderstandDocument(context.Background(), "q", Document{Text: "t", Images: []string{"p.png"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"from image 1", "from text", "from image 3"}, []string{
		result.History[0].Answer, result.History[1].Answer, result.History[2].Answer,
	})
	// Text is attempted first for every sub-question.
	assert.Len(t, script.CallsFor(textPrompt), 3)
	assert.Len(t, script.CallsFor(imagePrompt), 2)
	assert.Equal(t, 2, stats.Fallbacks)
	assert.Equal(t, StateDone, stats.FinalState)
}

func TestUnderstand_NoImageCallForAnsweredText(t *testing.T) {
	answers := []string{"uncertain, maybe 4", "NaN", "not uncertain", ""}

	for _, answer := range answers {
		t.Run(answer, func(t *testing.T) {
			reply, _ := json.Marshal(map[string]string{"answer": answer})
			script := llmtest.NewScripted().
				On(decomposePrompt, llmtest.Text(`{"answer": {"q1": "x?"}}`)).
				On(textPrompt, llmtest.Text(string(reply))).
				On(summaryPrompt, llmtest.Text(`{"answer": "ok"}`))
			o := newTestOrchestrator(t, script)

			_, err := o.Understand(context.Background(), "q", "t", []string{"p.png"})
			require.NoError(t, err)
			assert.Empty(t, script.CallsFor(imagePrompt))
		})
	}
}

func TestUnderstand_DegradedTextDoesNotFallBack(t *testing.T) {
	script := llmtest.NewScripted().
		On(decomposePrompt, llmtest.Text(`{"answer": {"q1": "x?"}}`)).
		On(textPrompt, llmtest.Text("I could not find it")).
		On(summaryPrompt, llmtest.Text(`{"answer": "unknown"}`))
	o := newTestOrchestrator(t, script)

	result, stats, err := o.UnderstandDocument(context.Background(), "q", Document{Text: "t"})
	require.NoError(t, err)
	assert.Equal(t, agent.NoAnswer, result.History[0].Answer)
	assert.Empty(t, script.CallsFor(imagePrompt))
	assert.Equal(t, 1, stats.Degraded)
}

func TestUnderstand_DecompositionDegrades(t *testing.T) {
	script := llmtest.NewScripted().
		On(decomposePrompt, llmtest.Text("Let me think about this.")).
		On(textPrompt, llmtest.Text(`{"answer": "2019"}`)).
		On(summaryPrompt, llmtest.Text(`{"answer": "2019"}`))
	o := newTestOrchestrator(t, script)

	result, _, err := o.UnderstandDocument(context.Background(), "Which year?", Document{Text: "t"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Which year?"}, result.SubQuestions)
	require.Len(t, result.History, 1)
	assert.Equal(t, "Which year?", result.History[0].Question)
}

func TestUnderstand_HistoryOrdering(t *testing.T) {
	script := llmtest.NewScripted().
		On(decomposePrompt, llmtest.Text(`{"answer": {"q1": "first?", "q2": "second?", "q3": "third?"}}`)).
		On(textPrompt,
			llmtest.Text(`{"answer": "one"}`),
			llmtest.Text(`{"answer": "uncertain"}`),
			llmtest.Text(`{"answer": "three"}`),
		).
		On(imagePrompt, llmtest.Text(`{"answer": "two"}`)).
		On(summaryPrompt, llmtest.Text(`{"answer": "one two three"}`))
	o := newTestOrchestrator(t, script)

	result, err := o.Understand(context.Background(), "q", "t", nil)
	require.NoError(t, err)

	textCalls := script.CallsFor(textPrompt)
	require.Len(t, textCalls, 3)
	for k, call := range textCalls {
		var in agent.TextInput
		require.NoError(t, json.Unmarshal([]byte(call.Text), &in))
		assert.Equal(t, result.SubQuestions[k], in.Question)
		assert.Equal(t, result.History[:k], in.History, "sub-question %d", k)
	}

	imageCalls := script.CallsFor(imagePrompt)
	require.Len(t, imageCalls, 1)
	var imageIn agent.ImageInput
	require.NoError(t, json.Unmarshal([]byte(imageCalls[0].Text), &imageIn))
	assert.Equal(t, result.History[:1], imageIn.History)

	var summaryIn agent.SummaryInput
	require.NoError(t, json.Unmarshal([]byte(script.CallsFor(summaryPrompt)[0].Text), &summaryIn))
	assert.Equal(t, result.History, summaryIn.History)
	assert.Equal(t, "q", summaryIn.OriginalQuestion)
}

func TestUnderstand_Idempotent(t *testing.T) {
	script := datasetsScript()
	o := newTestOrchestrator(t, script)

	first, err := o.Understand(context.Background(), "How many datasets are used?", "page text", nil)
	require.NoError(t, err)

	script.Reset()
	second, err := o.Understand(context.Background(), "How many datasets are used?", "page text", nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUnderstand_HistoryMatchesSubQuestions(t *testing.T) {
	decompositions := []string{
		`{"answer": {"q1": "a?"}}`,
		`{"answer": {"q1": "a?", "q2": "b?", "q3": "c?", "q4": "d?"}}`,
		`{"answer": ["a?", "b?"]}`,
		`not json`,
	}

	for _, reply := range decompositions {
		t.Run(reply, func(t *testing.T) {
			script := llmtest.NewScripted().
				On(decomposePrompt, llmtest.Text(reply)).
				On(summaryPrompt, llmtest.Text(`{"answer": "done"}`))
			for i := 0; i < 4; i++ {
				script.On(textPrompt, llmtest.Text(fmt.Sprintf(`{"answer": "answer %d"}`, i)))
			}
			o := newTestOrchestrator(t, script)

			result, err := o.Understand(context.Background(), "q", "t", nil)
			require.NoError(t, err)
			assert.Len(t, result.History, len(result.SubQuestions))
			for i, entry := range result.History {
				assert.Equal(t, result.SubQuestions[i], entry.Question)
			}
		})
	}
}

func TestUnderstand_ModelErrorAborts(t *testing.T) {
	boom := errors.New("connection reset by peer")
	script := llmtest.NewScripted().
		On(decomposePrompt, llmtest.Text(`{"answer": {"q1": "a?", "q2": "b?", "q3": "c?"}}`)).
		On(textPrompt, llmtest.Text(`{"answer": "one"}`), llmtest.Fail(boom))
	emitter := NewEventEmitter(64)
	o := newTestOrchestrator(t, script, WithEmitter(emitter))

	result, stats, err := o.UnderstandDocument(context.Background(), "q", Document{ID: "doc-7", Text: "t"})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "sub-question 2")

	assert.Equal(t, StateFailed, stats.FinalState)
	assert.Len(t, stats.Steps, 1)
	// No further sub-question or summary was attempted.
	assert.Len(t, script.CallsFor(textPrompt), 2)
	assert.Empty(t, script.CallsFor(summaryPrompt))

	emitter.Close()
	var last OrchestratorEvent
	for ev := range emitter.Events() {
		last = ev
	}
	assert.Equal(t, EventRunFailed, last.Type)
	assert.Equal(t, "doc-7", last.DocumentID)
	assert.True(t, errors.Is(last.Error, boom))
}

func TestUnderstand_SummaryErrorAborts(t *testing.T) {
	boom := errors.New("503 service unavailable")
	script := llmtest.NewScripted().
		On(decomposePrompt, llmtest.Text(`{"answer": {"q1": "a?"}}`)).
		On(textPrompt, llmtest.Text(`{"answer": "one"}`)).
		On(summaryPrompt, llmtest.Fail(boom))
	o := newTestOrchestrator(t, script)

	result, err := o.Understand(context.Background(), "q", "t", nil)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, boom))
}

func TestUnderstand_Canceled(t *testing.T) {
	o := newTestOrchestrator(t, datasetsScript())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Understand(ctx, "q", "t", nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestUnderstand_EventSequence(t *testing.T) {
	script := llmtest.NewScripted().
		On(decomposePrompt, llmtest.Text(`{"answer": {"q1": "a?", "q2": "b?"}}`)).
		On(textPrompt, llmtest.Text(`{"answer": "uncertain"}`), llmtest.Text(`{"answer": "two"}`)).
		On(imagePrompt, llmtest.Text(`{"answer": "one"}`)).
		On(summaryPrompt, llmtest.Text(`{"answer": "done"}`))
	emitter := NewEventEmitter(64)
	o := newTestOrchestrator(t, script, WithEmitter(emitter))

	_, _, err := o.UnderstandDocument(context.Background(), "q", Document{ID: "d1", Text: "t"})
	require.NoError(t, err)
	emitter.Close()

	var types []EventType
	runIDs := map[string]bool{}
	for ev := range emitter.Events() {
		types = append(types, ev.Type)
		runIDs[ev.RunID] = true
		assert.Equal(t, "d1", ev.DocumentID)
	}
	assert.Equal(t, []EventType{
		EventRunStarted,
		EventDecomposed,
		EventTextTry,
		EventImageFallback,
		EventSubQuestionAnswered,
		EventTextTry,
		EventSubQuestionAnswered,
		EventSummarizing,
		EventRunDone,
	}, types)
	assert.Len(t, runIDs, 1)
}

// A shared orchestrator keeps concurrent runs apart because history lives
// in the per-call Run.
func TestUnderstand_ConcurrentRunsShareOrchestrator(t *testing.T) {
	caller := llm.CallerFunc(func(ctx context.Context, req llm.Request) (string, error) {
		switch req.System {
		case decomposePrompt:
			q := strings.TrimPrefix(req.Text, "question: ")
			return fmt.Sprintf(`{"answer": {"q1": "%s part 1", "q2": "%s part 2"}}`, q, q), nil
		case textPrompt:
			var in agent.TextInput
			if err := json.Unmarshal([]byte(req.Text), &in); err != nil {
				return "", err
			}
			return fmt.Sprintf(`{"answer": "%s|%d"}`, in.Question, len(in.History)), nil
		case summaryPrompt:
			var in agent.SummaryInput
			if err := json.Unmarshal([]byte(req.Text), &in); err != nil {
				return "", err
			}
			return fmt.Sprintf(`{"answer": "%s:%d"}`, in.OriginalQuestion, len(in.History)), nil
		}
		return "", fmt.Errorf("unexpected system prompt %q", req.System)
	})
	o := newTestOrchestrator(t, caller)

	var wg sync.WaitGroup
	results := make([]*RunResult, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Understand(context.Background(), fmt.Sprintf("doc%d", i), "t", nil)
		}(i)
	}
	wg.Wait()

	for i, result := range results {
		require.NoError(t, errs[i])
		q := fmt.Sprintf("doc%d", i)
		assert.Equal(t, q+":2", result.FinalAnswer)
		assert.Equal(t, []agent.HistoryEntry{
			{Question: q + " part 1", Answer: q + " part 1|0"},
			{Question: q + " part 2", Answer: q + " part 2|1"},
		}, result.History)
	}
}

func TestUnderstand_DebugLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	debugLog, err := NewDebugLogger(path)
	require.NoError(t, err)

	o := newTestOrchestrator(t, datasetsScript(), WithDebugLogger(debugLog))
	_, err = o.Understand(context.Background(), "How many datasets are used?", "t", nil)
	require.NoError(t, err)
	require.NoError(t, debugLog.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	log := string(data)
	assert.Contains(t, log, "state=DECOMPOSED")
	assert.Contains(t, log, "state=TEXT_TRY index=1 text answer=\"9\"")
	assert.Contains(t, log, "final=\"9 datasets across four tasks.\"")
}

func TestNew_RequiresAgents(t *testing.T) {
	script := llmtest.NewScripted()
	decomposer, err := agent.NewDecomposer(script, testPrompts)
	require.NoError(t, err)

	_, err = New(RequiredConfig{Decomposer: decomposer})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text answerer")

	_, err = New(RequiredConfig{})
	assert.Contains(t, err.Error(), "decomposer")
}
