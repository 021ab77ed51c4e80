package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/docqa/internal/llm/llmtest"
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
	string(RoleDecompose): "decompose",
	string(RoleText):      "text",
	string(RoleImage):     "image",
	string(RoleSummary):   "summary",
}

func TestDecomposer_KeepsOrder(t *testing.T) {
	llm := llmtest.NewScripted().On("decompose", llmtest.Text(
		`{"Reasoning (Chain-of-Thought)": "two steps", "answer": {"q1": "What tasks were evaluated?", "q2": "How many datasets in total?"}}`,
	))
	d, err := NewDecomposer(llm, testPrompts)
	require.NoError(t, err)

	got, err := d.Decompose(context.Background(), "How many datasets are used?")
	require.NoError(t, err)

	assert.Equal(t, []string{"What tasks were evaluated?", "How many datasets in total?"}, got.SubQuestions)
	assert.False(t, got.Degraded)
	assert.Equal(t, "two steps", got.Reasoning)

	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "question: How many datasets are used?", calls[0].Text)
	assert.Empty(t, calls[0].Images)
}

func TestDecomposer_Degrades(t *testing.T) {
	replies := []string{
		"I think you should ask two things.",
		`{"answer": {}}`,
		`{"answer": ["", "  "]}`,
		`{"result": {"q1": "x"}}`,
		`{"answer": {"q1": "unterminated}`,
	}

	for _, reply := range replies {
		t.Run(reply, func(t *testing.T) {
			llm := llmtest.NewScripted().On("decompose", llmtest.Text(reply))
			d, err := NewDecomposer(llm, testPrompts)
			require.NoError(t, err)

			got, err := d.Decompose(context.Background(), "Which year?")
			require.NoError(t, err)
			assert.True(t, got.Degraded)
			assert.Equal(t, []string{"Which year?"}, got.SubQuestions)
		})
	}
}

func TestDecomposer_ScalarAnswerIsOneSubQuestion(t *testing.T) {
	llm := llmtest.NewScripted().On("decompose", llmtest.Text(`{"answer": "What is on page 3?"}`))
	d, err := NewDecomposer(llm, testPrompts)
	require.NoError(t, err)

	got, err := d.Decompose(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"What is on page 3?"}, got.SubQuestions)
	assert.False(t, got.Degraded)
}

func TestDecomposer_ModelErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	llm := llmtest.NewScripted().On("decompose", llmtest.Fail(boom))
	d, err := NewDecomposer(llm, testPrompts)
	require.NoError(t, err)

	_, err = d.Decompose(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestTextAnswerer_Answered(t *testing.T) {
	llm := llmtest.NewScripted().On("text", llmtest.Text("Sure.\n{\"answer\": \"Four tasks.\"}"))
	a, err := NewTextAnswerer(llm, testPrompts)
	require.NoError(t, err)

	history := []HistoryEntry{{Question: "Earlier?", Answer: "Yes."}}
	got, err := a.Answer(context.Background(), history, "What tasks were evaluated?", "page text")
	require.NoError(t, err)

	assert.Equal(t, Answered, got.Kind)
	assert.Equal(t, "Four tasks.", got.Text)

	var sent TextInput
	require.NoError(t, json.Unmarshal([]byte(llm.Calls()[0].Text), &sent))
	assert.Equal(t, history, sent.History)
	assert.Equal(t, "What tasks were evaluated?", sent.Question)
	assert.Equal(t, "page text", sent.Text)
}

func TestTextAnswerer_UncertainIsInsufficient(t *testing.T) {
	for _, answer := range []string{"uncertain", "Uncertain", "  UNCERTAIN \n"} {
		t.Run(answer, func(t *testing.T) {
			reply, _ := json.Marshal(map[string]string{"answer": answer})
			llm := llmtest.NewScripted().On("text", llmtest.Text(string(reply)))
			a, err := NewTextAnswerer(llm, testPrompts)
			require.NoError(t, err)

			got, err := a.Answer(context.Background(), nil, "q", "t")
			require.NoError(t, err)
			assert.Equal(t, Insufficient, got.Kind)
			assert.Empty(t, got.Text)
		})
	}
}

func TestTextAnswerer_NotQuiteUncertain(t *testing.T) {
	llm := llmtest.NewScripted().On("text", llmtest.Text(`{"answer": "uncertain, maybe 4"}`))
	a, err := NewTextAnswerer(llm, testPrompts)
	require.NoError(t, err)

	got, err := a.Answer(context.Background(), nil, "q", "t")
	require.NoError(t, err)
	assert.Equal(t, Answered, got.Kind)
	assert.Equal(t, "uncertain, maybe 4", got.Text)
}

func TestTextAnswerer_DegradesToNoAnswer(t *testing.T) {
	llm := llmtest.NewScripted().On("text", llmtest.Text("no json here"))
	a, err := NewTextAnswerer(llm, testPrompts)
	require.NoError(t, err)

	got, err := a.Answer(context.Background(), nil, "q", "t")
	require.NoError(t, err)
	assert.Equal(t, Answered, got.Kind)
	assert.Equal(t, NoAnswer, got.Text)
	assert.True(t, got.Degraded)
}

func TestTextAnswerer_EmptyHistoryEncodesAsList(t *testing.T) {
	llm := llmtest.NewScripted().On("text", llmtest.Text(`{"answer": "a"}`))
	a, err := NewTextAnswerer(llm, testPrompts)
	require.NoError(t, err)

	_, err = a.Answer(context.Background(), nil, "q", "t")
	require.NoError(t, err)
	assert.Contains(t, llm.Calls()[0].Text, `"history": []`)
}

func TestImageAnswerer_SendsImages(t *testing.T) {
	llm := llmtest.NewScripted().On("image", llmtest.Text(`{"answer": "Blue shirt."}`))
	a, err := NewImageAnswerer(llm, testPrompts)
	require.NoError(t, err)

	images := []string{"doc_0.png", "doc_1.png"}
	got, err := a.Answer(context.Background(), nil, "What color is the shirt?", images)
	require.NoError(t, err)
	assert.Equal(t, "Blue shirt.", got.Text)

	call := llm.Calls()[0]
	assert.Equal(t, images, call.Images)
	assert.NotContains(t, call.Text, `"text"`)

	var sent ImageInput
	require.NoError(t, json.Unmarshal([]byte(call.Text), &sent))
	assert.Equal(t, "What color is the shirt?", sent.Question)
}

func TestImageAnswerer_Degrades(t *testing.T) {
	llm := llmtest.NewScripted().On("image", llmtest.Text("{broken"))
	a, err := NewImageAnswerer(llm, testPrompts)
	require.NoError(t, err)

	got, err := a.Answer(context.Background(), nil, "q", []string{"x.png"})
	require.NoError(t, err)
	assert.Equal(t, NoAnswer, got.Text)
	assert.True(t, got.Degraded)
}

func TestSummarizer_Summarize(t *testing.T) {
	llm := llmtest.NewScripted().On("summary", llmtest.Text(`{"answer": "9 datasets across four tasks."}`))
	s, err := NewSummarizer(llm, testPrompts)
	require.NoError(t, err)

	history := []HistoryEntry{
		{Question: "What tasks were evaluated?", Answer: "Four tasks."},
		{Question: "How many datasets in total?", Answer: "9"},
	}
	got, err := s.Summarize(context.Background(), "How many datasets are used?", history)
	require.NoError(t, err)
	assert.Equal(t, "9 datasets across four tasks.", got.Text)

	var sent SummaryInput
	require.NoError(t, json.Unmarshal([]byte(llm.Calls()[0].Text), &sent))
	assert.Equal(t, "How many datasets are used?", sent.OriginalQuestion)
	assert.Equal(t, history, sent.History)
}

func TestSummarizer_Degrades(t *testing.T) {
	llm := llmtest.NewScripted().On("summary", llmtest.Text(""))
	s, err := NewSummarizer(llm, testPrompts)
	require.NoError(t, err)

	got, err := s.Summarize(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, NoAnswer, got.Text)
}

func TestNewAgent_ConfigurationErrors(t *testing.T) {
	llm := llmtest.NewScripted()

	_, err := NewSummarizer(llm, mapPrompts{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "summary_agent"))

	_, err = NewDecomposer(nil, testPrompts)
	assert.Error(t, err)

	_, err = NewTextAnswerer(llm, nil)
	assert.Error(t, err)

	a, err := NewTextAnswerer(llm, nil, WithSystemPrompt("inline"))
	require.NoError(t, err)
	assert.Equal(t, "inline", a.SystemPrompt())
	assert.Equal(t, RoleText, a.Role())
}
