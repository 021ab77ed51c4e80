package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/docqa/internal/llm/llmtest"
	"github.com/ShayCichocki/docqa/internal/orchestrator"
	"github.com/ShayCichocki/docqa/internal/results"
)

type mapPrompts map[string]string

func (m mapPrompts) Lookup(role string) (string, error) {
	p, ok := m[role]
	if !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	return p, nil
}

var testPrompts = mapPrompts{Role: "judge"}

func record(question, answer, truth string) results.Record {
	return results.NewRecord(&orchestrator.RunResult{
		OriginalQuestion: question,
		SubQuestions:     []string{question},
		FinalAnswer:      answer,
	}, json.RawMessage(truth))
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "json", raw: `{"binary_correctness": 1}`, want: 1},
		{name: "zero", raw: `{"binary_correctness": 0}`, want: 0},
		{name: "surrounding text", raw: "The answer matches.\n{\"binary_correctness\": 1}\nDone.", want: 1},
		{name: "single quotes", raw: `{'binary_correctness': 1}`, want: 1},
		{name: "string value", raw: `{"binary_correctness": "1"}`, want: 1},
		{name: "float value", raw: `{"binary_correctness": 1.0}`, want: 1},
		{name: "bool value", raw: `{"binary_correctness": true}`, want: 1},
		{name: "no object", raw: "correct", wantErr: true},
		{name: "missing key", raw: `{"score": 1}`, wantErr: true},
		{name: "out of range", raw: `{"binary_correctness": 0.5}`, wantErr: true},
		{name: "malformed", raw: `{"binary_correctness": }`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScore(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoScore)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrompt(t *testing.T) {
	p := Prompt(record("How many?", "3", `"three"`))
	assert.Equal(t, "Question: How many?\nPredicted Answer: 3\nGround Truth Answer: three\n", p)

	p = Prompt(record("Which?", "a, b", `["a", "b"]`))
	assert.Contains(t, p, `Ground Truth Answer: ["a", "b"]`)
}

func TestJudge_Evaluate(t *testing.T) {
	script := llmtest.NewScripted().On("judge",
		llmtest.Text(`{"binary_correctness": 1}`),
		llmtest.Text(`I cannot decide.`),
		llmtest.Text(`{"binary_correctness": 0}`),
	)
	var progress []int
	j, err := NewJudge(script, testPrompts, WithProgress(func(done, total int) {
		assert.Equal(t, 3, total)
		progress = append(progress, done)
	}))
	require.NoError(t, err)

	in := []results.Record{
		record("q1", "a", `"a"`),
		record("q2", "b", `"b"`),
		record("q3", "c", `"d"`),
	}
	report, err := j.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Correct)
	assert.Equal(t, 1, report.Unscored)
	assert.InDelta(t, 1.0/3.0, report.Accuracy(), 1e-9)
	assert.Equal(t, []int{1, 2, 3}, progress)

	require.Len(t, report.Records, 3)
	for i, want := range []int{1, 0, 0} {
		require.NotNil(t, report.Records[i].BinaryCorrectness)
		assert.Equal(t, want, *report.Records[i].BinaryCorrectness)
	}
	assert.Nil(t, in[0].BinaryCorrectness)

	calls := script.CallsFor("judge")
	require.Len(t, calls, 3)
	assert.Contains(t, calls[2].Text, "Ground Truth Answer: d")
}

func TestJudge_ModelErrorStops(t *testing.T) {
	script := llmtest.NewScripted().On("judge",
		llmtest.Text(`{"binary_correctness": 1}`),
		llmtest.Fail(errors.New("429 too many requests")),
	)
	j, err := NewJudge(script, testPrompts)
	require.NoError(t, err)

	_, err = j.Evaluate(context.Background(), []results.Record{record("q1", "a", `"a"`), record("q2", "b", `"b"`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 2")
}

func TestJudge_EvaluateFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "result.json")
	out := filepath.Join(dir, "result_eval.json")
	require.NoError(t, results.WriteRecords(in, []results.Record{record("q1", "a", `"a"`)}))

	j, err := NewJudge(llmtest.NewScripted().On("judge", llmtest.Text(`{"binary_correctness": 1}`)), testPrompts)
	require.NoError(t, err)

	report, err := j.EvaluateFile(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Accuracy())

	graded, err := results.ReadRecords(out)
	require.NoError(t, err)
	require.Len(t, graded, 1)
	require.NotNil(t, graded[0].BinaryCorrectness)
	assert.Equal(t, 1, *graded[0].BinaryCorrectness)
}

func TestReport_AccuracyEmpty(t *testing.T) {
	assert.Equal(t, 0.0, (&Report{}).Accuracy())
}

func TestNewJudge_Requires(t *testing.T) {
	_, err := NewJudge(nil, testPrompts)
	assert.Error(t, err)
	_, err = NewJudge(llmtest.NewScripted(), mapPrompts{})
	assert.Error(t, err)
}
