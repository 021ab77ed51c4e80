// Package eval grades run results against ground truth with an LLM judge.
package eval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/docqa/internal/dataset"
	"github.com/ShayCichocki/docqa/internal/extract"
	"github.com/ShayCichocki/docqa/internal/llm"
	"github.com/ShayCichocki/docqa/internal/results"
)

// Role is the prompt store key of the judge.
const Role = "judge_agent"

// ScoreKey is the field the judge must return.
const ScoreKey = "binary_correctness"

// ErrNoScore is returned when a judge reply has no usable score.
var ErrNoScore = errors.New("judge reply has no binary_correctness score")

// PromptSource looks up system prompts by role.
type PromptSource interface {
	Lookup(role string) (string, error)
}

// Option configures a Judge.
type Option func(*Judge)

// WithLogger sets the structured logger.
func WithLogger(l hclog.Logger) Option {
	return func(j *Judge) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithInterval waits d between judge calls, for rate limited endpoints.
func WithInterval(d time.Duration) Option {
	return func(j *Judge) { j.interval = d }
}

// WithProgress sets a callback invoked after each graded record with the
// number of records done so far.
func WithProgress(fn func(done, total int)) Option {
	return func(j *Judge) { j.onProgress = fn }
}

// Judge scores predicted answers with a model.
type Judge struct {
	caller     llm.Caller
	system     string
	logger     hclog.Logger
	interval   time.Duration
	onProgress func(done, total int)
}

// NewJudge creates a judge bound to caller.
func NewJudge(caller llm.Caller, prompts PromptSource, opts ...Option) (*Judge, error) {
	if caller == nil {
		return nil, fmt.Errorf("%s: model caller is required", Role)
	}
	if prompts == nil {
		return nil, fmt.Errorf("%s: prompt store is required", Role)
	}
	system, err := prompts.Lookup(Role)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", Role, err)
	}

	j := &Judge{caller: caller, system: system, logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.Named("judge")
	return j, nil
}

// Prompt renders the grading request for one record.
func Prompt(r results.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", r.OriginalQuestion)
	fmt.Fprintf(&b, "Predicted Answer: %s\n", r.FinalAnswer)
	fmt.Fprintf(&b, "Ground Truth Answer: %s\n", dataset.RawText(r.GroundTruth))
	return b.String()
}

// Grade scores one record. An unusable reply scores 0 and sets degraded; err
// is a model failure.
func (j *Judge) Grade(ctx context.Context, r results.Record) (score int, degraded bool, err error) {
	raw, err := j.caller.Generate(ctx, llm.Request{System: j.system, Text: Prompt(r)})
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", Role, err)
	}
	j.logger.Trace("model reply", "raw", raw)

	score, err = ParseScore(raw)
	if err != nil {
		j.logger.Warn("unparseable judgement, scoring 0", "question", r.OriginalQuestion, "error", err)
		return 0, true, nil
	}
	return score, false, nil
}

// ParseScore extracts the binary score from a judge reply: the object
// between the last opening brace and the last closing brace, decoded by
// extract.Fields.
func ParseScore(raw string) (int, error) {
	fields, err := extract.Fields(raw, extract.AnchorLast)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoScore, err)
	}
	for _, f := range fields {
		if strings.ToLower(strings.TrimSpace(f.Key)) == ScoreKey {
			return scoreValue(f.Value)
		}
	}
	return 0, ErrNoScore
}

func scoreValue(v string) (int, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNoScore, v)
	}
	return binary(f)
}

func binary(f float64) (int, error) {
	switch f {
	case 0:
		return 0, nil
	case 1:
		return 1, nil
	}
	return 0, fmt.Errorf("%w: score %v is not 0 or 1", ErrNoScore, f)
}

// Report summarizes an evaluation.
type Report struct {
	Total   int
	Correct int
	// Unscored counts replies that could not be parsed. They score 0.
	Unscored int
	Records  []results.Record
}

// Accuracy is the share of correct records, or 0 with no records.
func (r *Report) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// Evaluate grades every record in order and returns copies carrying
// binary_correctness. A model failure stops the evaluation.
func (j *Judge) Evaluate(ctx context.Context, records []results.Record) (*Report, error) {
	report := &Report{Total: len(records), Records: make([]results.Record, 0, len(records))}

	for i, r := range records {
		if i > 0 && j.interval > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(j.interval):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		score, degraded, err := j.Grade(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		if degraded {
			report.Unscored++
		}
		report.Correct += score

		r.BinaryCorrectness = &score
		report.Records = append(report.Records, r)
		if j.onProgress != nil {
			j.onProgress(i+1, len(records))
		}
	}

	j.logger.Info("evaluation finished",
		"total", report.Total,
		"correct", report.Correct,
		"unscored", report.Unscored,
		"accuracy", report.Accuracy(),
	)
	return report, nil
}

// EvaluateFile grades the results file at in and writes the graded records
// to out.
func (j *Judge) EvaluateFile(ctx context.Context, in, out string) (*Report, error) {
	records, err := results.ReadRecords(in)
	if err != nil {
		return nil, err
	}
	report, err := j.Evaluate(ctx, records)
	if err != nil {
		return nil, err
	}
	if err := results.WriteRecords(out, report.Records); err != nil {
		return nil, err
	}
	return report, nil
}
