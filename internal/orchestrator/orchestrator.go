package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/docqa/internal/agent"
)

// Decomposer splits a question into ordered sub-questions.
type Decomposer interface {
	Decompose(ctx context.Context, question string) (agent.Decomposition, error)
}

// TextAnswerer answers a sub-question from document text.
type TextAnswerer interface {
	Answer(ctx context.Context, history []agent.HistoryEntry, question, text string) (agent.TextResult, error)
}

// ImageAnswerer answers a sub-question from page images.
type ImageAnswerer interface {
	Answer(ctx context.Context, history []agent.HistoryEntry, question string, images []string) (agent.Answer, error)
}

// Summarizer writes the final answer from the history.
type Summarizer interface {
	Summarize(ctx context.Context, question string, history []agent.HistoryEntry) (agent.Answer, error)
}

// RunResult is the outcome of one run.
type RunResult struct {
	OriginalQuestion string               `json:"original_question"`
	SubQuestions     []string             `json:"sub_questions"`
	History          []agent.HistoryEntry `json:"history"`
	FinalAnswer      string               `json:"final_answer"`
}

// Document is the read-only input of a run.
type Document struct {
	ID     string
	Text   string
	Images []string
}

// Orchestrator runs the decompose, answer and summarize pipeline.
type Orchestrator struct {
	decomposer Decomposer
	text       TextAnswerer
	image      ImageAnswerer
	summarizer Summarizer

	logger   hclog.Logger
	debugLog *DebugLogger
	emitter  *EventEmitter
	tracer   trace.Tracer
}

// New creates an orchestrator.
func New(cfg RequiredConfig, opts ...Option) (*Orchestrator, error) {
	switch {
	case cfg.Decomposer == nil:
		return nil, errors.New("orchestrator: decomposer is required")
	case cfg.TextAnswerer == nil:
		return nil, errors.New("orchestrator: text answerer is required")
	case cfg.ImageAnswerer == nil:
		return nil, errors.New("orchestrator: image answerer is required")
	case cfg.Summarizer == nil:
		return nil, errors.New("orchestrator: summarizer is required")
	}

	o := orchestratorOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = hclog.NewNullLogger()
	}
	if o.debugLog == nil {
		o.debugLog = NopLogger()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/ShayCichocki/docqa/internal/orchestrator")
	}

	return &Orchestrator{
		decomposer: cfg.Decomposer,
		text:       cfg.TextAnswerer,
		image:      cfg.ImageAnswerer,
		summarizer: cfg.Summarizer,
		logger:     o.logger.Named("orchestrator"),
		debugLog:   o.debugLog,
		emitter:    o.emitter,
		tracer:     o.tracer,
	}, nil
}

// Understand answers question about a document given its text and page
// images. A model failure at any step aborts the run and no result is
// returned.
func (o *Orchestrator) Understand(ctx context.Context, question, text string, images []string) (*RunResult, error) {
	result, _, err := o.UnderstandDocument(ctx, question, Document{Text: text, Images: images})
	return result, err
}

// UnderstandDocument is Understand with run statistics. Stats are returned
// for failed runs too.
func (o *Orchestrator) UnderstandDocument(ctx context.Context, question string, doc Document) (*RunResult, *Stats, error) {
	run := newRun(doc.ID, question)

	ctx, span := o.tracer.Start(ctx, "understand", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("document.id", doc.ID),
		attribute.Int("document.images", len(doc.Images)),
	))
	defer span.End()

	logger := o.logger.With("run_id", run.ID)
	if doc.ID != "" {
		logger = logger.With("doc_id", doc.ID)
	}
	o.emit(run, OrchestratorEvent{Type: EventRunStarted, Question: question})
	o.debugLog.Step(run, "question=%q images=%d", question, len(doc.Images))

	result, degraded, err := o.execute(ctx, run, logger, doc)
	if err != nil {
		run.transition(StateFailed, run.Index())
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		logger.Error("run failed", "state", run.State(), "error", err)
		o.debugLog.Step(run, "failed: %v", err)
		o.emit(run, OrchestratorEvent{Type: EventRunFailed, Question: question, Error: err})
		return nil, run.stats(degraded), err
	}

	stats := run.stats(degraded)
	span.SetAttributes(
		attribute.Int("run.sub_questions", len(result.SubQuestions)),
		attribute.Int("run.fallbacks", stats.Fallbacks),
		attribute.Int("run.degraded", stats.Degraded),
	)
	logger.Info("run complete", "sub_questions", len(result.SubQuestions), "fallbacks", stats.Fallbacks, "degraded", stats.Degraded, "duration", stats.Duration)
	o.debugLog.Step(run, "final=%q", result.FinalAnswer)
	o.emit(run, OrchestratorEvent{Type: EventRunDone, Question: question, Answer: result.FinalAnswer, Total: len(result.SubQuestions)})
	return result, stats, nil
}

// execute walks the run through its states. It returns the number of
// degraded decomposition and summary replies alongside the result.
func (o *Orchestrator) execute(ctx context.Context, run *Run, logger hclog.Logger, doc Document) (*RunResult, int, error) {
	degraded := 0

	if err := ctx.Err(); err != nil {
		return nil, degraded, fmt.Errorf("understand: %w", err)
	}
	decomposition, err := o.decomposer.Decompose(ctx, run.Question)
	if err != nil {
		return nil, degraded, fmt.Errorf("decompose: %w", err)
	}
	if decomposition.Degraded {
		degraded++
		logger.Warn("decomposition degraded to the original question")
	}
	subQuestions := decomposition.SubQuestions
	run.setSubQuestions(subQuestions)
	run.transition(StateDecomposed, -1)
	o.debugLog.Step(run, "sub_questions=%q", subQuestions)
	o.emit(run, OrchestratorEvent{Type: EventDecomposed, Total: len(subQuestions), Degraded: decomposition.Degraded})

	for i, sub := range subQuestions {
		if err := ctx.Err(); err != nil {
			return nil, degraded, fmt.Errorf("sub-question %d: %w", i+1, err)
		}
		step, err := o.answer(ctx, run, i, len(subQuestions), sub, doc)
		if err != nil {
			return nil, degraded, fmt.Errorf("sub-question %d: %w", i+1, err)
		}
		if err := run.record(step); err != nil {
			return nil, degraded, err
		}
		logger.Debug("sub-question answered", "index", i, "used_images", step.UsedImages, "degraded", step.Degraded)
		o.emit(run, OrchestratorEvent{
			Type:     EventSubQuestionAnswered,
			Index:    i,
			Total:    len(subQuestions),
			Question: sub,
			Answer:   step.Answer,
			Degraded: step.Degraded,
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, degraded, fmt.Errorf("summarize: %w", err)
	}
	run.transition(StateSummarizing, -1)
	o.emit(run, OrchestratorEvent{Type: EventSummarizing, Total: len(subQuestions)})
	history := run.History()
	summary, err := o.summarizer.Summarize(ctx, run.Question, history)
	if err != nil {
		return nil, degraded, fmt.Errorf("summarize: %w", err)
	}
	if summary.Degraded {
		degraded++
		logger.Warn("summary degraded")
	}
	run.transition(StateDone, -1)

	return &RunResult{
		OriginalQuestion: run.Question,
		SubQuestions:     append([]string(nil), subQuestions...),
		History:          history,
		FinalAnswer:      summary.Text,
	}, degraded, nil
}

// answer runs TEXT_TRY and, when the text is insufficient, IMAGE_FALLBACK
// for sub-question i. The history passed to the agents holds entries
// 0..i-1 only.
func (o *Orchestrator) answer(ctx context.Context, run *Run, i, total int, question string, doc Document) (Step, error) {
	started := time.Now()
	history := run.History()

	run.transition(StateTextTry, i)
	o.emit(run, OrchestratorEvent{Type: EventTextTry, Index: i, Total: total, Question: question})
	textResult, err := o.text.Answer(ctx, history, question, doc.Text)
	if err != nil {
		return Step{}, fmt.Errorf("text answer: %w", err)
	}
	if textResult.Kind == agent.Answered {
		o.debugLog.Step(run, "index=%d text answer=%q (%s)", i, textResult.Text, time.Since(started).Round(time.Millisecond))
		return Step{Index: i, Question: question, Answer: textResult.Text, Degraded: textResult.Degraded}, nil
	}

	run.transition(StateImageFallback, i)
	o.emit(run, OrchestratorEvent{Type: EventImageFallback, Index: i, Total: total, Question: question, Message: fmt.Sprintf("%d images", len(doc.Images))})
	imageAnswer, err := o.image.Answer(ctx, history, question, doc.Images)
	if err != nil {
		return Step{}, fmt.Errorf("image answer: %w", err)
	}
	o.debugLog.Step(run, "index=%d image answer=%q (%s)", i, imageAnswer.Text, time.Since(started).Round(time.Millisecond))
	return Step{Index: i, Question: question, Answer: imageAnswer.Text, UsedImages: true, Degraded: imageAnswer.Degraded}, nil
}

func (o *Orchestrator) emit(run *Run, event OrchestratorEvent) {
	if o.emitter == nil {
		return
	}
	event.RunID = run.ID
	event.DocumentID = run.DocumentID
	event.Timestamp = time.Now()
	event.Duration = time.Since(run.Started)
	o.emitter.Emit(event)
}
