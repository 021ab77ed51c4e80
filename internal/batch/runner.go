// Package batch drives the orchestrator over a range of dataset samples.
//
// Each document is an independent run. Documents may run in parallel, but
// results are committed to the sink in dataset order, and the sink is
// flushed after every commit. A document that fails (missing page file,
// model error) is logged and left out of the results; the batch carries on.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/docqa/internal/dataset"
	"github.com/ShayCichocki/docqa/internal/orchestrator"
	"github.com/ShayCichocki/docqa/internal/results"
)

// Source yields dataset documents by index.
type Source interface {
	Len() int
	Get(i int) (*dataset.Document, error)
}

// Understander runs one document.
type Understander interface {
	UnderstandDocument(ctx context.Context, question string, doc orchestrator.Document) (*orchestrator.RunResult, *orchestrator.Stats, error)
}

// Sink receives committed records in dataset order.
type Sink interface {
	Append(r results.Record) error
}

// RunLog stores one row per attempted document.
type RunLog interface {
	RecordRun(r *results.RunRow) error
}

// Signals lets an operator stop or pause the batch.
type Signals interface {
	ShouldStop() bool
	WaitWhilePaused(ctx context.Context, poll time.Duration) bool
}

// ProgressStatus is the state of one document in a progress update.
type ProgressStatus string

const (
	ProgressStarted ProgressStatus = "started"
	ProgressDone    ProgressStatus = "done"
	ProgressFailed  ProgressStatus = "failed"
)

// Progress reports one document state change.
type Progress struct {
	Index      int
	DocumentID string
	Question   string
	Status     ProgressStatus
	Answer     string
	Err        error
	Duration   time.Duration
	// Completed and Total count documents across the batch.
	Completed int
	Total     int
}

// Failure records a document left out of the results.
type Failure struct {
	Index      int
	DocumentID string
	Err        error
}

// Summary is the outcome of a batch.
type Summary struct {
	BatchID   string
	Start     int
	End       int
	Succeeded int
	Failed    int
	// NotStarted counts documents skipped after a stop signal or
	// cancellation.
	NotStarted int
	Stopped    bool
	Fallbacks  int
	Degraded   int
	Duration   time.Duration
	Failures   []Failure
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers sets how many documents run at once.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l hclog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRunLog records every attempted document.
func WithRunLog(log RunLog) Option {
	return func(r *Runner) { r.runLog = log }
}

// WithSignals enables stop and pause files.
func WithSignals(s Signals) Option {
	return func(r *Runner) { r.signals = s }
}

// WithMetrics records batch metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithProgress sets a callback invoked for every progress update. It is
// called from worker goroutines and must not block.
func WithProgress(fn func(Progress)) Option {
	return func(r *Runner) { r.onProgress = fn }
}

// WithBatchID sets the batch id used in the run log. A random id is used
// otherwise.
func WithBatchID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.batchID = id
		}
	}
}

// Runner runs documents through an Understander.
type Runner struct {
	understander Understander
	sink         Sink
	workers      int
	batchID      string
	logger       hclog.Logger
	runLog       RunLog
	signals      Signals
	metrics      *Metrics
	onProgress   func(Progress)
}

// NewRunner creates a Runner committing to sink.
func NewRunner(u Understander, sink Sink, opts ...Option) (*Runner, error) {
	if u == nil {
		return nil, errors.New("batch: understander is required")
	}
	if sink == nil {
		return nil, errors.New("batch: sink is required")
	}
	r := &Runner{
		understander: u,
		sink:         sink,
		workers:      1,
		batchID:      uuid.NewString(),
		logger:       hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("batch")
	return r, nil
}

// BatchID returns the id recorded in the run log.
func (r *Runner) BatchID() string {
	return r.batchID
}

// outcome is a finished document waiting for its turn to commit.
type outcome struct {
	record *results.Record
	err    error
}

// committer appends outcomes to the sink strictly in index order.
type committer struct {
	mu      sync.Mutex
	next    int
	pending map[int]outcome
	sink    Sink
}

// commit stores o for index i and flushes every outcome that is now in
// order. Failed documents only advance the cursor.
func (c *committer) commit(i int, o outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[i] = o
	for {
		ready, ok := c.pending[c.next]
		if !ok {
			return nil
		}
		delete(c.pending, c.next)
		c.next++
		if ready.err != nil || ready.record == nil {
			continue
		}
		if err := c.sink.Append(*ready.record); err != nil {
			return err
		}
	}
}

// Run processes samples [start, end) of src. Document failures are
// reported in the summary; the returned error is reserved for failures that
// stop the batch, such as an unwritable results file.
func (r *Runner) Run(ctx context.Context, src Source, start, end int) (*Summary, error) {
	started := time.Now()
	if start < 0 {
		start = 0
	}
	if end > src.Len() {
		end = src.Len()
	}
	if end < start {
		end = start
	}
	total := end - start

	summary := &Summary{BatchID: r.batchID, Start: start, End: end}
	c := &committer{next: start, pending: make(map[int]outcome), sink: r.sink}

	var mu sync.Mutex
	completed := 0
	finish := func(i int, docID string, stats *orchestrator.Stats, err error) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{Index: i, DocumentID: docID, Err: err})
		} else {
			summary.Succeeded++
		}
		if stats != nil {
			summary.Fallbacks += stats.Fallbacks
			summary.Degraded += stats.Degraded
		}
	}
	progress := func(p Progress) {
		if r.onProgress == nil {
			return
		}
		mu.Lock()
		p.Completed = completed
		mu.Unlock()
		p.Total = total
		r.onProgress(p)
	}

	r.logger.Info("batch started", "batch_id", r.batchID, "start", start, "end", end, "workers", r.workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	dispatched := start
	for i := start; i < end; i++ {
		if gctx.Err() != nil {
			break
		}
		if r.signals != nil {
			if r.signals.ShouldStop() || !r.signals.WaitWhilePaused(gctx, 500*time.Millisecond) {
				summary.Stopped = true
				r.logger.Warn("stop signal received, not starting further documents", "next", i)
				break
			}
		}

		dispatched = i + 1
		g.Go(func() error {
			record, docID, stats, err := r.process(gctx, src, i, progress)
			finish(i, docID, stats, err)
			if err != nil {
				progress(Progress{Index: i, DocumentID: docID, Status: ProgressFailed, Err: err})
			} else {
				progress(Progress{Index: i, DocumentID: docID, Status: ProgressDone, Answer: record.FinalAnswer, Duration: stats.Duration})
			}
			if err := c.commit(i, outcome{record: record, err: err}); err != nil {
				return fmt.Errorf("commit sample %d: %w", i, err)
			}
			return nil
		})
	}

	err := g.Wait()
	summary.NotStarted = end - dispatched
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	summary.Duration = time.Since(started)

	r.logger.Info("batch finished",
		"batch_id", r.batchID,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"not_started", summary.NotStarted,
		"stopped", summary.Stopped,
		"duration", summary.Duration.Round(time.Millisecond),
	)
	return summary, err
}

// process runs sample i and records it in the run log and metrics. The
// returned error is a document failure.
func (r *Runner) process(ctx context.Context, src Source, i int, progress func(Progress)) (*results.Record, string, *orchestrator.Stats, error) {
	logger := r.logger.With("sample", i)

	doc, err := src.Get(i)
	if err != nil {
		logger.Error("skipping sample", "error", err)
		r.observe(nil, false)
		return nil, "", nil, err
	}
	logger = logger.With("doc_id", doc.DocID)
	progress(Progress{Index: i, DocumentID: doc.DocID, Question: doc.Question, Status: ProgressStarted})

	result, stats, err := r.understander.UnderstandDocument(ctx, doc.Question, orchestrator.Document{
		ID:     doc.DocID,
		Text:   doc.Text,
		Images: doc.Images,
	})
	r.logRun(logger, i, doc, result, stats, err)
	r.observe(stats, err == nil)
	if err != nil {
		logger.Error("skipping document", "error", err)
		return nil, doc.DocID, stats, err
	}

	record := results.NewRecord(result, doc.Answer)
	logger.Info("document answered", "final_answer", result.FinalAnswer, "fallbacks", stats.Fallbacks)
	return &record, doc.DocID, stats, nil
}

func (r *Runner) observe(stats *orchestrator.Stats, ok bool) {
	if r.metrics != nil {
		r.metrics.ObserveRun(stats, ok)
	}
}

func (r *Runner) logRun(logger hclog.Logger, i int, doc *dataset.Document, result *orchestrator.RunResult, stats *orchestrator.Stats, runErr error) {
	if r.runLog == nil {
		return
	}

	row := &results.RunRow{
		ID:          uuid.NewString(),
		BatchID:     r.batchID,
		SampleIndex: i,
		DocumentID:  doc.DocID,
		Question:    doc.Question,
		Status:      results.RunDone,
		CreatedAt:   time.Now(),
	}
	if stats != nil {
		row.ID = stats.RunID
		row.Fallbacks = stats.Fallbacks
		row.Degraded = stats.Degraded
		row.DurationMS = stats.Duration.Milliseconds()
		row.Steps = stats.Steps
	}
	if result != nil {
		row.SubQuestions = result.SubQuestions
		row.FinalAnswer = result.FinalAnswer
	}
	if runErr != nil {
		row.Status = results.RunFailed
		row.Error = runErr.Error()
	}

	if err := r.runLog.RecordRun(row); err != nil {
		logger.Warn("failed to record run", "error", err)
	}
}
