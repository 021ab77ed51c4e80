package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docqa/internal/batch"
	"github.com/ShayCichocki/docqa/internal/config"
	"github.com/ShayCichocki/docqa/internal/dataset"
	"github.com/ShayCichocki/docqa/internal/orchestrator"
	"github.com/ShayCichocki/docqa/internal/results"
	"github.com/ShayCichocki/docqa/internal/tui"
)

var (
	batchOffset   int
	batchLimit    int
	batchWorkers  int
	batchResume   bool
	batchHeadless bool
	batchOutput   string
	batchDB       string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Answer a range of benchmark samples",
	Long: `Run the question answering pipeline over samples of the dataset and
write result.json.

The results file is rewritten after every completed document, in dataset
order, so an interrupted batch keeps everything finished so far. Documents
that fail (missing page files, model errors) are logged and left out.

Samples are selected with --offset and --limit (0 means all remaining).
Use --resume to keep the records already in the results file and append
to them.

While a batch runs, 'docqa stop' stops it after the documents in flight
and 'docqa pause' pauses it between documents.`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVar(&batchOffset, "offset", 0, "First sample index (default from config)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "Number of samples, 0 for all (default from config)")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "Documents answered at once (default from config)")
	batchCmd.Flags().BoolVar(&batchResume, "resume", false, "Append to the existing results file")
	batchCmd.Flags().BoolVar(&batchHeadless, "headless", false, "Run without TUI, logging progress lines")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "Results file (default from config)")
	batchCmd.Flags().StringVar(&batchDB, "db", "", "SQLite run log path (default from config)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyBatchFlags(cmd, cfg)

	// Logs corrupt the TUI display, so they only go to stderr when headless
	var logOut io.Writer = os.Stderr
	if !batchHeadless {
		logOut = io.Discard
	}
	logger := newLogger(cfg, logOut)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ds, err := dataset.Load(cfg.Dataset.JSONPath, cfg.Dataset.TextDir, cfg.Dataset.ImageDir, dataset.WithMaxImages(cfg.Dataset.MaxImages))
	if err != nil {
		return err
	}
	start, end := ds.Range(cfg.Dataset.Offset, cfg.Dataset.Limit)
	if start == end {
		printStatus("⚠", fmt.Sprintf("No samples in range (dataset has %d)", ds.Len()), color.FgYellow)
		return nil
	}

	debugLog, err := orchestrator.NewDebugLogger(cfg.Logging.DebugFile)
	if err != nil {
		return err
	}
	defer debugLog.Close()

	emitter := orchestrator.NewEventEmitter(256)
	emitter.SetLogger(logger)
	defer emitter.Close()

	orch, err := a.orchestrator(ctx, orchestrator.WithDebugLogger(debugLog), orchestrator.WithEmitter(emitter))
	if err != nil {
		return err
	}

	sink, err := openSink(cfg.Output.ResultsPath, batchResume)
	if err != nil {
		return err
	}

	batchID := uuid.NewString()
	opts := []batch.Option{
		batch.WithWorkers(cfg.Batch.Workers),
		batch.WithLogger(logger),
		batch.WithBatchID(batchID),
	}

	var db *results.DB
	if cfg.Output.DBPath != "" {
		db, err = openRunLog(cfg, batchID, a.modelSummary())
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, batch.WithRunLog(db))
	}

	signals, err := batch.NewSignalWatcher(cfg.Batch.SignalsDir, logger)
	if err != nil {
		return fmt.Errorf("signals directory: %w", err)
	}
	defer signals.Close()
	signals.ClearSignals()
	opts = append(opts, batch.WithSignals(signals))

	metrics := batch.NewMetrics()
	opts = append(opts, batch.WithMetrics(metrics))

	logger.Info("starting batch",
		"batch_id", batchID,
		"samples", fmt.Sprintf("%d-%d", start, end),
		"models", a.modelSummary(),
		"results", sink.Path(),
	)

	var (
		program *tea.Program
		tuiApp  *tui.BatchApp
	)
	if batchHeadless {
		go logEvents(logger, emitter.Events())
	} else {
		program, tuiApp = tui.NewBatchProgram()
		opts = append(opts, batch.WithProgress(tui.ProgressFunc(program)))
		go forwardEventsToTUI(program, emitter.Events())
	}

	runner, err := batch.NewRunner(orch, sink, opts...)
	if err != nil {
		return err
	}

	var summary *batch.Summary
	if batchHeadless {
		summary, err = runner.Run(ctx, ds, start, end)
	} else {
		summary, err = runWithTUI(ctx, cancel, program, tuiApp, func(ctx context.Context) (*batch.Summary, error) {
			return runner.Run(ctx, ds, start, end)
		}, signals, a.tracker)
	}

	if n := emitter.DroppedCount(); n > 0 {
		logger.Warn("progress events dropped", "count", n)
	}

	in, out := a.tracker.Total()
	metrics.SetTokens(in, out)
	if cfg.Output.MetricsPath != "" {
		if merr := metrics.WriteTextfile(cfg.Output.MetricsPath); merr != nil {
			logger.Warn("failed to write metrics", "path", cfg.Output.MetricsPath, "error", merr)
		}
	}
	if db != nil {
		finishRunLog(db, batchID, summary, err, logger)
	}

	reportBatch(summary, sink.Path(), in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyBatchFlags overrides config values with flags the user set.
func applyBatchFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("offset") {
		cfg.Dataset.Offset = batchOffset
	}
	if flags.Changed("limit") {
		cfg.Dataset.Limit = batchLimit
	}
	if flags.Changed("workers") && batchWorkers > 0 {
		cfg.Batch.Workers = batchWorkers
	}
	if batchOutput != "" {
		cfg.Output.ResultsPath = batchOutput
	}
	if batchDB != "" {
		cfg.Output.DBPath = batchDB
	}
}

func openSink(path string, resume bool) (*results.JSONSink, error) {
	if !resume {
		return results.NewJSONSink(path), nil
	}
	sink, err := results.ResumeJSONSink(path)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", path, err)
	}
	if sink.Len() > 0 {
		printStatus("✓", fmt.Sprintf("Resuming with %d existing records in %s", sink.Len(), path), color.FgGreen)
	}
	return sink, nil
}

func openRunLog(cfg *config.Config, batchID, models string) (*results.DB, error) {
	db, err := results.Open(cfg.Output.DBDriver, cfg.Output.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	absDataset, err := filepath.Abs(cfg.Dataset.JSONPath)
	if err != nil {
		absDataset = cfg.Dataset.JSONPath
	}
	if err := db.CreateBatch(&results.Batch{
		ID:          batchID,
		DatasetPath: absDataset,
		Offset:      cfg.Dataset.Offset,
		Limit:       cfg.Dataset.Limit,
		Models:      models,
		StartedAt:   time.Now(),
		Status:      results.BatchRunning,
	}); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func finishRunLog(db *results.DB, batchID string, summary *batch.Summary, runErr error, logger hclog.Logger) {
	status := results.BatchCompleted
	switch {
	case runErr != nil:
		status = results.BatchFailed
	case summary != nil && summary.Stopped:
		status = results.BatchStopped
	}
	if err := db.FinishBatch(batchID, status, time.Now()); err != nil {
		logger.Warn("failed to finish batch in run log", "error", err)
	}
}

// logEvents writes orchestrator events as debug lines in headless mode.
func logEvents(logger hclog.Logger, events <-chan orchestrator.OrchestratorEvent) {
	l := logger.Named("events")
	for event := range events {
		args := []interface{}{"run", event.RunID, "doc_id", event.DocumentID}
		if event.Total > 0 {
			args = append(args, "index", event.Index, "total", event.Total)
		}
		if event.Answer != "" {
			args = append(args, "answer", event.Answer)
		}
		if event.Error != nil {
			args = append(args, "error", event.Error)
		}
		l.Debug(string(event.Type), args...)
	}
}

// reportBatch prints the final summary.
func reportBatch(summary *batch.Summary, resultsPath string, tokensIn, tokensOut int64) {
	if summary == nil {
		return
	}
	fmt.Println()
	printStatus("✓", fmt.Sprintf("%d documents answered, written to %s", summary.Succeeded, resultsPath), color.FgGreen)
	if summary.Failed > 0 {
		printStatus("✗", fmt.Sprintf("%d documents failed", summary.Failed), color.FgRed)
		for _, f := range summary.Failures {
			fmt.Printf("    #%d %s: %v\n", f.Index, f.DocumentID, f.Err)
		}
	}
	if summary.Stopped || summary.NotStarted > 0 {
		printStatus("⚠", fmt.Sprintf("%d documents not started", summary.NotStarted), color.FgYellow)
	}
	fmt.Printf("  Image fallbacks: %d, degraded replies: %d\n", summary.Fallbacks, summary.Degraded)
	fmt.Printf("  Tokens: %d in / %d out, duration %s\n", tokensIn, tokensOut, summary.Duration.Round(time.Second))
}
