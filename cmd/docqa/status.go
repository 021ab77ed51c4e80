package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docqa/internal/results"
)

var statusDB string

var statusCmd = &cobra.Command{
	Use:   "status [batch-id]",
	Short: "Show batches recorded in the run log",
	Long: `Display a batch from the SQLite run log.

Shows:
  - Batch status, dataset range and models
  - Documents answered and failed
  - The error of every failed document
  - Recent batches (when no batch id is given)

The most recent batch is shown when no batch id is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDB, "db", "", "SQLite run log path (default from config)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dbPath := cfg.Output.DBPath
	if statusDB != "" {
		dbPath = statusDB
	}

	out := cmd.OutOrStdout()
	db, err := openExistingRunLog(cfg.Output.DBDriver, dbPath)
	if err != nil {
		return err
	}
	if db == nil {
		fmt.Fprintln(out, "No run log. Set output.db_path or pass --db to 'docqa batch'.")
		return nil
	}
	defer db.Close()

	var batchID string
	if len(args) > 0 {
		batchID = args[0]
	}
	return writeStatus(out, db, batchID)
}

// openExistingRunLog opens the run log at path, or returns nil when there is
// none yet.
func openExistingRunLog(driver, path string) (*results.DB, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	db, err := results.Open(driver, path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// writeStatus prints the named batch, or the most recent one followed by
// the other recent batches.
func writeStatus(w io.Writer, db *results.DB, batchID string) error {
	if batchID != "" {
		b, err := db.GetBatch(batchID)
		if err != nil {
			return err
		}
		return writeBatch(w, db, b)
	}

	recent, err := db.ListBatches(5)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		fmt.Fprintln(w, "No batches recorded. Run 'docqa batch' to start.")
		return nil
	}
	if err := writeBatch(w, db, &recent[0]); err != nil {
		return err
	}
	if len(recent) > 1 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Recent Batches:")
		for _, b := range recent[1:] {
			fmt.Fprintf(w, "  %s: %s (started %s)\n", b.ID, b.Status, b.StartedAt.Local().Format(time.DateTime))
		}
	}
	return nil
}

func writeBatch(w io.Writer, db *results.DB, b *results.Batch) error {
	counts, err := db.RunCounts(b.ID)
	if err != nil {
		return err
	}

	limit := "all"
	if b.Limit > 0 {
		limit = fmt.Sprintf("%d", b.Limit)
	}
	fmt.Fprintf(w, "Batch: %s\n", b.ID)
	fmt.Fprintf(w, "  Status: %s\n", b.Status)
	fmt.Fprintf(w, "  Dataset: %s (offset %d, limit %s)\n", b.DatasetPath, b.Offset, limit)
	if b.Models != "" {
		fmt.Fprintf(w, "  Models: %s\n", b.Models)
	}
	fmt.Fprintf(w, "  Started: %s\n", b.StartedAt.Local().Format(time.DateTime))
	if b.FinishedAt != nil {
		fmt.Fprintf(w, "  Duration: %s\n", b.FinishedAt.Sub(b.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(w, "  Documents: %d answered, %d failed\n", counts[results.RunDone], counts[results.RunFailed])

	if counts[results.RunFailed] == 0 {
		return nil
	}
	runs, err := db.ListRuns(b.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Failed Documents:")
	for _, r := range runs {
		if r.Status == results.RunFailed {
			fmt.Fprintf(w, "  #%d %s: %s\n", r.SampleIndex, r.DocumentID, r.Error)
		}
	}
	return nil
}
