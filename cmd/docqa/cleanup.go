package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docqa/internal/results"
)

var (
	cleanupOlderThan time.Duration
	cleanupDryRun    bool
	cleanupDB        string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old batches from the run log",
	Long: `Delete batches started before the cutoff from the SQLite run log,
together with their runs and sub-question steps. result.json files are
never touched.

Examples:
  docqa cleanup                     # Purge batches older than 30 days
  docqa cleanup --older-than 168h   # Purge batches older than a week
  docqa cleanup --dry-run           # Show what would be purged`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Purge batches started longer ago than this")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be purged without deleting")
	cleanupCmd.Flags().StringVar(&cleanupDB, "db", "", "SQLite run log path (default from config)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dbPath := cfg.Output.DBPath
	if cleanupDB != "" {
		dbPath = cleanupDB
	}

	db, err := openExistingRunLog(cfg.Output.DBDriver, dbPath)
	if err != nil {
		return err
	}
	if db == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No run log found - no batches to purge.")
		return nil
	}
	defer db.Close()

	return purgeBatches(cmd.OutOrStdout(), db, cleanupOlderThan, cleanupDryRun)
}

// purgeBatches deletes batches older than olderThan, or only counts them on
// a dry run.
func purgeBatches(w io.Writer, db *results.DB, olderThan time.Duration, dryRun bool) error {
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive, got %s", olderThan)
	}

	if dryRun {
		batches, err := db.ListBatches(0)
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-olderThan)
		count := 0
		for _, b := range batches {
			if b.StartedAt.Before(cutoff) {
				count++
			}
		}
		fmt.Fprintf(w, "Dry run: would purge %d batch(es) older than %s.\n", count, olderThan)
		return nil
	}

	purged, err := db.PurgeOldBatches(olderThan)
	if err != nil {
		return err
	}
	if purged > 0 {
		fmt.Fprintf(w, "%s Purged %d batch(es) older than %s.\n", color.GreenString("✓"), purged, olderThan)
	} else {
		fmt.Fprintf(w, "No batches older than %s found.\n", olderThan)
	}
	return nil
}
