package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docqa/internal/batch"
)

var pauseResume bool

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running batch after the documents in flight",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := batch.SendSignal(cfg.Batch.SignalsDir, batch.StopFile); err != nil {
			return fmt.Errorf("send stop: %w", err)
		}
		printStatus("✓", "Stop requested; the batch stops before its next document", color.FgGreen)
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause a running batch between documents",
	Long: `Pause a running batch. Documents in flight finish; no new document
starts until the batch is resumed with 'docqa pause --resume'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if pauseResume {
			err := os.Remove(filepath.Join(cfg.Batch.SignalsDir, batch.PauseFile))
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("resume: %w", err)
			}
			printStatus("✓", "Batch resumed", color.FgGreen)
			return nil
		}
		if err := batch.SendSignal(cfg.Batch.SignalsDir, batch.PauseFile); err != nil {
			return fmt.Errorf("send pause: %w", err)
		}
		printStatus("✓", "Pause requested", color.FgGreen)
		return nil
	},
}

func init() {
	pauseCmd.Flags().BoolVar(&pauseResume, "resume", false, "Resume a paused batch")
}
