package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docqa/internal/config"
)

var (
	rootConfigPath string
	rootLogLevel   string
	rootLogJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Multi-modal question answering over long documents",
	Long: `docqa answers questions about long documents by splitting each
question into sub-questions. Every sub-question is answered from the
document text first; when the text is not enough, the page images are
consulted instead. A summary role then writes the final answer.

Commands:
- ask:    answer one question about one document
- batch:  run a range of benchmark samples and write result.json
- eval:   grade result.json with a judge model
- stop:   stop a running batch after the documents in flight
- pause:  pause or resume a running batch
- status: show batches recorded in the run log
- cleanup: purge old batches from the run log`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Config file (default: ~/.config/docqa/config.yaml merged with .docqa.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&rootLogJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config named by --config, or the layered default,
// and applies --log-level.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if rootConfigPath != "" {
		cfg, err = config.LoadFromPath(rootConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if rootLogLevel != "" {
		cfg.Logging.Level = rootLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}

// newLogger creates the structured logger for a command.
func newLogger(cfg *config.Config, out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "docqa",
		Level:      hclog.LevelFromString(cfg.Logging.Level),
		Output:     out,
		JSONFormat: rootLogJSON,
		Color:      hclog.AutoColor,
	})
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
