package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docqa/internal/eval"
)

var (
	evalInput    string
	evalOutput   string
	evalInterval time.Duration
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Grade a results file with a judge model",
	Long: `Ask the judge model whether each final answer in the results file
matches its ground truth. Every record gets a binary_correctness of 0 or 1
and the graded records are written to the eval file. A judge reply that
cannot be parsed scores 0 and is reported as unscored.

Prints the accuracy: correct records over all records.`,
	Args: cobra.NoArgs,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVarP(&evalInput, "input", "i", "", "Results file to grade (default from config)")
	evalCmd.Flags().StringVarP(&evalOutput, "output", "o", "", "Graded results file (default from config)")
	evalCmd.Flags().DurationVar(&evalInterval, "interval", time.Second, "Pause between judge calls")
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	in := cfg.Output.ResultsPath
	if evalInput != "" {
		in = evalInput
	}
	out := cfg.Output.EvalPath
	if evalOutput != "" {
		out = evalOutput
	}
	if cfg.Models.Judge == "" {
		return fmt.Errorf("no judge model configured (models.judge)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	caller, err := a.caller(ctx, cfg.Models.Judge)
	if err != nil {
		return err
	}

	judge, err := eval.NewJudge(caller, a.prompts,
		eval.WithLogger(logger),
		eval.WithInterval(evalInterval),
		eval.WithProgress(func(done, total int) {
			fmt.Fprintf(os.Stderr, "\rgraded %d/%d", done, total)
			if done == total {
				fmt.Fprintln(os.Stderr)
			}
		}),
	)
	if err != nil {
		return err
	}

	report, err := judge.EvaluateFile(ctx, in, out)
	if err != nil {
		return err
	}

	printStatus("✓", fmt.Sprintf("Graded %d records, written to %s", report.Total, out), color.FgGreen)
	if report.Unscored > 0 {
		printStatus("⚠", fmt.Sprintf("%d judge replies could not be parsed and scored 0", report.Unscored), color.FgYellow)
	}
	fmt.Printf("%g\n", report.Accuracy())
	return nil
}
