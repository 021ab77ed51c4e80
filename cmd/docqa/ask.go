package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docqa/internal/orchestrator"
)

var (
	askTextFile string
	askImages   []string
	askDocID    string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question about one document",
	Long: `Answer a question about a document given as extracted text and page
images. The run result is printed as JSON:

  {"original_question": ..., "sub_questions": [...],
   "history": [{"question": ..., "answer": ...}], "final_answer": ...}

Examples:
  docqa ask "How many tables are in the report?" --text-file report.txt
  docqa ask "What colour is the logo?" --text-file p.txt --image p_0.png --image p_1.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askTextFile, "text-file", "", "File holding the document text ('-' for stdin)")
	askCmd.Flags().StringArrayVar(&askImages, "image", nil, "Page image path, repeatable, in page order")
	askCmd.Flags().StringVar(&askDocID, "doc-id", "", "Document id used in logs")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	question := strings.Join(args, " ")
	text, err := readDocumentText(askTextFile)
	if err != nil {
		return err
	}
	for _, img := range askImages {
		if _, err := os.Stat(img); err != nil {
			return fmt.Errorf("image %s: %w", img, err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	debugLog, err := orchestrator.NewDebugLogger(cfg.Logging.DebugFile)
	if err != nil {
		return err
	}
	defer debugLog.Close()

	orch, err := a.orchestrator(ctx, orchestrator.WithDebugLogger(debugLog))
	if err != nil {
		return err
	}

	result, _, err := orch.UnderstandDocument(ctx, question, orchestrator.Document{
		ID:     askDocID,
		Text:   text,
		Images: askImages,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(result)
}

func readDocumentText(path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text file: %w", err)
	}
	return string(data), nil
}
