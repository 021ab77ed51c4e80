package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/docqa/internal/batch"
	"github.com/ShayCichocki/docqa/internal/llm"
	"github.com/ShayCichocki/docqa/internal/orchestrator"
	"github.com/ShayCichocki/docqa/internal/tui"
)

// runWithTUI runs the batch in the background while the TUI shows progress.
// Quitting the TUI cancels the batch.
func runWithTUI(
	ctx context.Context,
	cancel context.CancelFunc,
	program *tea.Program,
	app *tui.BatchApp,
	run func(ctx context.Context) (*batch.Summary, error),
	signals *batch.SignalWatcher,
	tracker *llm.TokenTracker,
) (summary *batch.Summary, retErr error) {
	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runWithTUI: %v", r)
		}
	}()

	app.SetControlHandler(func(action string) error {
		switch action {
		case tui.ActionStop:
			return signals.SendStop()
		case tui.ActionPause:
			return signals.SendPause()
		case tui.ActionResume:
			err := os.Remove(filepath.Join(signals.Dir(), batch.PauseFile))
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		return fmt.Errorf("unknown action %q", action)
	})

	type result struct {
		summary *batch.Summary
		err     error
	}
	batchDone := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				batchDone <- result{err: fmt.Errorf("PANIC in batch: %v", r)}
			}
		}()
		s, err := run(ctx)
		batchDone <- result{summary: s, err: err}
	}()

	tuiDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				tuiDone <- fmt.Errorf("PANIC in TUI: %v", r)
			}
		}()
		_, err := program.Run()
		tuiDone <- err
	}()

	stopTokens := make(chan struct{})
	defer close(stopTokens)
	go forwardTokensToTUI(program, tracker, stopTokens)

	select {
	case res := <-batchDone:
		program.Send(tui.DoneMsg{Summary: res.summary, Err: res.err})
		// Wait for user to quit TUI (press q) so they can see the result
		<-tuiDone
		return res.summary, res.err

	case err := <-tuiDone:
		// The user quit early: cancel the batch and wait for documents in flight
		cancel()
		res := <-batchDone
		if err != nil {
			return res.summary, err
		}
		return res.summary, res.err
	}
}

// forwardEventsToTUI converts orchestrator events to TUI log messages.
func forwardEventsToTUI(program *tea.Program, events <-chan orchestrator.OrchestratorEvent) {
	for event := range events {
		var msg string
		switch event.Type {
		case orchestrator.EventDecomposed:
			msg = fmt.Sprintf("%s: %d sub-questions", event.DocumentID, event.Total)
		case orchestrator.EventImageFallback:
			msg = fmt.Sprintf("%s: sub-question %d/%d needs images", event.DocumentID, event.Index, event.Total)
		case orchestrator.EventSubQuestionAnswered:
			msg = fmt.Sprintf("%s: %d/%d %s", event.DocumentID, event.Index, event.Total, event.Answer)
		case orchestrator.EventRunFailed:
			msg = fmt.Sprintf("%s: %v", event.DocumentID, event.Error)
		default:
			continue
		}
		program.Send(tui.LogMsg{Timestamp: event.Timestamp, Level: "RUN", Message: msg})
	}
}

// forwardTokensToTUI polls the token tracker once a second.
func forwardTokensToTUI(program *tea.Program, tracker *llm.TokenTracker, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			in, out := tracker.Total()
			program.Send(tui.TokenUpdateMsg{InputTokens: in, OutputTokens: out})
		}
	}
}
