// Package tui provides the terminal progress view for docqa batches.
//
// The view is read-only apart from three keys: p pauses or resumes the
// batch, s stops it after the documents in flight, q quits. It shows:
//   - Documents completed out of the batch range, with a progress bar
//   - Answered and failed counts, elapsed time and token usage
//   - Documents in flight with their question
//   - Activity log with recent events
//
// Usage:
//
//	program, app := tui.NewBatchProgram()
//	app.SetControlHandler(func(action string) error { ... })
//	go program.Run()
//
//	runner, _ := batch.NewRunner(orch, sink, batch.WithProgress(tui.ProgressFunc(program)))
//	summary, err := runner.Run(ctx, ds, start, end)
//
//	// Signal completion
//	program.Send(tui.DoneMsg{Summary: summary, Err: err})
package tui
