// Package orchestrator answers a question about one document by running the
// role agents in sequence.
//
// A run decomposes the question, answers each sub-question in order from the
// document text, falls back to the page images when the text is
// insufficient, and summarizes the accumulated history into a final answer:
//
//	INIT -> DECOMPOSED -> ANSWERING(0..n-1) -> SUMMARIZING -> DONE
//
// Each sub-question sees the history of the sub-questions before it, so
// sub-questions never run concurrently within a run. All per-run state lives
// in a Run value created by Understand; an Orchestrator holds only its
// agents and is safe for concurrent use across documents.
//
// Example usage:
//
//	orch, err := orchestrator.New(orchestrator.RequiredConfig{
//	    Decomposer:    decomposer,
//	    TextAnswerer:  textAgent,
//	    ImageAnswerer: imageAgent,
//	    Summarizer:    summarizer,
//	}, orchestrator.WithLogger(logger))
//	result, err := orch.Understand(ctx, question, text, images)
package orchestrator
