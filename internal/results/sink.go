// Package results persists run results: the JSON results file rewritten
// after every document, and an optional SQLite run log.
package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ShayCichocki/docqa/internal/orchestrator"
)

// Record is one processed document in the results file.
type Record struct {
	orchestrator.RunResult
	// GroundTruth is copied verbatim from the dataset sample.
	GroundTruth json.RawMessage `json:"ground_truth"`
	// BinaryCorrectness is set by the judge: 1 correct, 0 incorrect.
	BinaryCorrectness *int `json:"binary_correctness,omitempty"`
}

// NewRecord pairs a run result with its ground truth.
func NewRecord(result *orchestrator.RunResult, groundTruth json.RawMessage) Record {
	return Record{RunResult: *result, GroundTruth: groundTruth}
}

// JSONSink accumulates records and rewrites the whole file after each
// append, so a crash loses at most the document in flight.
type JSONSink struct {
	mu      sync.Mutex
	path    string
	records []Record
}

// NewJSONSink creates a sink writing to path. Nothing is written until the
// first Append.
func NewJSONSink(path string) *JSONSink {
	return &JSONSink{path: path}
}

// ResumeJSONSink creates a sink seeded with the records already at path.
// A missing file starts an empty sink.
func ResumeJSONSink(path string) (*JSONSink, error) {
	records, err := ReadRecords(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return &JSONSink{path: path, records: records}, nil
}

// Path returns the results file path.
func (s *JSONSink) Path() string {
	return s.path
}

// Append adds a record and flushes the full list to disk.
func (s *JSONSink) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, r)
	if err := WriteRecords(s.path, s.records); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}
	return nil
}

// Len returns the number of records held.
func (s *JSONSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns a copy of the records held.
func (s *JSONSink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// ReadRecords loads a results file.
func ReadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse results %s: %w", path, err)
	}
	return records, nil
}

// WriteRecords writes records as an indented JSON array without escaping
// non-ASCII or HTML characters. The file is replaced atomically.
func WriteRecords(path string, records []Record) error {
	if records == nil {
		records = []Record{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(bytes.TrimRight(buf.Bytes(), "\n")); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
