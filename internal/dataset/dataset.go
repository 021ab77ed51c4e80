// Package dataset loads benchmark samples and resolves their page text and
// page images from disk.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxImages caps the page images handed to a run.
const DefaultMaxImages = 4

// ErrOutOfRange is returned by Get for an index outside the dataset.
var ErrOutOfRange = errors.New("sample index out of range")

// Pages is a list of page numbers. The dataset stores it either as a JSON
// array or as a string holding one, e.g. "[3, 5]".
type Pages []int

// UnmarshalJSON accepts both encodings.
func (p *Pages) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*p = nil
			return nil
		}
		data = []byte(s)
	}

	var pages []int
	if err := json.Unmarshal(data, &pages); err != nil {
		return fmt.Errorf("page list %s: %w", data, err)
	}
	*p = pages
	return nil
}

// Sample is one dataset record as stored in the JSON file.
type Sample struct {
	DocID         string `json:"doc_id"`
	Question      string `json:"question"`
	EvidencePages Pages  `json:"evidence_pages"`
	TextPages     Pages  `json:"text-top-4"`
	ImagePages    Pages  `json:"image-top-4"`
	// Answer is the ground truth, kept verbatim so it round-trips into the
	// results file with its original JSON type.
	Answer json.RawMessage `json:"answer"`
}

// Document is a sample with its text and image files resolved.
type Document struct {
	Index         int
	DocID         string
	Question      string
	Text          string
	Images        []string
	EvidencePages []int
	Answer        json.RawMessage
}

// AnswerText renders the ground truth for prompts: JSON strings are
// unquoted, anything else is left as JSON.
func (d *Document) AnswerText() string {
	return RawText(d.Answer)
}

// RawText renders a raw JSON value for prompts.
func RawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// Dataset indexes the samples of one JSON file.
type Dataset struct {
	samples   []Sample
	textDir   string
	imageDir  string
	maxImages int
}

// Option configures a Dataset.
type Option func(*Dataset)

// WithMaxImages caps the images returned per document. Zero means no images.
func WithMaxImages(n int) Option {
	return func(d *Dataset) {
		if n >= 0 {
			d.maxImages = n
		}
	}
}

// Load reads the sample list at jsonPath. Page files are resolved lazily by
// Get.
func Load(jsonPath, textDir, imageDir string, opts ...Option) (*Dataset, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	d, err := Parse(data, textDir, imageDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", jsonPath, err)
	}
	return d, nil
}

// Parse builds a Dataset from the JSON sample list.
func Parse(data []byte, textDir, imageDir string, opts ...Option) (*Dataset, error) {
	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, err
	}
	d := &Dataset{
		samples:   samples,
		textDir:   textDir,
		imageDir:  imageDir,
		maxImages: DefaultMaxImages,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.samples)
}

// Sample returns the raw sample at i.
func (d *Dataset) Sample(i int) (Sample, error) {
	if i < 0 || i >= len(d.samples) {
		return Sample{}, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(d.samples))
	}
	return d.samples[i], nil
}

// Get resolves sample i. Every listed text and image page must exist on
// disk; a missing file is returned as an error wrapping fs.ErrNotExist.
func (d *Dataset) Get(i int) (*Document, error) {
	s, err := d.Sample(i)
	if err != nil {
		return nil, err
	}
	stem := Stem(s.DocID)

	text, err := d.loadText(stem, s.TextPages)
	if err != nil {
		return nil, fmt.Errorf("sample %d (%s): %w", i, s.DocID, err)
	}
	images, err := d.imagePaths(stem, s.ImagePages)
	if err != nil {
		return nil, fmt.Errorf("sample %d (%s): %w", i, s.DocID, err)
	}
	if len(images) > d.maxImages {
		images = images[:d.maxImages]
	}

	return &Document{
		Index:         i,
		DocID:         s.DocID,
		Question:      s.Question,
		Text:          text,
		Images:        images,
		EvidencePages: append([]int(nil), s.EvidencePages...),
		Answer:        s.Answer,
	}, nil
}

// Range clamps [offset, offset+limit) to the dataset. A zero limit means
// through the end.
func (d *Dataset) Range(offset, limit int) (start, end int) {
	n := len(d.samples)
	start = min(max(offset, 0), n)
	end = n
	if limit > 0 && start+limit < n {
		end = start + limit
	}
	return start, end
}

// Stem strips the final extension from a document id.
func Stem(docID string) string {
	if i := strings.LastIndex(docID, "."); i >= 0 {
		return docID[:i]
	}
	return docID
}

// TextFile names the text of a 1-based page.
func TextFile(stem string, page int) string {
	return fmt.Sprintf("%s_%d.txt", stem, page)
}

// ImageFile names the image of a 1-based page. Images are stored 0-based.
func ImageFile(stem string, page int) string {
	return fmt.Sprintf("%s_%d.png", stem, page-1)
}

func (d *Dataset) loadText(stem string, pages []int) (string, error) {
	var b strings.Builder
	for _, page := range pages {
		path := filepath.Join(d.textDir, TextFile(stem, page))
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("text page %d: %w", page, err)
		}
		b.Write(data)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()), nil
}

func (d *Dataset) imagePaths(stem string, pages []int) ([]string, error) {
	paths := make([]string, 0, len(pages))
	for _, page := range pages {
		path := filepath.Join(d.imageDir, ImageFile(stem, page))
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("image page %d: %w", page, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
