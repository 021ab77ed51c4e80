// Package extract recovers a structured agent reply from loosely formatted
// model output.
//
// Model replies are untrusted text: code fences, prose around the object,
// Python-style single quotes and trailing chatter are all common. Parse
// locates one brace-delimited object in the text, parses it permissively and
// fails closed with a typed error so callers can substitute their own
// default.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.yaml.in/yaml/v3"
)

// Anchor selects which opening brace starts the object span.
type Anchor int

const (
	// AnchorFirst spans from the first '{' to the last '}'. Use it when the
	// object itself contains nested objects.
	AnchorFirst Anchor = iota
	// AnchorLast spans from the last '{' to the last '}'. Use it for flat
	// objects that may be preceded by other braces in the reasoning text.
	AnchorLast
)

// String returns the anchor name.
func (a Anchor) String() string {
	switch a {
	case AnchorFirst:
		return "first"
	case AnchorLast:
		return "last"
	default:
		return fmt.Sprintf("anchor(%d)", int(a))
	}
}

var (
	// ErrNoObject means no brace-delimited span was found.
	ErrNoObject = errors.New("no object found in response")
	// ErrMalformed means a span was found but could not be parsed as a mapping.
	ErrMalformed = errors.New("malformed object in response")
	// ErrNoAnswer means the object parsed but has no usable answer field.
	ErrNoAnswer = errors.New("object has no answer field")
)

// AnswerKey is the field every role reply must carry.
const AnswerKey = "answer"

// Kind describes the shape of the answer value.
type Kind int

const (
	Scalar Kind = iota
	Mapping
	List
)

// Response is the structured form of a role reply.
type Response struct {
	// Kind is the shape of the answer value.
	Kind Kind
	// Answer is the answer text. For composite answers it holds the
	// compact encoding of the whole value.
	Answer string
	// Items holds the values of a mapping or list answer, in the order they
	// appear in the reply. Empty for scalar answers.
	Items []string
	// Reasoning is the chain-of-thought field if the model produced one.
	Reasoning string
}

// Composite reports whether the answer was a mapping or a list.
func (r Response) Composite() bool {
	return r.Kind != Scalar
}

// Span returns the candidate object text of raw for the given anchor.
func Span(raw string, anchor Anchor) (string, bool) {
	var start int
	switch anchor {
	case AnchorLast:
		start = strings.LastIndex(raw, "{")
	default:
		start = strings.Index(raw, "{")
	}
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}

// Parse extracts the reply object from raw. The span is decoded as strict
// JSON first and as a YAML flow mapping second, which accepts single-quoted
// strings and bare keys.
func Parse(raw string, anchor Anchor) (Response, error) {
	fields, err := decodeSpan(raw, anchor)
	if err != nil {
		return Response{}, err
	}

	var resp Response
	found := false
	for _, f := range fields {
		key := strings.ToLower(strings.TrimSpace(f.key))
		switch {
		case key == AnswerKey:
			if f.null {
				continue
			}
			found = true
			resp.Kind = f.kind
			resp.Answer = f.text
			resp.Items = f.items
		case strings.Contains(key, "reason") && resp.Reasoning == "":
			resp.Reasoning = f.text
		}
	}
	if !found {
		return Response{}, ErrNoAnswer
	}
	return resp, nil
}

// Field is one top-level key of a reply object. Value is the text of a
// scalar, or the JSON encoding of a collection.
type Field struct {
	Key   string
	Value string
}

// Fields decodes the object span of raw the way Parse does and returns its
// non-null top-level keys in order.
func Fields(raw string, anchor Anchor) ([]Field, error) {
	fields, err := decodeSpan(raw, anchor)
	if err != nil {
		return nil, err
	}
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if !f.null {
			out = append(out, Field{Key: f.key, Value: f.text})
		}
	}
	return out, nil
}

func decodeSpan(raw string, anchor Anchor) ([]field, error) {
	span, ok := Span(raw, anchor)
	if !ok {
		return nil, fmt.Errorf("%w (anchor %s, got %d chars): %q", ErrNoObject, anchor, len(raw), preview(raw))
	}
	fields, err := decodeJSON(span)
	if err != nil {
		fields, err = decodeYAML(span)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return fields, nil
}

// field is one top-level key of the reply object.
type field struct {
	key   string
	kind  Kind
	text  string
	items []string
	null  bool
}

// decodeJSON walks the object token by token so key order survives.
func decodeJSON(span string) ([]field, error) {
	dec := json.NewDecoder(strings.NewReader(span))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		f, err := jsonField(key, value)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return fields, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func jsonField(key string, value json.RawMessage) (field, error) {
	f := field{key: key}
	trimmed := bytes.TrimSpace(value)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		f.null = true
	case len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '['):
		items, err := jsonItems(trimmed)
		if err != nil {
			return field{}, err
		}
		f.kind = Mapping
		if trimmed[0] == '[' {
			f.kind = List
		}
		f.text = string(trimmed)
		f.items = items
	default:
		f.text = jsonScalar(trimmed)
	}
	return f, nil
}

// jsonItems returns the ordered values of an object or array.
func jsonItems(value []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(value))
	open, err := dec.Token()
	if err != nil {
		return nil, err
	}
	isObject := open == json.Delim('{')

	var items []string
	for dec.More() {
		if isObject {
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		items = append(items, jsonScalar(bytes.TrimSpace(raw)))
	}
	return items, nil
}

func jsonScalar(raw []byte) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func decodeYAML(span string) ([]field, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(span), &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("not a mapping")
	}
	root := doc.Content[0]

	var fields []field
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		f := field{key: key.Value}
		switch value.Kind {
		case yaml.MappingNode:
			f.kind = Mapping
			for j := 1; j < len(value.Content); j += 2 {
				f.items = append(f.items, yamlText(value.Content[j]))
			}
			f.text = yamlText(value)
		case yaml.SequenceNode:
			f.kind = List
			for _, item := range value.Content {
				f.items = append(f.items, yamlText(item))
			}
			f.text = yamlText(value)
		case yaml.ScalarNode:
			if value.Tag == "!!null" {
				f.null = true
			}
			f.text = value.Value
		default:
			f.text = yamlText(value)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// yamlText renders a node as text, scalars verbatim and collections as JSON.
func yamlText(n *yaml.Node) string {
	if n.Kind == yaml.ScalarNode {
		return n.Value
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return n.Value
	}
	b, err := json.Marshal(v)
	if err != nil {
		return n.Value
	}
	return string(b)
}

// preview shortens s to at most 200 runes for error messages.
func preview(s string) string {
	if utf8.RuneCountInString(s) <= 200 {
		return s
	}
	return string([]rune(s)[:200]) + "... (truncated)"
}
