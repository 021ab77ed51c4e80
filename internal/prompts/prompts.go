// Package prompts stores the system prompt of each role agent.
package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// ErrUnknownRole is returned when no prompt is configured for a role.
var ErrUnknownRole = errors.New("no system prompt configured for role")

// Store maps role names to system prompts.
type Store struct {
	prompts map[string]string
}

type entry struct {
	SystemPrompt string `yaml:"system_prompt"`
}

// Default returns the built-in prompts.
func Default() (*Store, error) {
	return Parse(defaultPrompts)
}

// Load reads a prompts file laid out as `<role>: {system_prompt: ...}`.
// Roles in the file replace the built-in prompt of the same role; roles
// missing from the file keep the built-in prompt.
func Load(path string) (*Store, error) {
	s, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	for role, p := range override.prompts {
		s.prompts[role] = p
	}
	return s, nil
}

// Parse parses prompts YAML. Entries with an empty prompt are rejected.
func Parse(data []byte) (*Store, error) {
	var doc map[string]entry
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal prompts: %w", err)
	}

	s := &Store{prompts: make(map[string]string, len(doc))}
	for role, e := range doc {
		p := strings.TrimSpace(e.SystemPrompt)
		if p == "" {
			return nil, fmt.Errorf("role %q: empty system_prompt", role)
		}
		s.prompts[role] = p
	}
	return s, nil
}

// Lookup returns the system prompt for role.
func (s *Store) Lookup(role string) (string, error) {
	p, ok := s.prompts[role]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownRole, role)
	}
	return p, nil
}

// Roles returns the configured role names, sorted.
func (s *Store) Roles() []string {
	roles := make([]string, 0, len(s.prompts))
	for r := range s.prompts {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}
