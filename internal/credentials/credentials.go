// Package credentials resolves provider API keys from the environment and
// an api-keys.yaml file.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"
)

// ErrUnknownProvider is returned when no key is known for a provider.
var ErrUnknownProvider = errors.New("no API key configured for provider")

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv  KeySource = "environment"
	KeySourceFile KeySource = "keys_file"
	KeySourceNone KeySource = "none"
)

// envAliases lists the conventional variables of well-known providers,
// checked after <PROVIDER>_API_KEY.
var envAliases = map[string][]string{
	"qwen":   {"DASHSCOPE_API_KEY"},
	"gemini": {"GOOGLE_API_KEY"},
}

// Store resolves provider names to API keys.
type Store struct {
	keys   map[string]string
	getenv func(string) string
}

type entry struct {
	APIKey string `yaml:"api_key"`
}

// New returns a store with only environment lookups.
func New() *Store {
	return &Store{keys: map[string]string{}, getenv: os.Getenv}
}

// Load reads an api-keys file laid out as `<provider>: {api_key: ...}`.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}
	return Parse(data)
}

// LoadOptional is Load, except that a missing file yields an
// environment-only store.
func LoadOptional(path string) (*Store, error) {
	if path == "" {
		return New(), nil
	}
	s, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	return s, err
}

// Parse parses api-keys YAML.
func Parse(data []byte) (*Store, error) {
	var doc map[string]entry
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal keys file: %w", err)
	}

	s := New()
	for provider, e := range doc {
		s.keys[strings.ToLower(provider)] = e.APIKey
	}
	return s, nil
}

// Lookup returns the API key for provider. Environment variables win over
// the keys file; ${VAR} references in the file are expanded.
func (s *Store) Lookup(provider string) (string, error) {
	key, _ := s.resolve(provider)
	if key == "" {
		return "", fmt.Errorf("%w %q", ErrUnknownProvider, provider)
	}
	return key, nil
}

// Source returns where the key for provider would come from.
func (s *Store) Source(provider string) KeySource {
	_, src := s.resolve(provider)
	return src
}

// Providers returns the providers named in the keys file, sorted.
func (s *Store) Providers() []string {
	out := make([]string, 0, len(s.keys))
	for p := range s.keys {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *Store) resolve(provider string) (string, KeySource) {
	name := strings.ToLower(provider)

	for _, v := range envNames(name) {
		if key := s.getenv(v); key != "" {
			return key, KeySourceEnv
		}
	}

	if raw, ok := s.keys[name]; ok {
		key := os.Expand(raw, s.getenv)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceFile
		}
	}
	return "", KeySourceNone
}

var nonEnvChar = regexp.MustCompile(`[^A-Z0-9]`)

// envNames returns the variables checked for provider, most specific first.
func envNames(provider string) []string {
	upper := nonEnvChar.ReplaceAllString(strings.ToUpper(provider), "_")
	return append([]string{upper + "_API_KEY"}, envAliases[provider]...)
}

// LoadEnvFiles loads variables from .env style files into the process
// environment. Missing files are skipped; existing variables are kept.
func LoadEnvFiles(files ...string) error {
	for _, file := range files {
		if file == "" {
			continue
		}
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 4 and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 12 {
		return "***"
	}

	return key[:4] + "..." + key[len(key)-4:]
}
