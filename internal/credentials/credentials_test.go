package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLookup_FromFile(t *testing.T) {
	s, err := Parse([]byte("qwen:\n  api_key: sk-file\n"))
	require.NoError(t, err)
	s.getenv = fakeEnv(nil)

	key, err := s.Lookup("qwen")
	require.NoError(t, err)
	assert.Equal(t, "sk-file", key)
	assert.Equal(t, KeySourceFile, s.Source("qwen"))
}

func TestLookup_EnvWins(t *testing.T) {
	s, err := Parse([]byte("qwen:\n  api_key: sk-file\n"))
	require.NoError(t, err)

	s.getenv = fakeEnv(map[string]string{"QWEN_API_KEY": "sk-env"})
	key, err := s.Lookup("qwen")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", key)
	assert.Equal(t, KeySourceEnv, s.Source("qwen"))

	s.getenv = fakeEnv(map[string]string{"DASHSCOPE_API_KEY": "sk-alias"})
	key, err = s.Lookup("qwen")
	require.NoError(t, err)
	assert.Equal(t, "sk-alias", key)
}

func TestLookup_ExpandsReferences(t *testing.T) {
	s, err := Parse([]byte("gemini:\n  api_key: ${MY_GEMINI}\nother:\n  api_key: ${UNSET}\n"))
	require.NoError(t, err)
	s.getenv = fakeEnv(map[string]string{"MY_GEMINI": "g-123"})

	key, err := s.Lookup("gemini")
	require.NoError(t, err)
	assert.Equal(t, "g-123", key)

	_, err = s.Lookup("other")
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestLookup_UnknownProvider(t *testing.T) {
	s := New()
	s.getenv = fakeEnv(nil)

	_, err := s.Lookup("nobody")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProvider))
	assert.Equal(t, KeySourceNone, s.Source("nobody"))
}

func TestEnvNames(t *testing.T) {
	assert.Equal(t, []string{"MY_PROVIDER_2_API_KEY"}, envNames("my-provider.2"))
	assert.Equal(t, []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}, envNames("gemini"))
	assert.Equal(t, []string{"AZURE_OPENAI_API_KEY"}, envNames("azure openai"))
	assert.Equal(t, []string{"X__API_KEY"}, envNames("x/é"))
}

func TestLoadOptional(t *testing.T) {
	s, err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, s.Providers())

	path := filepath.Join(t.TempDir(), "api-keys.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Qwen:\n  api_key: k\nanthropic:\n  api_key: a\n"), 0600))
	s, err = LoadOptional(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "qwen"}, s.Providers())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DOCQA_TEST_ENV_KEY=from-dotenv\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("DOCQA_TEST_ENV_KEY") })

	require.NoError(t, LoadEnvFiles(filepath.Join(dir, "missing.env"), envFile, ""))
	assert.Equal(t, "from-dotenv", os.Getenv("DOCQA_TEST_ENV_KEY"))
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-abcdefghijklmnop1234", "sk-a...1234"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskAPIKey(tt.key))
	}
}
