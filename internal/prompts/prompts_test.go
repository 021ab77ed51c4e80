package prompts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_HasEveryRole(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"decompose_agent", "image_agent", "judge_agent", "summary_agent", "text_agent"}, s.Roles())

	text, err := s.Lookup("text_agent")
	require.NoError(t, err)
	assert.True(t, strings.Contains(text, "uncertain"))
}

func TestLookup_UnknownRole(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	_, err = s.Lookup("planner_agent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRole))
}

func TestLoad_OverridesOneRole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("summary_agent:\n  system_prompt: Be terse.\n"), 0644))

	s, err := Load(path)
	require.NoError(t, err)

	got, err := s.Lookup("summary_agent")
	require.NoError(t, err)
	assert.Equal(t, "Be terse.", got)

	_, err = s.Lookup("decompose_agent")
	assert.NoError(t, err)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("text_agent:\n  system_prompt: \"\"\n"), 0644))
	_, err = Load(empty)
	assert.Error(t, err)
}
