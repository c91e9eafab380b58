package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 0.015, cfg.VAD.Threshold)
	assert.Equal(t, 8, cfg.Conversation.MaxTurns)
	assert.Equal(t, BackendAPI, cfg.LLM.Backend)
	assert.False(t, cfg.Onboarded)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
llm:
  model: custom-model
  tool_mode: full
some_future_section:
  whatever: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "custom-model", cfg.LLM.Model)
	assert.Equal(t, "full", cfg.LLM.ToolMode)
	// Sections absent from the file keep their defaults.
	assert.Equal(t, 250, cfg.BargeIn.ConfirmMs)
	assert.NotEmpty(t, cfg.LLM.BaseURL)
	assert.Equal(t, DefaultConfig().Conversation.WakePhrases, cfg.Conversation.WakePhrases)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("FAE_TEST_KEY", "sk-123")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  api_key: $FAE_TEST_KEY\n"), 0600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-123", cfg.LLM.APIKey)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [not a map"), 0600))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestSchedulerRestartNeeded(t *testing.T) {
	base := DefaultConfig()

	same := *base
	assert.False(t, SchedulerRestartNeeded(base, &same))

	root := *base
	root.Memory.RootDir = "/elsewhere"
	assert.True(t, SchedulerRestartNeeded(base, &root), "root_dir change requires restart")

	ret := *base
	ret.Memory.RetentionDays = 7
	assert.True(t, SchedulerRestartNeeded(base, &ret), "retention change requires restart")

	other := *base
	other.TTS.Voice = "alto"
	other.Conversation.MaxTurns = 3
	assert.False(t, SchedulerRestartNeeded(base, &other), "unrelated changes must not restart")
}
