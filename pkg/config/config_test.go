package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
shutdown_grace: 5s
llm:
  provider: ollama
  model: llama3.1
  base_url: http://localhost:11434
engine:
  retrieval_retries: 3
  history_budget: 12000
storage:
  data_dir: /var/lib/ticketpilot
trackers:
  max_conns: 16
  request_timeout: 20s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "llama3.1", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.Engine.RetrievalRetries)
	assert.Equal(t, 12000, cfg.Engine.HistoryBudget)
	assert.Equal(t, "/var/lib/ticketpilot", cfg.Storage.DataDir)
	assert.Equal(t, 16, cfg.Trackers.MaxConns)
	assert.Equal(t, 20*time.Second, cfg.Trackers.RequestTimeout)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: ollama
  model: llama3.1
`)
	t.Setenv("TICKETPILOT_LLM_MODEL", "qwen2.5")
	t.Setenv("TICKETPILOT_LISTEN", ":7070")
	t.Setenv("TICKETPILOT_RETRIEVAL_RETRIES", "1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5", cfg.LLM.Model)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, 1, cfg.Engine.RetrievalRetries)
}

func TestHostedProviderRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeConfig(t, `
llm:
  provider: anthropic
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "API key")
}

func TestProviderKeyFallsBackToConventionalEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	path := writeConfig(t, `
llm:
  provider: anthropic
  model: claude-sonnet-4-0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestUnknownProviderRejected(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: bard
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown LLM provider")
}

func TestDefaultsWithoutFile(t *testing.T) {
	t.Setenv("TICKETPILOT_LLM_PROVIDER", "ollama")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultDataDir, cfg.Storage.DataDir)
	assert.Equal(t, 32, cfg.Trackers.MaxConns)
}

func TestMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
