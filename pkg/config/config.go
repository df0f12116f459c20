// Package config loads and validates the daemon configuration. Settings come
// from a YAML file with environment overrides for the values that are secrets
// or differ per deployment. Config holds no state: anything that changes at
// runtime belongs in the database.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"ticketpilot/pkg/ticket"
)

// Known LLM provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Defaults applied when the file and environment are silent.
const (
	DefaultListen        = ":8080"
	DefaultDataDir       = "data"
	DefaultProvider      = ProviderAnthropic
	DefaultShutdownGrace = 15 * time.Second
)

// LLMConfig selects the model provider for reasoning, grading, and
// generation.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	// BaseURL is the Ollama host; ignored by hosted providers.
	BaseURL     string `yaml:"base_url"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// EngineConfig tunes the orchestration engine.
type EngineConfig struct {
	// RetrievalRetries bounds retrieval retries; 0 selects the default.
	RetrievalRetries int `yaml:"retrieval_retries"`
	// HistoryBudget is the conversation token budget; 0 selects the default.
	HistoryBudget int `yaml:"history_budget"`
}

// StorageConfig locates the SQLite databases and the credential sealing key.
type StorageConfig struct {
	// DataDir holds the checkpoint, knowledge, and credential databases.
	DataDir string `yaml:"data_dir"`
	// CredentialKey is the hex form of the 32-byte sealing key. Prefer the
	// TICKETPILOT_CREDENTIAL_KEY environment variable over the file.
	CredentialKey string `yaml:"credential_key"`
}

// Config is the full daemon configuration.
type Config struct {
	Listen        string            `yaml:"listen"`
	ShutdownGrace time.Duration     `yaml:"shutdown_grace"`
	LLM           LLMConfig         `yaml:"llm"`
	Engine        EngineConfig      `yaml:"engine"`
	Storage       StorageConfig     `yaml:"storage"`
	Trackers      ticket.PoolConfig `yaml:"trackers"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:        DefaultListen,
		ShutdownGrace: DefaultShutdownGrace,
		LLM:           LLMConfig{Provider: DefaultProvider},
		Storage:       StorageConfig{DataDir: DefaultDataDir},
		Trackers:      ticket.DefaultPoolConfig(),
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. An empty path skips the file and uses defaults plus
// the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays TICKETPILOT_* environment variables. Provider API keys
// also fall back to their conventional names.
func (c *Config) applyEnv() {
	setString(&c.Listen, "TICKETPILOT_LISTEN")
	setString(&c.LLM.Provider, "TICKETPILOT_LLM_PROVIDER")
	setString(&c.LLM.Model, "TICKETPILOT_LLM_MODEL")
	setString(&c.LLM.APIKey, "TICKETPILOT_LLM_API_KEY")
	setString(&c.LLM.BaseURL, "TICKETPILOT_LLM_BASE_URL")
	setString(&c.Storage.DataDir, "TICKETPILOT_DATA_DIR")
	setString(&c.Storage.CredentialKey, "TICKETPILOT_CREDENTIAL_KEY")
	setInt(&c.Engine.RetrievalRetries, "TICKETPILOT_RETRIEVAL_RETRIES")
	setInt(&c.Engine.HistoryBudget, "TICKETPILOT_HISTORY_BUDGET")

	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case ProviderAnthropic:
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case ProviderOpenAI:
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("config: provider %s requires an API key", c.LLM.Provider)
		}
	case ProviderOllama:
		// Local provider, no key.
	default:
		return fmt.Errorf("config: unknown LLM provider %q", c.LLM.Provider)
	}

	if c.Listen == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("config: storage data_dir must not be empty")
	}
	if c.Engine.RetrievalRetries < 0 {
		return fmt.Errorf("config: retrieval_retries must not be negative")
	}
	if c.Engine.HistoryBudget < 0 {
		return fmt.Errorf("config: history_budget must not be negative")
	}
	return nil
}
