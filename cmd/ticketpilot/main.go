// Command ticketpilot runs the conversational ticketing daemon: the
// orchestration engine, its SQLite stores, and the HTTP event-stream API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ticketpilot/pkg/agent"
	"ticketpilot/pkg/agent/llm"
	"ticketpilot/pkg/agent/llmimpl/anthropic"
	"ticketpilot/pkg/agent/llmimpl/ollama"
	"ticketpilot/pkg/agent/llmimpl/openai"
	"ticketpilot/pkg/config"
	"ticketpilot/pkg/creds"
	"ticketpilot/pkg/knowledge"
	"ticketpilot/pkg/logx"
	"ticketpilot/pkg/metrics"
	"ticketpilot/pkg/store"
	"ticketpilot/pkg/ticket"
	"ticketpilot/pkg/version"
	"ticketpilot/pkg/webapi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ticketpilot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if err := logx.Configure(*debug); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logx.Sync()
	logger := logx.NewLogger("main")
	logger.Info("ticketpilot %s (%s, built %s)", version.Version, version.Commit, version.Date)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	checkpoints, err := store.Open(filepath.Join(cfg.Storage.DataDir, "threads.db"))
	if err != nil {
		return fmt.Errorf("open thread store: %w", err)
	}
	defer checkpoints.Close()

	docs, err := knowledge.Open(filepath.Join(cfg.Storage.DataDir, "knowledge.db"))
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	defer docs.Close()

	if cfg.Storage.CredentialKey == "" {
		return fmt.Errorf("credential sealing key is required (set TICKETPILOT_CREDENTIAL_KEY)")
	}
	sealKey, err := creds.KeyFromHex(cfg.Storage.CredentialKey)
	if err != nil {
		return fmt.Errorf("credential key: %w", err)
	}
	credStore, err := creds.Open(filepath.Join(cfg.Storage.DataDir, "credentials.db"), sealKey)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer credStore.Close()

	factory := ticket.NewFactory(cfg.Trackers)
	defer factory.Close()

	client, err := buildLLMClient(cfg.LLM)
	if err != nil {
		return err
	}
	logger.Info("using %s model %s", cfg.LLM.Provider, client.ModelName())

	recorder, registry := metrics.NewRecorder()
	engine, err := agent.New(
		client,
		docs,
		agent.NewTrackerProvider(credStore, factory),
		checkpoints,
		recorder,
		agent.Config{
			MaxRetries:    cfg.Engine.RetrievalRetries,
			HistoryBudget: cfg.Engine.HistoryBudget,
		},
	)
	if err != nil {
		return err
	}

	server := webapi.NewServer(engine, credStore, docs, registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down (grace %s)", cfg.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildLLMClient selects the provider and layers the shared retry policy on
// top of the raw SDK wrapper.
func buildLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	var inner llm.Client
	switch cfg.Provider {
	case config.ProviderAnthropic:
		inner = anthropic.NewClient(cfg.APIKey, cfg.Model)
	case config.ProviderOpenAI:
		inner = openai.NewClient(cfg.APIKey, cfg.Model)
	case config.ProviderOllama:
		inner = ollama.NewClient(cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}

	retry := llm.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	return llm.WithRetry(inner, retry), nil
}
