package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentruntime/masrt/internal/config"
	"github.com/agentruntime/masrt/internal/llm"
	"github.com/agentruntime/masrt/internal/llmprovider"
	"github.com/agentruntime/masrt/internal/masrt"
	"github.com/agentruntime/masrt/internal/obs"
	"github.com/agentruntime/masrt/internal/store"
	"github.com/agentruntime/masrt/pkg/logger"
)

// ServeCmd starts the runtime: registers every configured agent/operator
// and MCP server, starts the worker/dispatcher goroutines, and blocks
// until interrupted. Grounded on cmd/hector's ServeCmd.Run shape
// (signal-driven cancellation, a deferred shutdown, a startup banner of
// what got wired up).
type ServeCmd struct {
	AnthropicAPIKey string        `name:"anthropic-api-key" help:"Anthropic API key for autonomous agents (defaults to $ANTHROPIC_API_KEY)." env:"ANTHROPIC_API_KEY"`
	MetricsAddr     string        `name:"metrics-addr" help:"Address to serve /metrics on." default:":9090"`
	Watch           bool          `help:"Reload configuration on file change (agent roster changes require a restart to take effect)."`
	PersistEvery    time.Duration `name:"persist-every" help:"Snapshot every task to the configured store on this interval (0 disables)." default:"30s"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("masrt: shutting down")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("masrt: load config: %w", err)
	}

	log := logger.GetLogger()

	if _, err := obs.InitTracer(obs.TracerConfig{
		Enabled:      cfg.Observability.TracingEnabled,
		SamplingRate: cfg.Observability.SamplingRate,
		ServiceName:  cfg.Observability.ServiceName,
	}); err != nil {
		return fmt.Errorf("masrt: init tracer: %w", err)
	}

	metrics := obs.NewMetrics()
	metricsSrv := &http.Server{Addr: c.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("masrt: metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	sup, err := masrt.New(log)
	if err != nil {
		return fmt.Errorf("masrt: build supervisor: %w", err)
	}

	for _, mcpCfg := range cfg.MCPServers {
		if err := sup.ConnectMCPServer(ctx, mcpCfg); err != nil {
			return fmt.Errorf("masrt: connect MCP server %q: %w", mcpCfg.Name, err)
		}
		slog.Info("masrt: connected MCP server", "name", mcpCfg.Name, "transport", mcpCfg.Transport)
	}

	for _, agentCfg := range cfg.Agents {
		if agentCfg.Variant == "operator" {
			id, err := sup.RegisterOperator(agentCfg)
			if err != nil {
				return fmt.Errorf("masrt: register operator %q: %w", agentCfg.Name, err)
			}
			slog.Info("masrt: registered operator", "agent_id", id, "name", agentCfg.Name)
			continue
		}

		client, err := c.llmClientFor(agentCfg)
		if err != nil {
			return err
		}
		id, err := sup.RegisterAgent(agentCfg, client)
		if err != nil {
			return fmt.Errorf("masrt: register agent %q: %w", agentCfg.Name, err)
		}
		slog.Info("masrt: registered agent", "agent_id", id, "name", agentCfg.Name, "model", agentCfg.Model)
	}

	var snapshotStore store.Store
	if cfg.Store.DSN != "" {
		snapshotStore, err = store.Open(cfg.Store.Dialect, cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("masrt: open store: %w", err)
		}
		defer snapshotStore.Close()
		slog.Info("masrt: snapshot persistence enabled", "dialect", cfg.Store.Dialect)
	}

	if c.Watch {
		watcher, err := config.NewWatcher(cli.Config)
		if err != nil {
			return fmt.Errorf("masrt: create config watcher: %w", err)
		}
		defer watcher.Close()
		changes, err := watcher.Watch(ctx)
		if err != nil {
			return fmt.Errorf("masrt: watch config: %w", err)
		}
		go func() {
			for range changes {
				// Agent/operator/MCP-server rosters are wired at startup
				// only; a running supervisor's worker goroutines are not
				// torn down and rebuilt on a config edit. This logs the
				// detected change so an operator knows a restart is
				// needed, matching the teacher's own "reload" logging
				// shape without inheriting its hot-swap machinery (which
				// depends on hector's own executor abstraction).
				slog.Info("masrt: config file changed; restart to apply")
			}
		}()
	}

	sup.Start(ctx)
	slog.Info("masrt: runtime started", "agents", len(cfg.Agents), "metrics_addr", c.MetricsAddr)

	if snapshotStore != nil && c.PersistEvery > 0 {
		go c.persistLoop(ctx, sup, snapshotStore)
	}

	<-ctx.Done()
	return sup.Stop()
}

func (c *ServeCmd) persistLoop(ctx context.Context, sup *masrt.Supervisor, st store.Store) {
	ticker := time.NewTicker(c.PersistEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sup.PersistAll(ctx, st); err != nil {
				slog.Error("masrt: persist snapshots failed", "error", err)
			}
		}
	}
}

// llmClientFor builds the LLM client a config-declared autonomous agent
// calls into. Only Anthropic is wired as a default provider; an agent
// with no API key configured still registers (it can be given an LLM
// client by an embedding Go program instead), its skills simply fail
// until one is attached.
func (c *ServeCmd) llmClientFor(agentCfg config.AgentConfig) (llm.Client, error) {
	if c.AnthropicAPIKey == "" {
		return nil, nil
	}
	model := agentCfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	client, err := llmprovider.NewAnthropic(llmprovider.AnthropicConfig{
		APIKey: c.AnthropicAPIKey,
		Model:  model,
	})
	if err != nil {
		return nil, fmt.Errorf("masrt: build LLM client for agent %q: %w", agentCfg.Name, err)
	}
	return client, nil
}
