package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/goswarm/internal/agent"
	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/cancel"
	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/registry"
	"github.com/nextlevelbuilder/goswarm/internal/server"
	"github.com/nextlevelbuilder/goswarm/internal/skills"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/internal/telemetry"
)

func runNode() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Provider.APIKey == "" {
		slog.Error("no API key configured; set SWARM_API_KEY")
		os.Exit(1)
	}

	// Child processes spawned by the bash tool inherit the node identity.
	os.Setenv("SWARM_NODE_PORT", strconv.Itoa(port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, port)
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	sessions, err := store.OpenSQLite(cfg.SessionDBPath(port))
	if err != nil {
		slog.Error("open session store", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	reg, err := registry.Open(cfg.RegistryDSN())
	if err != nil {
		slog.Error("open swarm registry", "error", err)
		os.Exit(1)
	}
	defer reg.Close()

	provider := providers.NewOpenAIProvider(cfg.Provider.Name, cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model)

	manager := skills.NewManager(cfg.Skills.Dir)
	skills.RegisterBuiltins(manager)
	if err := manager.Scan(); err != nil {
		slog.Error("scan skills", "error", err)
		os.Exit(1)
	}
	if cfg.Skills.Watch {
		if err := manager.Watch(ctx); err != nil {
			slog.Warn("skills hot-reload unavailable", "error", err)
		}
	}
	slog.Info("skills discovered", "count", len(manager.IDs()), "ids", manager.IDs())

	compactor := agent.NewCompactor(sessions, provider, cfg.Compaction, cfg.Provider.ContextWindow)
	runtime := agent.NewRuntime(sessions, provider, compactor, manager, cancel.NewHub(), cfg, port)

	manager.Bind(skills.Deps{
		Registry:  reg,
		NodePort:  port,
		AppName:   cfg.App.Name,
		Workspace: cfg.WorkspaceDir(),
		Compact:   runtime.CompactSession,
	})

	node := registry.Node{
		Port:     port,
		URL:      advertiseURL(cfg, port),
		Status:   registry.StatusActive,
		LastSeen: float64(time.Now().Unix()),
	}
	if err := reg.Register(ctx, node); err != nil {
		slog.Error("register node", "error", err)
		os.Exit(1)
	}
	slog.Info("node registered", "port", port, "url", node.URL)
	defer func() {
		deregCtx, cancelDereg := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelDereg()
		if err := reg.Deregister(deregCtx, port); err != nil {
			slog.Warn("deregister node", "error", err)
		} else {
			slog.Info("node deregistered", "port", port)
		}
	}()

	srv := server.NewServer(cfg, runtime, sessions, reg, bus.New(), port)
	if err := srv.Start(ctx); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// advertiseURL is the address peers dial. A wildcard bind host is not
// dialable, so it advertises as localhost.
func advertiseURL(cfg *config.Config, port int) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}
