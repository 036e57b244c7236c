package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AltairaLabs/assistant-server/internal/agentloop"
	"github.com/AltairaLabs/assistant-server/internal/config"
	"github.com/AltairaLabs/assistant-server/internal/health"
	"github.com/AltairaLabs/assistant-server/internal/mcpserver"
	"github.com/AltairaLabs/assistant-server/internal/orchestrator"
	"github.com/AltairaLabs/assistant-server/internal/orchestrator/retry"
	"github.com/AltairaLabs/assistant-server/internal/runtime/echo"
	"github.com/AltairaLabs/assistant-server/internal/storage"
	"github.com/AltairaLabs/assistant-server/internal/storage/memory"
	"github.com/AltairaLabs/assistant-server/internal/storage/sqlite"
	"github.com/AltairaLabs/assistant-server/internal/transport/ws"
)

// echoDelay is how long the echo runtime takes to answer
const echoDelay = 500 * time.Millisecond

// app is the wired server without its listeners
type app struct {
	mgr     *orchestrator.Manager
	loop    *agentloop.Loop
	health  *health.Server
	gateway *ws.Gateway
	mcp     *mcpserver.MCPServer
	router  *mux.Router

	registry *prometheus.Registry
}

func openStore(cfg config.StorageConfig) (storage.AuditStore, error) {
	switch cfg.Driver {
	case config.StorageSQLite:
		store, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageMemory:
		return memory.NewAuditStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newRuntime(name string) (orchestrator.Runtime, error) {
	switch name {
	case echo.Name:
		return echo.New(echoDelay), nil
	default:
		return nil, fmt.Errorf("unknown runtime %q", name)
	}
}

// newApp wires storage, metrics, the session manager and every client surface
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	policy, err := orchestrator.PolicyByName(cfg.Session.Policy)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := orchestrator.NewMetrics(registry)
	audit := orchestrator.NewAuditLogger(logger, store)
	healthServer := health.NewServer(logger)

	a := &app{health: healthServer, registry: registry}

	listeners := []orchestrator.BusyListener{metrics, healthServer}
	if cfg.Loop.Enabled {
		a.loop = agentloop.New(agentloop.Config{
			Interval: cfg.Loop.Interval,
			Prompt:   cfg.Loop.Prompt,
			Retry:    cfg.Loop.RetryPolicy(),
		}, agentloop.InvokerFunc(func(ctx context.Context, prompt string) (string, error) {
			return a.mgr.Current().RunBackground(ctx, prompt)
		}), logger.With("component", "agentloop"))
		listeners = append(listeners, a.loop)
	}

	factory := func(workDir string) (*orchestrator.Session, error) {
		rt, err := newRuntime(cfg.Session.Runtime)
		if err != nil {
			return nil, err
		}
		return orchestrator.NewSession(rt, orchestrator.SessionOptions{
			WorkDir:            workDir,
			Policy:             policy,
			MaxPendingChimeIns: cfg.ChimeIn.MaxPending,
			FixBudget:          retry.DefaultPolicy().WithMaxAttempts(cfg.AutoFix.MaxAttempts),
			FixExclusive:       cfg.AutoFix.Exclusive,
			FixRecordTTL:       cfg.AutoFix.RecordTTL,
			Audit:              audit,
			Metrics:            metrics,
			Logger:             logger,
		}), nil
	}

	mgr, err := orchestrator.NewManager(factory, cfg.Session.WorkDir, cfg.Session.CloseTimeout, logger, listeners...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	mgr.OnShutdown(store.Close)
	a.mgr = mgr

	var loopCtl ws.LoopController
	if a.loop != nil {
		loopCtl = a.loop
	}
	gateway := ws.NewGateway(ctx, mgr, ws.Options{
		SendBuffer:   cfg.Server.SendBuffer,
		WriteTimeout: cfg.Server.WriteTimeout,
		Loop:         loopCtl,
		Logger:       logger.With("component", "ws"),
	})
	a.gateway = gateway
	a.mcp = mcpserver.NewMCPServer(mcpserver.Config{Name: appName, Version: Version}, mgr, logger.With("component", "mcp"))

	router := mux.NewRouter()
	router.HandleFunc("/health", health.HTTPHandler(appName, Version, func() orchestrator.SessionState {
		return mgr.Current().Snapshot()
	})).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.Handle("/ws", gateway)
	router.PathPrefix("/mcp").Handler(a.mcp.Handler())
	a.router = router

	return a, nil
}
