package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/AltairaLabs/assistant-server/internal/config"
)

// serveOptions holds flags of the serve command
type serveOptions struct {
	ConfigFile string
	Debug      bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the session orchestrator",
		Long: `Start the session orchestrator.

Configuration is read from defaults, then the --config file, then ASSISTANT_*
environment variables, then flags.

Examples:
  assistant serve --workdir ./project
  assistant serve --addr :9090 --grpc-addr "" --debug`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, opts.ConfigFile)
			if err != nil {
				return err
			}
			if opts.Debug {
				cfg.Log.Debug = true
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ConfigFile, "config", "", "Path to a YAML or JSON config file")
	flags.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	flags.String("addr", config.DefaultHTTPAddr, "HTTP listen address for /ws, /mcp, /health and /metrics")
	flags.String("grpc-addr", config.DefaultGRPCAddr, "gRPC health listen address; empty disables it")
	flags.String("workdir", ".", "Working directory of the initial session")
	flags.String("policy", config.PolicyCooperative, "Busy policy: cooperative or preemptive")
	flags.String("storage", config.StorageMemory, "Audit store driver: memory or sqlite")
	flags.String("dsn", "", "Audit store DSN for the sqlite driver")
	flags.Bool("loop", false, "Enable the background agent loop")

	for key, name := range map[string]string{
		"server.addr":      "addr",
		"server.grpc_addr": "grpc-addr",
		"session.workdir":  "workdir",
		"session.policy":   "policy",
		"storage.driver":   "storage",
		"storage.dsn":      "dsn",
		"loop.enabled":     "loop",
	} {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}

	return cmd
}

func newLogger(debug bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := newLogger(cfg.Log.Debug)
	slog.SetDefault(logger)

	logger.Info("Starting assistant server",
		"version", Version,
		"debug", cfg.Log.Debug,
		"addr", cfg.Server.Addr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"workdir", cfg.Session.WorkDir,
		"policy", cfg.Session.Policy,
		"storage", cfg.Storage.Driver,
	)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	listenConfig := net.ListenConfig{}
	httpLis, err := listenConfig.Listen(ctx, "tcp", cfg.Server.Addr)
	if err != nil {
		_ = a.mgr.Shutdown(ctx)
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}

	httpServer := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", "addr", httpLis.Addr().String())
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	var grpcServer *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		grpcLis, err := listenConfig.Listen(ctx, "tcp", cfg.Server.GRPCAddr)
		if err != nil {
			_ = httpServer.Close()
			_ = a.mgr.Shutdown(ctx)
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
		}
		grpcServer = grpc.NewServer()
		a.health.Register(grpcServer)
		go func() {
			logger.Info("Starting gRPC health server", "addr", grpcLis.Addr().String())
			if err := grpcServer.Serve(grpcLis); err != nil {
				logger.Error("gRPC server error", "error", err)
				cancel()
			}
		}()
	}

	if a.loop != nil {
		go a.loop.Start(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context canceled")
	}

	logger.Info("Shutting down gracefully")
	return shutdown(a, httpServer, grpcServer, cancel, logger)
}

// shutdown settles the session first so clients see their tasks end, then
// stops the listeners
func shutdown(a *app, httpServer *http.Server, grpcServer *grpc.Server, cancel context.CancelFunc, logger *slog.Logger) error {
	ctx, done := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
	defer done()

	a.health.Shutdown()
	err := a.mgr.Shutdown(ctx)
	if err != nil {
		logger.Warn("Session shutdown incomplete", "error", err)
	}
	cancel()
	a.gateway.Wait()
	if err := a.mcp.Shutdown(ctx); err != nil {
		logger.Warn("MCP transport shutdown incomplete", "error", err)
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("HTTP shutdown timeout, forcing close", "error", err)
		_ = httpServer.Close()
	}

	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
			logger.Info("gRPC server stopped gracefully")
		case <-ctx.Done():
			logger.Warn("Graceful shutdown timeout, forcing stop")
			grpcServer.Stop()
			<-stopped
		}
	}

	logger.Info("Assistant server shutdown complete")
	return err
}
