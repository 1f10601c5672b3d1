package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gpusched/gpusched/internal/api"
	"github.com/gpusched/gpusched/internal/config"
	"github.com/gpusched/gpusched/internal/core"
	"github.com/gpusched/gpusched/internal/logging"
	"github.com/gpusched/gpusched/internal/mcp"
	"github.com/gpusched/gpusched/internal/notify"
	"github.com/gpusched/gpusched/internal/probe"
	"github.com/gpusched/gpusched/internal/session"
	"github.com/gpusched/gpusched/internal/store"
	"github.com/gpusched/gpusched/internal/worktree"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.Log.Level)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StorePath)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.DB.Close()

	var notifier notify.Notifier = &notify.NoOpNotifier{}
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			logger.Error("create bark notifier", "err", err)
			os.Exit(1)
		}
		notifier = bark
	}

	gpuProbe := probe.NewNvidiaSMIProbe(cfg.NvidiaSMIBinary)
	runner := session.NewTmuxRunner(cfg.TmuxBinary)
	wt := worktree.New(cfg.RuntimeDir, cfg.ShellInit)

	scheduler := core.NewScheduler(storeInst, gpuProbe, runner, wt, notifier, logger, core.Config{
		PollInterval: cfg.PollInterval,
		MaxLogTail:   cfg.MaxLogTail,
	})

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("start scheduler", "err", err)
		os.Exit(1)
	}

	switch cfg.Mode {
	case "http":
		runHTTPMode(cfg, scheduler, logger)
	case "mcp":
		runMCPMode(scheduler, logger)
	case "both":
		runBothMode(cfg, scheduler, logger)
	default:
		logger.Error("invalid mode", "mode", cfg.Mode, "valid", []string{"http", "mcp", "both"})
		os.Exit(1)
	}

	scheduler.Stop()
}

// runHTTPMode starts only the HTTP server and blocks until signaled.
func runHTTPMode(cfg *config.Config, scheduler *core.Scheduler, logger *slog.Logger) {
	server := api.NewServer(cfg.Server.Addr, scheduler, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
}

// runMCPMode starts only the MCP stdio server and blocks until stdin closes
// or the process is signaled.
func runMCPMode(scheduler *core.Scheduler, logger *slog.Logger) {
	mcpServer := mcp.NewServer(scheduler, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("received signal, shutting down")
		os.Exit(0)
	}()

	if err := mcpServer.Run(); err != nil {
		logger.Error("mcp server error", "err", err)
		os.Exit(1)
	}
}

// runBothMode starts the HTTP server and the MCP stdio server side by side.
func runBothMode(cfg *config.Config, scheduler *core.Scheduler, logger *slog.Logger) {
	mcpServer := mcp.NewServer(scheduler, logger)
	mcpErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Run(); err != nil {
			mcpErr <- err
		}
	}()

	server := api.NewServer(cfg.Server.Addr, scheduler, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		logger.Error("mcp server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	// The MCP server exits with the process; stdio has no graceful
	// shutdown handshake of its own.
}
