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
	"time"

	"questtab/internal/api"
	"questtab/internal/cache"
	"questtab/internal/config"
	"questtab/internal/logging"
	questtabmcp "questtab/internal/mcp"
	"questtab/internal/notify"
	"questtab/internal/reminder"
	"questtab/internal/store"
	"questtab/internal/tracker"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.Log.Level)

	location, err := cfg.Location()
	if err != nil {
		logger.Error("resolve timezone", "err", err)
		os.Exit(1)
	}

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir, cfg.StatusRetentionDays)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.DB.Close()

	var dashCache *cache.DashboardCache
	if cfg.Redis.Addr != "" {
		dashCache = cache.New(cfg.Redis.Addr, cfg.Redis.DashboardTTL)
		if err := dashCache.Ping(baseCtx); err != nil {
			logger.Warn("redis unreachable, dashboard cache disabled", "addr", cfg.Redis.Addr, "err", err)
			dashCache = nil
		}
		defer dashCache.Close()
	}

	var notifier notify.Notifier = notify.NoOpNotifier{}
	if cfg.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Bark.URL)
		if err != nil {
			logger.Error("configure bark", "err", err)
			os.Exit(1)
		}
		notifier = bark
	}

	tr := tracker.New(storeInst, logger, location)

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	sched := reminder.New(tr, storeInst, notifier, logger, location)
	if err := sched.Start(ctx, cfg.DigestCron); err != nil {
		logger.Error("start reminder scheduler", "err", err)
		os.Exit(1)
	}

	switch cfg.Mode {
	case "http":
		runHTTPMode(cfg, storeInst, tr, dashCache, sched, logger, location)
	case "mcp":
		runMCPMode(storeInst, tr, sched, logger, cancel)
	case "both":
		runBothMode(cfg, storeInst, tr, dashCache, sched, logger, location)
	}
}

// runHTTPMode starts only the HTTP server.
func runHTTPMode(cfg *config.Config, st *store.Store, tr *tracker.Tracker, dc *cache.DashboardCache, sched *reminder.Scheduler, logger *slog.Logger, location *time.Location) {
	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, st, tr, dc, logger, location)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

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

	shutdown(cfg, server, sched, logger)
}

// runMCPMode starts only the MCP server on stdio.
func runMCPMode(st *store.Store, tr *tracker.Tracker, sched *reminder.Scheduler, logger *slog.Logger, cancel context.CancelFunc) {
	mcpServer := questtabmcp.NewMCPServer(st, tr, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("received signal, shutting down")
		cancel()
	}()

	if err := mcpServer.Run(); err != nil {
		logger.Error("mcp server error", "err", err)
		os.Exit(1)
	}
	<-sched.Stop().Done()
}

// runBothMode starts the MCP server in the background alongside HTTP.
func runBothMode(cfg *config.Config, st *store.Store, tr *tracker.Tracker, dc *cache.DashboardCache, sched *reminder.Scheduler, logger *slog.Logger, location *time.Location) {
	mcpServer := questtabmcp.NewMCPServer(st, tr, logger)
	mcpErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Run(); err != nil {
			mcpErr <- err
		}
	}()

	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, st, tr, dc, logger, location)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

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

	shutdown(cfg, server, sched, logger)
}

func shutdown(cfg *config.Config, server *api.Server, sched *reminder.Scheduler, logger *slog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}

	stopCtx := sched.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.ShutdownGrace):
		logger.Warn("reminder scheduler stop timed out")
	}
	logger.Info("shutdown complete")
}
