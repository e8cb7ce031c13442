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

	"golang.org/x/sync/errgroup"

	"reportd/internal/api"
	"reportd/internal/config"
	"reportd/internal/core"
	"reportd/internal/genai"
	"reportd/internal/identity"
	"reportd/internal/logging"
	reportdmcp "reportd/internal/mcp"
	"reportd/internal/notify"
	"reportd/internal/store"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.Log.Level)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.DB.Close()

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("load timezone", "timezone", cfg.Timezone, "err", err)
		os.Exit(1)
	}

	generator := genai.New(cfg.Generation.URL, cfg.Generation.APIKey)
	resolver := identity.New(cfg.Identity.URL)
	batcher := core.NewBatcher(storeInst, logger, cfg.Metrics.FlushSize, cfg.Metrics.FlushInterval)
	coordinator := core.NewCoordinator(storeInst, generator, resolver, batcher, logger, location, cfg.Generation.Timeout)
	poller := core.NewPoller(storeInst, cfg.Poll.Interval, cfg.Poll.MaxAttempts, logger)

	var notifier notify.Notifier = &notify.NoOpNotifier{}
	if cfg.Notification.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(cfg.Notification.WebhookURL)
		if err != nil {
			logger.Error("configure webhook notifier", "err", err)
			os.Exit(1)
		}
		notifier = webhook
	}

	scheduler := core.NewScheduler(storeInst, coordinator, notifier, logger, location)

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("start scheduler", "err", err)
		os.Exit(1)
	}
	if err := scheduler.Sync(ctx); err != nil {
		logger.Error("initial sync", "err", err)
	}

	switch cfg.Mode {
	case "http", "":
		runHTTPMode(cfg, storeInst, coordinator, poller, scheduler, batcher, logger, location)
	case "mcp":
		runMCPMode(cfg, storeInst, coordinator, scheduler, batcher, logger, location, cancel)
	case "both":
		runBothMode(cfg, storeInst, coordinator, poller, scheduler, batcher, logger, location)
	default:
		logger.Error("invalid mode", "mode", cfg.Mode, "valid", []string{"http", "mcp", "both"})
		os.Exit(1)
	}
}

// runHTTPMode starts only the HTTP server.
func runHTTPMode(cfg *config.Config, store *store.Store, coordinator *core.Coordinator, poller *core.Poller, scheduler *core.Scheduler, batcher *core.Batcher, logger *slog.Logger, location *time.Location) {
	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, store, coordinator, poller, logger, location)
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

	shutdown(cfg, server, scheduler, batcher, logger)
}

// runMCPMode starts only the MCP server on stdio.
func runMCPMode(cfg *config.Config, store *store.Store, coordinator *core.Coordinator, scheduler *core.Scheduler, batcher *core.Batcher, logger *slog.Logger, location *time.Location, cancel context.CancelFunc) {
	mcpServer := reportdmcp.NewMCPServer(store, coordinator, logger, location)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		logger.Info("received signal, shutting down...")
		cancel()
	}()

	if err := mcpServer.Run(); err != nil {
		logger.Error("mcp server error", "err", err)
		os.Exit(1)
	}

	shutdown(cfg, nil, scheduler, batcher, logger)
}

// runBothMode starts the HTTP and MCP servers together.
func runBothMode(cfg *config.Config, store *store.Store, coordinator *core.Coordinator, poller *core.Poller, scheduler *core.Scheduler, batcher *core.Batcher, logger *slog.Logger, location *time.Location) {
	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, store, coordinator, poller, logger, location)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}
	mcpServer := reportdmcp.NewMCPServer(store, coordinator, logger, location)

	var group errgroup.Group
	group.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(mcpServer.Run)

	groupErr := make(chan error, 1)
	go func() {
		groupErr <- group.Wait()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-groupErr:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	shutdown(cfg, server, scheduler, batcher, logger)
	logger.Info("shutdown complete")
}

// shutdown drains the HTTP server, stops the scheduler tick loop and
// flushes any buffered usage metrics, each bounded by the grace period.
func shutdown(cfg *config.Config, server *api.Server, scheduler *core.Scheduler, batcher *core.Batcher, logger *slog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
	}

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.ShutdownGrace):
		logger.Warn("scheduler stop timed out")
	}

	batcher.Close(shutdownCtx)
}
