package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/galadrimteam/goodfriend-relay/internal/config"
)

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		slog.Error("Failed to read settings", "error", err)
		os.Exit(1)
	}

	logger := NewLogger(os.Stderr, settings.LogFormat, settings.LogLevel)
	slog.SetDefault(logger)

	snap, created, err := config.LoadOrCreate(settings.ConfigFile)
	if err != nil {
		logger.Error("Failed to load configuration", "path", settings.ConfigFile, "error", err)
		os.Exit(1)
	}
	if created {
		logger.Info("Wrote default configuration", "path", settings.ConfigFile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services
	store := config.NewStore(snap)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := NewApp(settings, store, logger, registry)

	if settings.ConfigWatch {
		watcher := config.NewWatcher(settings.ConfigFile, store, logger)
		watcher.OnReload = app.metrics.observeConfigReload
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("Configuration watcher stopped", "error", err)
			}
		}()
	}

	// Start HTTP server
	srv := &http.Server{
		Addr:              settings.Address,
		Handler:           app.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server listening", "address", settings.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	cancel()

	// Shutdown waits for active handlers, so open streams have to end first.
	app.EndStreams()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	app.Close()

	logger.Info("Goodbye!")
}
