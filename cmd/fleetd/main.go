// Command fleetd is the fleet orchestration daemon: it syncs device/tag/
// location inventory, drives wake/shutdown/reboot/mute actions through
// protocol adapters, and routes bus commands from the API, calendar, KNX
// and fire-alarm inputs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleethub/internal/bus"
	"fleethub/internal/config"
	"fleethub/internal/inventory"
	"fleethub/internal/logging"
	"fleethub/internal/manager"
	"fleethub/internal/metrics"
	"fleethub/internal/store"
)

func main() {
	var logLevel = flag.String("log-level", "", "Log level (debug, info, warn, error); overrides FLEETD_LOG_LEVEL")
	flag.Parse()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auditLog, err := store.Open(ctx, cfg.AuditDBPath)
	if err != nil {
		logger.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	invClient, err := inventory.New(cfg.APIBaseURL, cfg.APIUsername, cfg.APIPassword, cfg.APIRootCAPath)
	if err != nil {
		logger.Error("failed to construct inventory client", "error", err)
		os.Exit(1)
	}

	busClient := bus.New(cfg.MQTTHost, cfg.MQTTClientID, logger)

	mgr, err := manager.New(cfg, logger, busClient, invClient, auditLog)
	if err != nil {
		logger.Error("failed to construct manager", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	go busClient.Start(ctx)

	go func() {
		if err := mgr.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("manager stopped unexpectedly", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server forced to shutdown", "error", err)
	}

	logger.Info("fleetd exited")
}
