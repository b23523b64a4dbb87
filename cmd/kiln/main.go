// Kiln server. Runs the build execution core: worker pool, cron
// scheduler, event bus, and cache retention, plus an optional Prometheus
// scrape listener.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kiln-ci/kiln/pkg/config"
	"github.com/kiln-ci/kiln/pkg/runtime"
	"github.com/kiln-ci/kiln/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configPath := flag.String("config",
		getEnv("KILN_CONFIG", "./deploy/kiln.yaml"),
		"Path to configuration file")
	flag.Parse()

	// Load .env file from the configuration directory
	envPath := filepath.Join(filepath.Dir(*configPath), ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting Kiln",
		"version", version.Full(),
		"config", *configPath)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Assemble the runtime
	rt, err := runtime.New(cfg, runtime.Options{})
	if err != nil {
		slog.Error("Failed to assemble runtime", "error", err)
		os.Exit(1)
	}

	// 3. Start background services
	rt.Start(ctx)

	// 4. Start metrics listener (non-blocking, optional)
	errCh := make(chan error, 1)
	var metricsServer *http.Server
	if addr := cfg.Metrics.ListenAddress; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: addr, Handler: mux}
		go func() {
			slog.Info("Metrics listener started", "addr", addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics listener error", "error", err)
				errCh <- err
			}
		}()
	}

	slog.Info("Kiln started successfully",
		"workers", cfg.Pool.Workers,
		"cron_poll_seconds", cfg.Cron.PollIntervalSeconds)

	// 5. Wait for shutdown signal or listener error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Listener error triggered shutdown", "error", err)
	}

	// 6. Graceful shutdown: stop triggers, drain builds, close the bus
	rt.Stop()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics listener shutdown error", "error", err)
		}
	}

	slog.Info("Kiln stopped")
}
