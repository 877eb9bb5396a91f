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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ddevcap/session-gateway/api"
	"github.com/ddevcap/session-gateway/internal/config"
	"github.com/ddevcap/session-gateway/internal/controller"
	"github.com/ddevcap/session-gateway/internal/healthmonitor"
	"github.com/ddevcap/session-gateway/internal/loadbalancer"
	"github.com/ddevcap/session-gateway/internal/metrics"
	"github.com/ddevcap/session-gateway/internal/registry"
	"github.com/ddevcap/session-gateway/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// LogLevel hasn't been parsed into the logger yet when config itself
		// fails to load, so this one line goes to a bare default handler.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	client := upstream.NewClient()
	reg := registry.New(cfg.BackendServers, client, cfg.SessionCacheTTL, cfg.MaxSessionsPerServer)
	defer reg.Close()

	var promReg *prometheus.Registry
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		promReg = prometheus.NewRegistry()
		m = metrics.New(promReg, func() float64 { return float64(reg.Index().Len()) })
	}

	lb := loadbalancer.New(reg, client, loadbalancer.Config{
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		RequestTimeout: cfg.RequestTimeout,
	}, m)

	monitor := healthmonitor.New(reg, client, cfg.HealthCheckInterval, cfg.RequestTimeout, m)
	monitor.Start(context.Background())

	ctrl := controller.New(reg, lb, monitor)
	router := api.NewRouter(ctrl, cfg.MetricsEnabled, promReg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		slog.Info("session gateway listening", "addr", srv.Addr, "backends", len(cfg.BackendServers))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
