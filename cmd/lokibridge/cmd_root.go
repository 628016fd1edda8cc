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

	"github.com/scottbrown/lokibridge"
	"github.com/scottbrown/lokibridge/internal/config"
	"github.com/scottbrown/lokibridge/internal/forwarder"
	"github.com/scottbrown/lokibridge/internal/healthcheck"
	"github.com/scottbrown/lokibridge/internal/logging"
	"github.com/scottbrown/lokibridge/internal/metrics"
	"github.com/scottbrown/lokibridge/internal/normalizer"
	"github.com/scottbrown/lokibridge/internal/server"
)

// shutdownTimeout bounds how long open connections get to wind down.
const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:     lokibridge.AppName,
	Short:   "WebSocket to Grafana Loki log bridge",
	Long:    "A WebSocket server that accepts log messages from browsers and other producers, forwards each one to Grafana Loki's push API and acknowledges it.",
	Version: lokibridge.Version(),
	Run:     handleRootCmd,
}

func handleRootCmd(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error("bridge stopped", logging.Error(err))
		os.Exit(1)
	}
}

// run wires every component and serves until ctx is cancelled. ready, when
// non-nil, receives the bound WebSocket address once the listener is up.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready chan<- net.Addr) error {
	metrics.Init(lokibridge.Version())

	metricsSrv, err := metrics.StartServer(cfg.MetricsAddr, logger)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	if metricsSrv != nil {
		defer closeHTTP(metricsSrv, logger)
	}

	norm := normalizer.New(normalizer.Config{
		Source:      cfg.DefaultSource,
		Level:       cfg.DefaultLevel,
		ExtraLabels: cfg.ExtraLabels,
	})

	fwd := forwarder.New(forwarder.Config{
		URL:           cfg.LokiURL,
		TenantID:      cfg.LokiTenantID,
		UseGzip:       cfg.LokiGzip,
		ClientTimeout: cfg.LokiTimeout,
	}, logger)
	logger.Info("initialized loki forwarder", logging.FieldLokiURL, cfg.LokiURL, "labels", norm.Labels())

	if cfg.HealthCheckEnabled {
		healthSrv, err := healthcheck.New(cfg.HealthCheckAddr, fwd.HealthCheck, logger)
		if err != nil {
			return fmt.Errorf("failed to create healthcheck server: %w", err)
		}
		if err := healthSrv.Start(); err != nil {
			return fmt.Errorf("failed to start healthcheck server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = healthSrv.Stop(stopCtx)
		}()
		logger.Info("healthcheck server listening", "addr", healthSrv.Addr().String())
	}

	// Loki is often still starting when the bridge comes up, so an
	// unreachable endpoint is reported but not fatal.
	checkCtx, cancel := context.WithTimeout(ctx, cfg.LokiTimeout)
	if err := fwd.HealthCheck(checkCtx); err != nil {
		logger.Warn("loki is not ready yet", logging.FieldLokiURL, cfg.LokiURL, logging.Error(err))
	} else {
		logger.Info("loki connectivity verified")
	}
	cancel()

	srv, err := server.New(server.Config{
		ListenAddr:      cfg.ListenAddr(),
		MaxMessageBytes: cfg.MaxMessageBytes,
		OriginPatterns:  cfg.OriginPatterns,
	}, norm, fwd, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Listen(); err != nil {
		return err
	}
	if ready != nil {
		ready <- srv.Addr()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve()
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("initiating graceful shutdown")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", logging.Error(err))
	}
	if err := <-serveErr; err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func closeHTTP(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("failed to stop http server", logging.Error(err))
	}
}
