package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartServer starts the metrics HTTP server on the specified address.
// It serves the Prometheus exposition format at /metrics.
// If addr is empty, the server is not started and a nil server is returned.
// The listener is bound before returning so bind failures surface here.
func StartServer(addr string, logger *slog.Logger) (*http.Server, error) {
	if addr == "" {
		logger.Info("metrics server disabled")
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	// Create server with explicit timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", addr, err)
	}

	logger.Info("starting metrics server", "addr", ln.Addr().String())

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return server, nil
}
