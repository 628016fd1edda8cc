// Package healthcheck serves liveness and readiness probes over HTTP.
package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/scottbrown/lokibridge/internal/logging"
)

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// DefaultReadyTimeout bounds a single readiness probe.
const DefaultReadyTimeout = 5 * time.Second

// Server represents a health check HTTP server
type Server struct {
	addr         string
	ready        ReadyFunc
	readyTimeout time.Duration
	logger       *slog.Logger

	listener   net.Listener
	httpServer *http.Server
}

type status struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// New creates a new health check server with the given address. ready may be
// nil, in which case /readyz mirrors /healthz.
func New(addr string, ready ReadyFunc, logger *slog.Logger) (*Server, error) {
	if addr == "" {
		return nil, errors.New("health check address is required")
	}

	s := &Server{
		addr:         addr,
		ready:        ready,
		readyTimeout: DefaultReadyTimeout,
		logger:       logger.With(logging.FieldComponent, "healthcheck"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler exposes the probe routes for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.logger.Debug("healthcheck server started", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("healthcheck server error", logging.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the healthcheck server
func (s *Server) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeStatus(w, http.StatusOK, status{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.ready == nil {
		writeStatus(w, http.StatusOK, status{Status: "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
	defer cancel()

	if err := s.ready(ctx); err != nil {
		s.logger.Warn("readiness check failed", logging.Error(err))
		writeStatus(w, http.StatusServiceUnavailable, status{Status: "not ready", Error: err.Error()})
		return
	}
	writeStatus(w, http.StatusOK, status{Status: "ready"})
}

func writeStatus(w http.ResponseWriter, code int, body status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
