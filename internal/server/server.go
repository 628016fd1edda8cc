// Package server accepts WebSocket producers and relays their messages to Loki.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/scottbrown/lokibridge/internal/forwarder"
	"github.com/scottbrown/lokibridge/internal/logging"
	"github.com/scottbrown/lokibridge/internal/metrics"
	"github.com/scottbrown/lokibridge/internal/normalizer"
)

// Config contains server configuration
type Config struct {
	ListenAddr      string
	MaxMessageBytes int64
	// OriginPatterns are host patterns browsers may connect from.
	// Empty means same-origin only; "*" allows any origin.
	OriginPatterns []string
}

// Server represents the WebSocket bridge server
type Server struct {
	config     Config
	normalizer *normalizer.Normalizer
	forwarder  forwarder.Forwarder
	logger     *slog.Logger

	listener   net.Listener
	httpServer *http.Server

	// baseCtx is cancelled on Shutdown to unblock every connection's read.
	baseCtx context.Context
	cancel  context.CancelFunc
	conns   sync.WaitGroup

	now func() time.Time
}

// New creates a new server with the given configuration
func New(config Config, norm *normalizer.Normalizer, fwd forwarder.Forwarder, logger *slog.Logger) (*Server, error) {
	if norm == nil {
		return nil, errors.New("normalizer is required")
	}
	if fwd == nil {
		return nil, errors.New("forwarder is required")
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     config,
		normalizer: norm,
		forwarder:  fwd,
		logger:     logger.With(logging.FieldComponent, "server"),
		baseCtx:    baseCtx,
		cancel:     cancel,
		now:        time.Now,
	}

	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	return s, nil
}

// Listen binds the listen address. A bind failure is returned as is so the
// caller can abort startup.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = ln
	s.logger.Info("server listening", "addr", ln.Addr().String())
	return nil
}

// Serve accepts connections until Shutdown is called.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start binds and serves.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, closes every open connection and waits for
// their handlers to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades any request path to a WebSocket connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Registered before the hijack so Shutdown always observes it.
	s.conns.Add(1)
	defer s.conns.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.config.OriginPatterns,
	})
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.RemoteAddr(r.RemoteAddr), logging.Error(err))
		return
	}

	s.handleConnection(r.Context(), conn, r.RemoteAddr)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, remoteAddr string) {
	defer conn.CloseNow()

	connID := uuid.NewString()
	log := s.logger.With(logging.ConnID(connID), logging.RemoteAddr(remoteAddr))

	if s.config.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.config.MaxMessageBytes)
	}

	metrics.ConnectionsAccepted.Inc()
	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	log.Info("client connected")
	defer log.Info("connection closed")

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			logReadError(log, err)
			return
		}

		log.Info("received message", logging.FieldBytes, len(msg))

		ack := s.processMessage(ctx, connID, msg, log)
		if err := wsjson.Write(ctx, conn, ack); err != nil {
			log.Warn("failed to send acknowledgment", logging.Error(err))
			return
		}
		metrics.Acks.WithLabelValues(ack.Status).Inc()
	}
}

// processMessage never fails: every problem becomes an error ack so one bad
// message cannot end the connection.
func (s *Server) processMessage(ctx context.Context, connID string, msg []byte, log *slog.Logger) (ack Ack) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing message", "panic", r)
			ack = NewAck(false, s.now())
		}
	}()

	metrics.BytesReceived.Add(float64(len(msg)))

	res, err := s.normalizer.Normalize(msg)
	if err != nil {
		log.Error("failed to normalize message", logging.Error(err))
		return NewAck(false, s.now())
	}
	metrics.MessagesReceived.WithLabelValues(res.Kind.String()).Inc()

	status, err := s.forwarder.Push(ctx, connID, res.Body)
	if err != nil {
		// The forwarder has already logged the failure detail.
		return NewAck(false, s.now())
	}

	log.Debug("forwarded message", logging.FieldKind, res.Kind.String(), logging.Status(status))
	return NewAck(status == http.StatusNoContent, s.now())
}

func logReadError(log *slog.Logger, err error) {
	switch {
	case websocket.CloseStatus(err) != -1:
		log.Info("client disconnected", "close_code", int(websocket.CloseStatus(err)))
	case errors.Is(err, context.Canceled):
		log.Info("connection cancelled by shutdown")
	case errors.Is(err, io.EOF):
		log.Info("client disconnected", logging.Error(err))
	default:
		log.Warn("read error", logging.Error(err))
	}
}
