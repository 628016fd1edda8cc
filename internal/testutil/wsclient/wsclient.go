// Package wsclient provides a mock WebSocket log producer for integration testing.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Ack mirrors the acknowledgment the bridge writes after every message.
type Ack struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// OK reports whether the bridge accepted the message.
func (a Ack) OK() bool {
	return a.Status == "success"
}

// MockProducer simulates a browser or service streaming log messages to the bridge.
type MockProducer struct {
	// Configuration
	URL    string
	Origin string

	// Behaviour
	MessageDelay time.Duration
	ReadLimit    int64

	// State
	conn         *websocket.Conn
	MessagesSent int
	Acks         []Ack
	Errors       []error

	logger *slog.Logger
}

// Option is a functional option for configuring MockProducer.
type Option func(*MockProducer)

// WithOrigin sets the Origin header sent during the handshake.
func WithOrigin(origin string) Option {
	return func(p *MockProducer) {
		p.Origin = origin
	}
}

// WithMessageDelay sets the delay before each message.
func WithMessageDelay(delay time.Duration) Option {
	return func(p *MockProducer) {
		p.MessageDelay = delay
	}
}

// WithVerbose enables verbose logging.
func WithVerbose(verbose bool) Option {
	return func(p *MockProducer) {
		if verbose {
			p.logger = slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "wsclient")
		} else {
			p.logger = nil
		}
	}
}

// New creates a producer that will connect to the given ws:// URL.
func New(url string, opts ...Option) *MockProducer {
	p := &MockProducer{
		URL:    url,
		Acks:   make([]Ack, 0),
		Errors: make([]error, 0),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Connect performs the WebSocket handshake.
func (p *MockProducer) Connect(ctx context.Context) error {
	p.logEvent("connecting", "url", p.URL)

	var opts *websocket.DialOptions
	if p.Origin != "" {
		opts = &websocket.DialOptions{HTTPHeader: http.Header{"Origin": []string{p.Origin}}}
	}

	conn, resp, err := websocket.Dial(ctx, p.URL, opts)
	if err != nil {
		p.recordError(err)
		attrs := []any{"error", err.Error()}
		if resp != nil {
			attrs = append(attrs, "status", resp.StatusCode)
		}
		p.logEvent("connection_failed", attrs...)
		return fmt.Errorf("failed to connect: %w", err)
	}
	if p.ReadLimit > 0 {
		conn.SetReadLimit(p.ReadLimit)
	}

	p.conn = conn
	p.logEvent("connected")
	return nil
}

// Send writes a text message and waits for its acknowledgment.
func (p *MockProducer) Send(ctx context.Context, msg string) (Ack, error) {
	return p.send(ctx, websocket.MessageText, []byte(msg))
}

// SendBinary writes a binary message and waits for its acknowledgment.
func (p *MockProducer) SendBinary(ctx context.Context, msg []byte) (Ack, error) {
	return p.send(ctx, websocket.MessageBinary, msg)
}

// SendAll sends messages in order and returns their acknowledgments.
func (p *MockProducer) SendAll(ctx context.Context, msgs []string) ([]Ack, error) {
	acks := make([]Ack, 0, len(msgs))
	for i, msg := range msgs {
		ack, err := p.Send(ctx, msg)
		if err != nil {
			return acks, fmt.Errorf("failed to send message %d: %w", i, err)
		}
		acks = append(acks, ack)
	}

	p.logEvent("batch_sent", "messages", len(msgs))
	return acks, nil
}

func (p *MockProducer) send(ctx context.Context, typ websocket.MessageType, msg []byte) (Ack, error) {
	if p.conn == nil {
		return Ack{}, errors.New("not connected")
	}

	if p.MessageDelay > 0 {
		time.Sleep(p.MessageDelay)
	}

	if err := p.conn.Write(ctx, typ, msg); err != nil {
		p.recordError(err)
		p.logEvent("send_failed", "error", err.Error(), "message", p.MessagesSent+1)
		return Ack{}, fmt.Errorf("failed to send message: %w", err)
	}
	p.MessagesSent++

	var ack Ack
	if err := wsjson.Read(ctx, p.conn, &ack); err != nil {
		p.recordError(err)
		p.logEvent("ack_failed", "error", err.Error(), "message", p.MessagesSent)
		return Ack{}, fmt.Errorf("failed to read acknowledgment: %w", err)
	}
	p.Acks = append(p.Acks, ack)

	p.logEvent("message_acked", "message", p.MessagesSent, "bytes", len(msg), "status", ack.Status)
	return ack, nil
}

// Close performs a normal closing handshake.
func (p *MockProducer) Close() error {
	if p.conn == nil {
		return nil
	}

	p.logEvent("closing", "messages_sent", p.MessagesSent, "errors", len(p.Errors))

	err := p.conn.Close(websocket.StatusNormalClosure, "")
	p.conn = nil

	if err != nil {
		p.recordError(err)
		return err
	}

	p.logEvent("closed")
	return nil
}

func (p *MockProducer) recordError(err error) {
	p.Errors = append(p.Errors, err)
}

func (p *MockProducer) logEvent(event string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Info(event, args...)
}

// Error Injection Helpers

// TruncatedJSON returns the input without its closing brace.
func TruncatedJSON(validJSON string) string {
	return strings.TrimSuffix(strings.TrimRight(validJSON, "\n"), "}")
}

// OversizedMessage generates a JSON document of roughly size bytes.
func OversizedMessage(size int) string {
	if size < 32 {
		size = 32
	}
	return fmt.Sprintf(`{"message":"%s"}`, strings.Repeat("A", size-14))
}

// InvalidJSON returns syntactically invalid JSON.
func InvalidJSON() string {
	return "{invalid json without quotes}"
}
