// Package bridgetest provides utilities for running a bridge instance in tests.
package bridgetest

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scottbrown/lokibridge/internal/config"
	"github.com/scottbrown/lokibridge/internal/forwarder"
	"github.com/scottbrown/lokibridge/internal/logging"
	"github.com/scottbrown/lokibridge/internal/normalizer"
	"github.com/scottbrown/lokibridge/internal/server"
)

// BridgeInstance is an in-process bridge wired to a Loki endpoint.
type BridgeInstance struct {
	// Configuration
	LokiURL         string
	TenantID        string
	UseGzip         bool
	MaxMessageBytes int64
	ExtraLabels     map[string]string
	DefaultSource   string
	DefaultLevel    string

	// Runtime
	Config     *config.Config
	configFile string
	srv        *server.Server
	serveErr   chan error
	logs       syncBuffer
	t          *testing.T
}

// Option is a functional option for configuring BridgeInstance.
type Option func(*BridgeInstance)

// WithTenant sets the Loki tenant sent as X-Scope-OrgID.
func WithTenant(tenant string) Option {
	return func(b *BridgeInstance) {
		b.TenantID = tenant
	}
}

// WithGzip enables gzip request bodies.
func WithGzip(enabled bool) Option {
	return func(b *BridgeInstance) {
		b.UseGzip = enabled
	}
}

// WithMaxMessageBytes sets the largest accepted message.
func WithMaxMessageBytes(n int64) Option {
	return func(b *BridgeInstance) {
		b.MaxMessageBytes = n
	}
}

// WithLabels sets the labels applied to wrapped messages.
func WithLabels(source, level string, extra map[string]string) Option {
	return func(b *BridgeInstance) {
		b.DefaultSource = source
		b.DefaultLevel = level
		b.ExtraLabels = extra
	}
}

// NewBridgeInstance creates a bridge that will push to lokiURL.
func NewBridgeInstance(t *testing.T, lokiURL string, opts ...Option) *BridgeInstance {
	t.Helper()

	b := &BridgeInstance{
		LokiURL:         lokiURL,
		MaxMessageBytes: config.DefaultMaxMessageBytes,
		DefaultSource:   normalizer.DefaultSource,
		DefaultLevel:    normalizer.DefaultLevel,
		t:               t,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Start writes a configuration file, loads it and serves on a free port.
func (b *BridgeInstance) Start() error {
	b.t.Helper()

	configFile, err := b.generateConfigFile()
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}
	b.configFile = configFile

	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	b.Config = cfg

	logger, err := logging.New(&b.logs, "debug", "json")
	if err != nil {
		return err
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

	srv, err := server.New(server.Config{
		ListenAddr:      cfg.ListenAddr(),
		MaxMessageBytes: cfg.MaxMessageBytes,
		OriginPatterns:  cfg.OriginPatterns,
	}, norm, fwd, logger)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	b.srv = srv

	b.serveErr = make(chan error, 1)
	go func() { b.serveErr <- srv.Serve() }()

	b.t.Cleanup(func() { _ = b.Stop() })
	return nil
}

// MustStart starts the bridge or fails the test.
func (b *BridgeInstance) MustStart() {
	b.t.Helper()
	if err := b.Start(); err != nil {
		b.t.Fatalf("Failed to start bridge: %v", err)
	}
}

// URL returns the ws:// address producers should dial.
func (b *BridgeInstance) URL() string {
	if b.srv == nil || b.srv.Addr() == nil {
		return ""
	}
	return "ws://" + b.srv.Addr().String()
}

// Stop shuts the bridge down. It is safe to call more than once.
func (b *BridgeInstance) Stop() error {
	if b.srv == nil {
		return nil
	}
	srv := b.srv
	b.srv = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-b.serveErr
}

// Logs returns everything the bridge logged so far.
func (b *BridgeInstance) Logs() string {
	return b.logs.String()
}

func (b *BridgeInstance) generateConfigFile() (string, error) {
	// Auto-allocate a port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to allocate port: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	doc := map[string]any{
		"websocket_host":    "127.0.0.1",
		"websocket_port":    port,
		"origin_patterns":   []string{"*"},
		"max_message_bytes": b.MaxMessageBytes,
		"loki_url":          b.LokiURL,
		"loki_timeout":      "5s",
		"loki_tenant_id":    b.TenantID,
		"loki_gzip":         b.UseGzip,
		"default_source":    b.DefaultSource,
		"default_level":     b.DefaultLevel,
		"log_level":         "debug",
		"log_format":        "json",
	}
	if len(b.ExtraLabels) > 0 {
		doc["extra_labels"] = b.ExtraLabels
	}

	yamlBytes, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}

	configFile := filepath.Join(b.t.TempDir(), "lokibridge.yml")
	if err := os.WriteFile(configFile, yamlBytes, 0644); err != nil {
		return "", err
	}
	return configFile, nil
}

// syncBuffer lets the bridge log from many goroutines while tests read.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
