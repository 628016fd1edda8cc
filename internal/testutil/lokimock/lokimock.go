// Package lokimock provides a mock Grafana Loki push endpoint for integration testing.
package lokimock

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/scottbrown/lokibridge/internal/loki"
)

// ResponseMode defines the type of response the mock server should return.
type ResponseMode int

const (
	// ResponseNoContent returns 204 No Content, Loki's normal push answer
	ResponseNoContent ResponseMode = iota
	// ResponseOK returns 200 OK
	ResponseOK
	// ResponseBadRequest returns 400 Bad Request
	ResponseBadRequest
	// ResponseTooManyRequests returns 429 Too Many Requests
	ResponseTooManyRequests
	// ResponseServerError returns 500 Internal Server Error
	ResponseServerError
	// ResponseServiceUnavailable returns 503 Service Unavailable
	ResponseServiceUnavailable
	// ResponseDrop drops the connection without responding
	ResponseDrop
)

// RecordedRequest represents a single push received by the mock server.
type RecordedRequest struct {
	Timestamp  time.Time
	Headers    http.Header
	Body       []byte
	Compressed bool
}

// TenantID returns the X-Scope-OrgID header of the request.
func (r RecordedRequest) TenantID() string {
	return r.Headers.Get("X-Scope-OrgID")
}

// PushRequest decodes the body as a Loki push payload.
func (r RecordedRequest) PushRequest() (loki.PushRequest, error) {
	var req loki.PushRequest
	err := json.Unmarshal(r.Body, &req)
	return req, err
}

// MockLokiServer simulates a Loki instance.
type MockLokiServer struct {
	// Server is the underlying HTTP test server
	Server *httptest.Server
	// URL is the base URL of the mock server
	URL string

	mu           sync.Mutex
	responseMode ResponseMode
	delay        time.Duration
	notReady     bool
	requests     []RecordedRequest

	logger *slog.Logger
}

// NewMockLokiServer creates a new mock Loki server answering 204 to pushes.
func NewMockLokiServer() *MockLokiServer {
	m := &MockLokiServer{
		responseMode: ResponseNoContent,
		requests:     make([]RecordedRequest, 0),
	}

	m.Server = httptest.NewServer(http.HandlerFunc(m.handler))
	m.URL = m.Server.URL

	return m
}

// NewVerboseMockLokiServer creates a mock server that logs every event to stdout.
func NewVerboseMockLokiServer() *MockLokiServer {
	m := NewMockLokiServer()
	m.logger = slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "lokimock")
	return m
}

// PushURL returns the full push endpoint URL.
func (m *MockLokiServer) PushURL() string {
	return m.URL + loki.PushPath
}

func (m *MockLokiServer) handler(w http.ResponseWriter, r *http.Request) {
	m.logEvent("request_received", "method", r.Method, "path", r.URL.Path)

	if d := m.getDelay(); d > 0 {
		time.Sleep(d)
	}

	if r.URL.Path == "/ready" {
		m.handleReady(w, r)
		return
	}

	mode := m.getResponseMode()

	if mode == ResponseDrop {
		m.logEvent("connection_dropped")
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
				return
			}
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != loki.PushPath {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	var bodyReader io.Reader = r.Body
	compressed := false

	if r.Header.Get("Content-Encoding") == "gzip" {
		compressed = true
		gzReader, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, "Invalid gzip content", http.StatusBadRequest)
			return
		}
		defer gzReader.Close()
		bodyReader = gzReader
	}

	body, err := io.ReadAll(bodyReader)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Timestamp:  time.Now(),
		Headers:    r.Header.Clone(),
		Body:       body,
		Compressed: compressed,
	})
	m.mu.Unlock()

	m.logEvent("request_recorded", "compressed", compressed, "bytes", len(body))

	switch mode {
	case ResponseNoContent:
		w.WriteHeader(http.StatusNoContent)
	case ResponseOK:
		w.WriteHeader(http.StatusOK)
	case ResponseBadRequest:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "error parsing labels")
	case ResponseTooManyRequests:
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "ingestion rate limit exceeded")
	case ResponseServerError:
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "internal server error")
	case ResponseServiceUnavailable:
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "service unavailable")
	}
}

func (m *MockLokiServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.mu.Lock()
	notReady := m.notReady
	m.mu.Unlock()

	if notReady {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "Ingester not ready")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ready")
}

// SetResponse sets the response mode for subsequent pushes.
func (m *MockLokiServer) SetResponse(mode ResponseMode) {
	m.mu.Lock()
	m.responseMode = mode
	m.mu.Unlock()
	m.logEvent("response_mode_changed", "mode", int(mode))
}

// SetDelay sets a delay before responding to requests.
func (m *MockLokiServer) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
	m.logEvent("delay_changed", "delay_ms", d.Milliseconds())
}

// SetReady controls the answer of /ready.
func (m *MockLokiServer) SetReady(ready bool) {
	m.mu.Lock()
	m.notReady = !ready
	m.mu.Unlock()
}

// GetRequests returns all recorded pushes.
func (m *MockLokiServer) GetRequests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]RecordedRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// RequestCount returns the number of pushes received.
func (m *MockLokiServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// WaitForRequests blocks until at least n pushes arrived or timeout elapses.
func (m *MockLokiServer) WaitForRequests(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.RequestCount() >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return m.RequestCount() >= n
}

// Reset clears all recorded requests and restores default behaviour.
func (m *MockLokiServer) Reset() {
	m.mu.Lock()
	m.requests = make([]RecordedRequest, 0)
	m.responseMode = ResponseNoContent
	m.delay = 0
	m.notReady = false
	m.mu.Unlock()
	m.logEvent("reset")
}

// Close shuts down the mock server.
func (m *MockLokiServer) Close() {
	m.logEvent("shutdown")
	m.Server.Close()
}

func (m *MockLokiServer) getResponseMode() ResponseMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.responseMode
}

func (m *MockLokiServer) getDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delay
}

func (m *MockLokiServer) logEvent(event string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Info(event, args...)
}
