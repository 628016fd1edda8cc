package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scottbrown/lokibridge/internal/logging"
)

func TestNew(t *testing.T) {
	srv, err := New(":0", nil, logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv == nil {
		t.Fatal("New() returned nil server")
	}
	if srv.addr != ":0" {
		t.Errorf("New() addr = %v, want :0", srv.addr)
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New("", nil, logging.Discard()); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := New(":0", nil, logging.Discard())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body status
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("expected status ok, got %q", body.Status)
	}
}

func TestHealthz_MethodNotAllowed(t *testing.T) {
	srv, _ := New(":0", nil, logging.Discard())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		ready      ReadyFunc
		wantCode   int
		wantStatus string
	}{
		{"no check", nil, http.StatusOK, "ready"},
		{"dependency up", func(context.Context) error { return nil }, http.StatusOK, "ready"},
		{"dependency down", func(context.Context) error { return errors.New("loki unreachable") }, http.StatusServiceUnavailable, "not ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := New(":0", tt.ready, logging.Discard())

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var body status
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, body.Status)
			}
		})
	}
}

func TestReadyz_RespectsTimeout(t *testing.T) {
	srv, _ := New(":0", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, logging.Discard())
	srv.readyTimeout = 50 * time.Millisecond

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestServerStartStop(t *testing.T) {
	srv, err := New("127.0.0.1:0", nil, logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if srv.Addr() == nil {
		t.Fatal("Start() did not bind")
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, err := net.DialTimeout("tcp", srv.Addr().String(), 500*time.Millisecond); err == nil {
		t.Error("expected listener to be closed after Stop")
	}
}

func TestServerStartBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	srv, _ := New(ln.Addr().String(), nil, logging.Discard())
	if err := srv.Start(); err == nil {
		t.Fatal("expected bind failure")
	}
}

func TestServerStopWithoutStart(t *testing.T) {
	srv, _ := New(":0", nil, logging.Discard())
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop() without Start() error = %v", err)
	}
}
