package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottbrown/lokibridge/internal/forwarder"
	"github.com/scottbrown/lokibridge/internal/logging"
	"github.com/scottbrown/lokibridge/internal/loki"
	"github.com/scottbrown/lokibridge/internal/normalizer"
)

// fakeForwarder records pushes and answers with a scripted outcome.
type fakeForwarder struct {
	mu       sync.Mutex
	bodies   [][]byte
	statuses []int // consumed in order; the last one repeats
	err      error
	gate     map[string]chan struct{}
}

func (f *fakeForwarder) Push(ctx context.Context, connID string, body []byte) (int, error) {
	f.mu.Lock()
	f.bodies = append(f.bodies, append([]byte(nil), body...))
	var gate chan struct{}
	for marker, ch := range f.gate {
		if strings.Contains(string(body), marker) {
			gate = ch
		}
	}
	status := http.StatusNoContent
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
	}
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return forwarder.NoStatus, ctx.Err()
		}
	}
	if err != nil {
		return forwarder.NoStatus, err
	}
	return status, nil
}

func (f *fakeForwarder) HealthCheck(context.Context) error { return nil }

func (f *fakeForwarder) Bodies() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.bodies...)
}

func startServer(t *testing.T, fwd forwarder.Forwarder, opts ...func(*Config)) (*Server, string) {
	t.Helper()

	cfg := Config{
		ListenAddr:      "127.0.0.1:0",
		MaxMessageBytes: 1 << 20,
		OriginPatterns:  []string{"*"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := New(cfg, normalizer.New(normalizer.Config{}), fwd, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	go func() { _ = srv.Serve() }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return srv, "ws://" + srv.Addr().String()
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) Ack {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))

	var ack Ack
	require.NoError(t, wsjson.Read(ctx, conn, &ack))
	return ack
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, nil, &fakeForwarder{}, logging.Discard())
	assert.Error(t, err)

	_, err = New(Config{}, normalizer.New(normalizer.Config{}), nil, logging.Discard())
	assert.Error(t, err)
}

func TestListen_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv, err := New(Config{ListenAddr: ln.Addr().String()}, normalizer.New(normalizer.Config{}), &fakeForwarder{}, logging.Discard())
	require.NoError(t, err)

	err = srv.Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), ln.Addr().String())
	assert.Nil(t, srv.Addr())
	assert.Error(t, srv.Serve())
}

func TestHandler_PlainTextSuccess(t *testing.T) {
	fwd := &fakeForwarder{}
	_, url := startServer(t, fwd)
	conn := dial(t, url)

	ack := send(t, conn, "hello world")
	assert.Equal(t, AckSuccess, ack.Status)
	_, err := time.Parse(AckTimeFormat, ack.Timestamp)
	assert.NoError(t, err)

	bodies := fwd.Bodies()
	require.Len(t, bodies, 1)

	var req loki.PushRequest
	require.NoError(t, json.Unmarshal(bodies[0], &req))
	require.Len(t, req.Streams, 1)
	assert.Equal(t, "websocket", req.Streams[0].Labels["source"])
	assert.Equal(t, "info", req.Streams[0].Labels["level"])
	require.Len(t, req.Streams[0].Values, 1)
	assert.Equal(t, "hello world", req.Streams[0].Values[0].Line)
}

func TestHandler_PassthroughUnchanged(t *testing.T) {
	fwd := &fakeForwarder{}
	_, url := startServer(t, fwd)
	conn := dial(t, url)

	payload := `{"streams":[{"stream":{"x":"y"},"values":[["1","a"]]}]}`
	ack := send(t, conn, payload)
	assert.Equal(t, AckSuccess, ack.Status)

	bodies := fwd.Bodies()
	require.Len(t, bodies, 1)
	assert.Equal(t, payload, string(bodies[0]))
}

func TestHandler_BinaryMessage(t *testing.T) {
	fwd := &fakeForwarder{}
	_, url := startServer(t, fwd)
	conn := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte(`{"msg":"binary"}`)))

	var ack Ack
	require.NoError(t, wsjson.Read(ctx, conn, &ack))
	assert.Equal(t, AckSuccess, ack.Status)

	var req loki.PushRequest
	require.NoError(t, json.Unmarshal(fwd.Bodies()[0], &req))
	assert.Equal(t, `{"msg":"binary"}`, req.Streams[0].Values[0].Line)
}

func TestHandler_ErrorStatusKeepsConnectionOpen(t *testing.T) {
	fwd := &fakeForwarder{statuses: []int{http.StatusInternalServerError, http.StatusNoContent}}
	_, url := startServer(t, fwd)
	conn := dial(t, url)

	first := send(t, conn, "first")
	assert.Equal(t, AckError, first.Status)

	second := send(t, conn, "second")
	assert.Equal(t, AckSuccess, second.Status)

	assert.Len(t, fwd.Bodies(), 2)
}

func TestHandler_Non204SuccessStatusIsError(t *testing.T) {
	fwd := &fakeForwarder{statuses: []int{http.StatusOK}}
	_, url := startServer(t, fwd)
	conn := dial(t, url)

	assert.Equal(t, AckError, send(t, conn, "hello").Status)
}

func TestHandler_NetworkFailureIsError(t *testing.T) {
	fwd := &fakeForwarder{err: errors.New("connection refused")}
	_, url := startServer(t, fwd)
	conn := dial(t, url)

	assert.Equal(t, AckError, send(t, conn, "hello").Status)
	assert.Equal(t, AckError, send(t, conn, "again").Status)
}

func TestHandler_OneAckPerMessageInOrder(t *testing.T) {
	fwd := &fakeForwarder{}
	_, url := startServer(t, fwd)
	conn := dial(t, url)

	const n = 20
	for i := 0; i < n; i++ {
		ack := send(t, conn, strings.Repeat("x", i+1))
		require.Equal(t, AckSuccess, ack.Status)
	}

	bodies := fwd.Bodies()
	require.Len(t, bodies, n)
	for i, body := range bodies {
		var req loki.PushRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, strings.Repeat("x", i+1), req.Streams[0].Values[0].Line)
	}
}

func TestHandler_ConnectionsAreIndependent(t *testing.T) {
	release := make(chan struct{})
	fwd := &fakeForwarder{gate: map[string]chan struct{}{"slow-producer": release}}
	_, url := startServer(t, fwd)

	slow := dial(t, url)
	fast := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The slow connection's push blocks until released.
	require.NoError(t, slow.Write(ctx, websocket.MessageText, []byte("slow-producer")))

	// Meanwhile the other connection is served normally.
	assert.Equal(t, AckSuccess, send(t, fast, "fast-producer").Status)

	close(release)

	var ack Ack
	require.NoError(t, wsjson.Read(ctx, slow, &ack))
	assert.Equal(t, AckSuccess, ack.Status)
}

func TestHandler_OversizedMessageClosesConnection(t *testing.T) {
	fwd := &fakeForwarder{}
	_, url := startServer(t, fwd, func(c *Config) { c.MaxMessageBytes = 1024 })
	conn := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(strings.Repeat("A", 4096))))

	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusMessageTooBig, websocket.CloseStatus(err))
	assert.Empty(t, fwd.Bodies())
}

func TestHandler_ClientCloseReleasesConnection(t *testing.T) {
	fwd := &fakeForwarder{}
	_, url := startServer(t, fwd)

	conn := dial(t, url)
	assert.Equal(t, AckSuccess, send(t, conn, "before close").Status)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))

	// A fresh connection still works after the first one went away.
	other := dial(t, url)
	assert.Equal(t, AckSuccess, send(t, other, "after close").Status)
}

func TestServeHTTP_RejectsPlainHTTP(t *testing.T) {
	srv, err := New(Config{OriginPatterns: []string{"*"}}, normalizer.New(normalizer.Config{}), &fakeForwarder{}, logging.Discard())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
}

func TestShutdown_ClosesOpenConnections(t *testing.T) {
	fwd := &fakeForwarder{}
	srv, url := startServer(t, fwd)
	conn := dial(t, url)
	assert.Equal(t, AckSuccess, send(t, conn, "hello").Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, _, err := conn.Read(ctx)
	assert.Error(t, err)

	_, _, err = websocket.Dial(ctx, url, nil)
	assert.Error(t, err, "listener should be closed")
}

func TestNewAck(t *testing.T) {
	ts := time.Date(2026, 10, 15, 9, 30, 0, 123456789, time.FixedZone("X", 3600))

	ok := NewAck(true, ts)
	assert.Equal(t, AckSuccess, ok.Status)
	assert.Equal(t, "2026-10-15T08:30:00.123456Z", ok.Timestamp)

	bad := NewAck(false, ts)
	assert.Equal(t, AckError, bad.Status)

	data, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","timestamp":"2026-10-15T08:30:00.123456Z"}`, string(data))
}
