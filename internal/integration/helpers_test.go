//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/scottbrown/lokibridge/internal/loki"
	"github.com/scottbrown/lokibridge/internal/testutil/bridgetest"
	"github.com/scottbrown/lokibridge/internal/testutil/lokimock"
	"github.com/scottbrown/lokibridge/internal/testutil/wsclient"
)

// setup starts a mock Loki, a bridge pointed at it and a connected producer.
func setup(t *testing.T, opts ...bridgetest.Option) (*lokimock.MockLokiServer, *bridgetest.BridgeInstance, *wsclient.MockProducer) {
	t.Helper()

	lokiSrv := lokimock.NewMockLokiServer()
	t.Cleanup(lokiSrv.Close)

	bridge := bridgetest.NewBridgeInstance(t, lokiSrv.PushURL(), opts...)
	bridge.MustStart()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	producer := wsclient.New(bridge.URL(), wsclient.WithVerbose(testing.Verbose()))
	if err := producer.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect producer: %v", err)
	}
	t.Cleanup(func() { _ = producer.Close() })

	return lokiSrv, bridge, producer
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func decodePush(t *testing.T, req lokimock.RecordedRequest) loki.PushRequest {
	t.Helper()
	push, err := req.PushRequest()
	if err != nil {
		t.Fatalf("Failed to decode push body %q: %v", req.Body, err)
	}
	return push
}

// singleLine asserts the push wraps exactly one line and returns it.
func singleLine(t *testing.T, push loki.PushRequest) (map[string]string, loki.Entry) {
	t.Helper()
	if len(push.Streams) != 1 {
		t.Fatalf("Expected 1 stream, got %d", len(push.Streams))
	}
	if len(push.Streams[0].Values) != 1 {
		t.Fatalf("Expected 1 value, got %d", len(push.Streams[0].Values))
	}
	return push.Streams[0].Labels, push.Streams[0].Values[0]
}

// newProducer connects an extra producer to the bridge.
func newProducer(t *testing.T, url string) *wsclient.MockProducer {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	producer := wsclient.New(url)
	if err := producer.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect producer: %v", err)
	}
	t.Cleanup(func() { _ = producer.Close() })
	return producer
}
