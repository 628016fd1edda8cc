package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/scottbrown/lokibridge/internal/logging"
	"github.com/scottbrown/lokibridge/internal/loki"
	"github.com/scottbrown/lokibridge/internal/metrics"
)

// DefaultClientTimeout bounds a single push, including reading the response.
const DefaultClientTimeout = 15 * time.Second

// maxLoggedBody caps how much of an error response body is logged.
const maxLoggedBody = 512

// ErrNotConfigured is returned when no push URL has been set.
var ErrNotConfigured = errors.New("loki push URL not configured")

// Config contains configuration for the Loki forwarder
type Config struct {
	URL           string
	TenantID      string
	UseGzip       bool
	ClientTimeout time.Duration
}

// Loki pushes payloads to a Loki push endpoint. It keeps no per-call state
// and is safe for concurrent use by many connections.
type Loki struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a new Loki forwarder with the given configuration
func New(config Config, logger *slog.Logger) *Loki {
	if config.ClientTimeout <= 0 {
		config.ClientTimeout = DefaultClientTimeout
	}
	return &Loki{
		config: config,
		client: &http.Client{Timeout: config.ClientTimeout},
		logger: logger.With(logging.FieldComponent, "forwarder"),
	}
}

// Push issues a single POST of body. There is no retry: every call stands
// alone and its outcome is reported to the caller.
func (l *Loki) Push(ctx context.Context, connID string, body []byte) (int, error) {
	if l.config.URL == "" {
		return NoStatus, ErrNotConfigured
	}

	start := time.Now()
	status, err := l.send(ctx, connID, body)
	metrics.PushDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.Pushes.WithLabelValues(metrics.ResultNetwork).Inc()
		l.logger.Error("error forwarding to Loki", logging.ConnID(connID), logging.Error(err))
		return NoStatus, err
	case status == http.StatusNoContent:
		metrics.Pushes.WithLabelValues(metrics.ResultSuccess).Inc()
	default:
		metrics.Pushes.WithLabelValues(metrics.ResultStatus).Inc()
	}
	return status, nil
}

func (l *Loki) send(ctx context.Context, connID string, body []byte) (int, error) {
	payload := body
	if l.config.UseGzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return NoStatus, fmt.Errorf("gzip payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return NoStatus, fmt.Errorf("gzip payload: %w", err)
		}
		payload = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.config.URL, bytes.NewReader(payload))
	if err != nil {
		return NoStatus, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", connID)
	if l.config.UseGzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if l.config.TenantID != "" {
		req.Header.Set("X-Scope-OrgID", l.config.TenantID)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return NoStatus, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody+1))
		l.logger.Warn("Loki responded with unexpected status",
			logging.ConnID(connID),
			logging.Status(resp.StatusCode),
			"body", logging.Truncate(respBody, maxLoggedBody))
		return resp.StatusCode, nil
	}

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	l.logger.Debug("successfully sent logs to Loki", logging.ConnID(connID))
	return resp.StatusCode, nil
}

// HealthCheck verifies that Loki answers 200 on its readiness endpoint.
func (l *Loki) HealthCheck(ctx context.Context) error {
	if l.config.URL == "" {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ReadyURL(l.config.URL), nil)
	if err != nil {
		return err
	}
	if l.config.TenantID != "" {
		req.Header.Set("X-Scope-OrgID", l.config.TenantID)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("loki readiness check failed with status: %s", resp.Status)
	}
	return nil
}

// ReadyURL converts a push URL into the matching /ready URL.
func ReadyURL(pushURL string) string {
	if i := strings.Index(pushURL, loki.PushPath); i >= 0 {
		return pushURL[:i] + "/ready"
	}
	if i := strings.Index(pushURL, "/loki/"); i >= 0 {
		return pushURL[:i] + "/ready"
	}
	return strings.TrimSuffix(pushURL, "/") + "/ready"
}
