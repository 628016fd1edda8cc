// Package logging builds the process logger and holds shared field names.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Field names shared by every component so log lines can be correlated.
const (
	FieldConnID     = "conn_id"
	FieldRemoteAddr = "remote_addr"
	FieldStatus     = "status"
	FieldError      = "error"
	FieldLokiURL    = "loki_url"
	FieldKind       = "kind"
	FieldBytes      = "bytes"
	FieldComponent  = "component"
)

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q", name)
}

// New returns a logger writing to w in the given format ("json" or "text").
// Timestamps are always emitted in UTC.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.TimeValue(t.UTC())
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json", "":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	return slog.New(handler), nil
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ConnID returns a slog attribute for a connection ID.
func ConnID(id string) slog.Attr {
	return slog.String(FieldConnID, id)
}

// RemoteAddr returns a slog attribute for a peer address.
func RemoteAddr(addr string) slog.Attr {
	return slog.String(FieldRemoteAddr, addr)
}

// Status returns a slog attribute for an HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Truncate shortens data to maxLen bytes, adding an ellipsis when cut.
func Truncate(data []byte, maxLen int) string {
	s := string(data)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "…"
}
