// Package normalizer shapes arbitrary producer messages into Loki push payloads.
package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/scottbrown/lokibridge/internal/loki"
)

const (
	// DefaultSource is the value of the source label on wrapped messages.
	DefaultSource = "websocket"
	// DefaultLevel is the value of the level label on wrapped messages.
	DefaultLevel = "info"

	// LabelSource and LabelLevel are always present on wrapped messages.
	LabelSource = "source"
	LabelLevel  = "level"
)

// Kind records which branch of the normalization policy a message took.
type Kind int

const (
	// KindPassthrough is a JSON object that already carries a streams key.
	KindPassthrough Kind = iota
	// KindDocument is valid JSON of any other shape, re-encoded as a line.
	KindDocument
	// KindText is anything that is not valid JSON, wrapped verbatim.
	KindText
)

// String returns the metric label for the kind.
func (k Kind) String() string {
	switch k {
	case KindPassthrough:
		return "passthrough"
	case KindDocument:
		return "document"
	case KindText:
		return "text"
	}
	return "unknown"
}

// Config controls the labels attached to wrapped messages.
type Config struct {
	Source      string
	Level       string
	ExtraLabels map[string]string
}

// Result is a normalized message ready to be pushed.
type Result struct {
	Body []byte
	Kind Kind
}

// Normalizer turns raw messages into push request bodies.
// It holds no per-message state and is safe for concurrent use.
type Normalizer struct {
	labels map[string]string
	now    func() time.Time
}

// New creates a Normalizer. Empty Source or Level fall back to the defaults.
func New(cfg Config) *Normalizer {
	labels := make(map[string]string, len(cfg.ExtraLabels)+2)
	maps.Copy(labels, cfg.ExtraLabels)

	labels[LabelSource] = cfg.Source
	if labels[LabelSource] == "" {
		labels[LabelSource] = DefaultSource
	}
	labels[LabelLevel] = cfg.Level
	if labels[LabelLevel] == "" {
		labels[LabelLevel] = DefaultLevel
	}

	return &Normalizer{
		labels: labels,
		now:    time.Now,
	}
}

// WithClock replaces the wall clock used to timestamp wrapped messages.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Labels returns a copy of the label set used for wrapped messages.
func (n *Normalizer) Labels() map[string]string {
	return maps.Clone(n.labels)
}

// Normalize applies the policy in priority order: a JSON object with a
// streams key is passed through byte for byte, any other JSON document is
// compacted and wrapped as one line, and everything else is wrapped as raw
// text.
func (n *Normalizer) Normalize(msg []byte) (Result, error) {
	if !json.Valid(msg) {
		return n.wrap(string(msg), KindText)
	}

	if hasStreams(msg) {
		return Result{Body: msg, Kind: KindPassthrough}, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, msg); err != nil {
		return Result{}, fmt.Errorf("compact document: %w", err)
	}
	return n.wrap(buf.String(), KindDocument)
}

func (n *Normalizer) wrap(line string, kind Kind) (Result, error) {
	req := loki.NewPushRequest(maps.Clone(n.labels), n.now(), line)

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode push request: %w", err)
	}
	return Result{Body: body, Kind: kind}, nil
}

// hasStreams reports whether msg is a JSON object with a top-level streams key.
func hasStreams(msg []byte) bool {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(msg, &doc); err != nil {
		return false
	}
	_, ok := doc[loki.StreamsKey]
	return ok
}
