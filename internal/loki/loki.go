// Package loki defines the JSON wire shape of the Grafana Loki push API.
//
//	{
//	  "streams": [
//	    {
//	      "stream": {"source": "websocket", "level": "info"},
//	      "values": [["<unix_ns>", "<line>"]]
//	    }
//	  ]
//	}
package loki

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PushPath is the conventional path of the Loki push endpoint.
const PushPath = "/loki/api/v1/push"

// StreamsKey is the top-level key that marks a document as a push payload.
const StreamsKey = "streams"

// PushRequest is the body of a POST to the push endpoint.
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a label set and the ordered log lines stored under it.
type Stream struct {
	Labels map[string]string `json:"stream"`
	Values []Entry           `json:"values"`
}

// Entry is one timestamped log line. On the wire it is a two element
// array of the nanosecond timestamp as a decimal string and the line.
type Entry struct {
	Timestamp time.Time
	Line      string
}

// MarshalJSON encodes the entry as ["<unix_ns>", "<line>"].
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{strconv.FormatInt(e.Timestamp.UnixNano(), 10), e.Line})
}

// UnmarshalJSON decodes ["<unix_ns>", "<line>"]. A trailing structured
// metadata element, which Loki accepts, is ignored.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("loki entry must have timestamp and line, got %d elements", len(raw))
	}

	var ts, line string
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return fmt.Errorf("loki entry timestamp: %w", err)
	}
	if err := json.Unmarshal(raw[1], &line); err != nil {
		return fmt.Errorf("loki entry line: %w", err)
	}

	ns, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("loki entry timestamp %q: %w", ts, err)
	}

	e.Timestamp = time.Unix(0, ns)
	e.Line = line
	return nil
}

// NewPushRequest builds a payload holding a single stream with a single line.
func NewPushRequest(labels map[string]string, ts time.Time, line string) PushRequest {
	return PushRequest{
		Streams: []Stream{
			{
				Labels: labels,
				Values: []Entry{{Timestamp: ts, Line: line}},
			},
		},
	}
}
