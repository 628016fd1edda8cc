package server

import "time"

// Ack statuses
const (
	AckSuccess = "success"
	AckError   = "error"
)

// AckTimeFormat is ISO-8601 with microsecond precision, always rendered in UTC.
const AckTimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Ack is written back to the producer once per received message.
type Ack struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewAck builds an acknowledgment stamped with t.
func NewAck(ok bool, t time.Time) Ack {
	status := AckError
	if ok {
		status = AckSuccess
	}
	return Ack{
		Status:    status,
		Timestamp: t.UTC().Format(AckTimeFormat),
	}
}
