// Package forwarder pushes normalized log payloads to the Loki push API.
package forwarder

import (
	"context"
)

// NoStatus is returned by Push when no HTTP response was received at all.
const NoStatus = 0

// Forwarder defines the interface for pushing one payload to Loki.
type Forwarder interface {
	// Push sends a JSON push request body to the configured endpoint.
	// The connID parameter is used for logging and correlation.
	// It returns the observed HTTP status; a non-204 status is not an error.
	// On network failure it returns NoStatus and the error.
	Push(ctx context.Context, connID string, body []byte) (int, error)

	// HealthCheck verifies that the Loki endpoint reports ready.
	HealthCheck(ctx context.Context) error
}
