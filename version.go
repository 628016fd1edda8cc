// Package lokibridge implements a WebSocket to Grafana Loki log bridge.
// It accepts log messages from WebSocket producers, normalizes them into Loki
// push payloads, forwards each one to the Loki push API and acknowledges it.
package lokibridge

import (
	"fmt"
)

// AppName is the name of the binary and the root command.
const AppName = "lokibridge"

var (
	version string
	build   string
)

// Version returns the application version and build information.
// The version and build values are injected at compile time via ldflags.
func Version() string {
	return fmt.Sprintf("%s (%s)", version, build)
}
