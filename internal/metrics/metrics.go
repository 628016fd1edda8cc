// Package metrics exposes Prometheus metrics for the bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lokibridge_connections_accepted_total",
			Help: "Total number of WebSocket connections accepted",
		},
	)

	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lokibridge_connections_active",
			Help: "Number of currently open WebSocket connections",
		},
	)

	// Message metrics, labelled by normalization kind
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokibridge_messages_received_total",
			Help: "Total number of producer messages received",
		},
		[]string{"kind"},
	)

	BytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lokibridge_message_bytes_total",
			Help: "Total bytes of producer messages received",
		},
	)

	// Loki push metrics
	Pushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokibridge_loki_pushes_total",
			Help: "Total number of pushes to Loki by result",
		},
		[]string{"result"},
	)

	PushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lokibridge_loki_push_duration_seconds",
			Help:    "Duration of pushes to Loki in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Acknowledgment metrics
	Acks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokibridge_acks_total",
			Help: "Total number of acknowledgments sent by status",
		},
		[]string{"status"},
	)

	// System metrics
	StartTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lokibridge_start_time_seconds",
			Help: "Unix time the process started",
		},
	)

	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lokibridge_build_info",
			Help: "Build information, always 1",
		},
		[]string{"version"},
	)
)

// Push results
const (
	ResultSuccess = "success"
	ResultStatus  = "unexpected_status"
	ResultNetwork = "network_error"
)

// Init initialises system metrics that should be set once at startup.
func Init(versionString string) {
	StartTime.Set(float64(time.Now().Unix()))
	BuildInfo.WithLabelValues(versionString).Set(1)
}
