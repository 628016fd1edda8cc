package main

import "github.com/scottbrown/lokibridge/internal/config"

func init() {
	// Add subcommands
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(smokeTestCmd)
	rootCmd.AddCommand(sendCmd)

	// Configuration file is optional; environment variables cover the container deployment.
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "", "Path to configuration file")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&host, "host", config.DefaultHost, "WebSocket listen host (WEBSOCKET_HOST)")
	flags.IntVar(&port, "port", config.DefaultPort, "WebSocket listen port (WEBSOCKET_PORT)")
	flags.StringVar(&lokiURL, "loki-url", config.DefaultLokiURL, "Loki push endpoint (LOKI_URL)")
	flags.DurationVar(&lokiTimeout, "loki-timeout", config.DefaultLokiTimeout, "Timeout for a single push (LOKI_TIMEOUT)")
	flags.StringVar(&lokiTenantID, "loki-tenant-id", "", "X-Scope-OrgID sent to Loki (LOKI_TENANT_ID)")
	flags.BoolVar(&lokiGzip, "loki-gzip", false, "Gzip push bodies (LOKI_GZIP)")
	flags.Int64Var(&maxMessageBytes, "max-message-bytes", config.DefaultMaxMessageBytes, "Largest accepted message (MAX_MESSAGE_BYTES)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error (LOG_LEVEL)")
	flags.StringVar(&logFormat, "log-format", "json", "Log format: json or text (LOG_FORMAT)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics address, empty disables (METRICS_ADDR)")
}
