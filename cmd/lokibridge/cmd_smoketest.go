package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/scottbrown/lokibridge/internal/config"
	"github.com/scottbrown/lokibridge/internal/forwarder"
	"github.com/scottbrown/lokibridge/internal/logging"
)

var smokeTestCmd = &cobra.Command{
	Use:   "smoke-test",
	Short: "Test Loki connectivity",
	Long:  "Check that Loki's readiness endpoint answers and exit",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "config: %v\n", err)
			os.Exit(1)
		}

		if err := performSmokeTest(cmd.Context(), cmd.OutOrStdout(), cfg); err != nil {
			os.Exit(1)
		}
	},
}

// performSmokeTest tests connectivity to Loki
func performSmokeTest(ctx context.Context, out io.Writer, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Fprintf(out, "🔍 Testing Loki connectivity...\n")
	fmt.Fprintf(out, "URL: %s\n", forwarder.ReadyURL(cfg.LokiURL))

	fwd := forwarder.New(forwarder.Config{
		URL:           cfg.LokiURL,
		TenantID:      cfg.LokiTenantID,
		UseGzip:       cfg.LokiGzip,
		ClientTimeout: cfg.LokiTimeout,
	}, logging.Discard())

	ctx, cancel := context.WithTimeout(ctx, cfg.LokiTimeout)
	defer cancel()

	if err := fwd.HealthCheck(ctx); err != nil {
		fmt.Fprintf(out, "❌ Error: %v\n", err)
		fmt.Fprintf(out, "Please verify loki_url points at a running Loki instance\n")
		return err
	}

	fmt.Fprintf(out, "✅ Success: Loki is ready\n")
	return nil
}
