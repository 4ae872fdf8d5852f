package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/curaious/sandboxctl/internal/logging"
	"github.com/curaious/sandboxctl/internal/telemetry"
	"github.com/curaious/sandboxctl/pkg/sandbox/daemon"
)

var sandboxDaemonCmd = &cobra.Command{
	Use:   "sandbox-daemon",
	Short: "Start the in-sandbox command daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), nil)

		if os.Getenv("OTEL_SERVICE_NAME") == "" {
			os.Setenv("OTEL_SERVICE_NAME", "sandbox-daemon")
		}
		shutdownTelemetry := telemetry.NewProvider(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
		defer shutdownTelemetry()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return daemon.NewServer(daemon.ConfigFromEnv()).ListenAndServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(sandboxDaemonCmd)
}
