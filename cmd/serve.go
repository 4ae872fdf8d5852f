package cmd

import (
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/curaious/sandboxctl/internal/telemetry"
	"github.com/curaious/sandboxctl/internal/tools"
)

var (
	serveTransport string
	serveAddr      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sandbox tools over MCP",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := readConfig()
		if err != nil {
			return err
		}

		shutdownTelemetry := telemetry.NewProvider(conf.OTEL_EXPORTER_OTLP_ENDPOINT)
		defer shutdownTelemetry()

		client, err := conf.Client()
		if err != nil {
			return err
		}

		slog.Info("starting sandbox tools",
			slog.String("backend", client.Profile()),
			slog.String("transport", serveTransport),
			slog.Any("runtime_env", conf.RuntimeEnvKeys()),
		)

		s := tools.NewMCPServer(tools.NewService(client), Version)

		switch serveTransport {
		case "stdio":
			return server.ServeStdio(s)
		case "sse":
			slog.Info("listening", slog.String("addr", serveAddr))
			return server.NewSSEServer(s).Start(serveAddr)
		case "http":
			slog.Info("listening", slog.String("addr", serveAddr))
			return server.NewStreamableHTTPServer(s).Start(serveAddr)
		default:
			return fmt.Errorf("unknown transport %q, want stdio, sse or http", serveTransport)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "stdio", "MCP transport: stdio, sse or http")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":9001", "listen address for the sse and http transports")
	rootCmd.AddCommand(serveCmd)
}
