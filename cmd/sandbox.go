package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/curaious/sandboxctl/internal/perrors"
	"github.com/curaious/sandboxctl/internal/telemetry"
	"github.com/curaious/sandboxctl/internal/tools"
	"github.com/curaious/sandboxctl/pkg/sandbox"
)

var (
	flagIdentity  string
	flagNamespace string
	flagImage     string
	flagPort      int
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Run a single sandbox operation and print the result as JSON",
}

var sandboxCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a sandbox and wait for it to become ready",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSandbox(cmd, func(ctx context.Context, svc *tools.Service) (any, error) {
			return svc.Create(ctx, sandbox.Spec{
				Name:      args[0],
				Image:     flagImage,
				Port:      flagPort,
				Identity:  flagIdentity,
				Namespace: flagNamespace,
			})
		})
	},
}

var sandboxStatusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show the state of a sandbox",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSandbox(cmd, func(ctx context.Context, svc *tools.Service) (any, error) {
			return svc.Status(ctx, flagTarget(args[0]))
		})
	},
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sandboxes",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runSandbox(cmd, func(ctx context.Context, svc *tools.Service) (any, error) {
			return svc.List(ctx, sandbox.Scope{Identity: flagIdentity, Namespace: flagNamespace})
		})
	},
}

var sandboxDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a sandbox",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSandbox(cmd, func(ctx context.Context, svc *tools.Service) (any, error) {
			return svc.Delete(ctx, flagTarget(args[0]))
		})
	},
}

var sandboxPauseCmd = &cobra.Command{
	Use:   "pause NAME",
	Short: "Pause a sandbox",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSandbox(cmd, func(ctx context.Context, svc *tools.Service) (any, error) {
			return svc.Pause(ctx, flagTarget(args[0]))
		})
	},
}

var sandboxResumeCmd = &cobra.Command{
	Use:   "resume NAME",
	Short: "Resume a paused sandbox",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSandbox(cmd, func(ctx context.Context, svc *tools.Service) (any, error) {
			return svc.Resume(ctx, flagTarget(args[0]))
		})
	},
}

var sandboxExecCmd = &cobra.Command{
	Use:   "exec NAME -- COMMAND...",
	Short: "Run a shell command in a sandbox",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runSandbox(cmd, func(ctx context.Context, svc *tools.Service) (any, error) {
			return svc.Exec(ctx, flagTarget(args[0]), strings.Join(args[1:], " "))
		})
	},
}

func flagTarget(name string) sandbox.Target {
	return sandbox.Target{Name: name, Identity: flagIdentity, Namespace: flagNamespace}
}

// runSandbox prints the response document on stdout. Failures print the
// failure document and exit with the code's status.
func runSandbox(cmd *cobra.Command, call func(context.Context, *tools.Service) (any, error)) {
	if code := execSandbox(cmd.Context(), cmd.OutOrStdout(), call); code != 0 {
		os.Exit(code)
	}
}

// execSandbox runs one operation and writes its document to out. An interrupt
// cancels the call, which then reports a cancelled failure.
func execSandbox(parent context.Context, out io.Writer, call func(context.Context, *tools.Service) (any, error)) int {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	doc, err := func() (any, error) {
		conf, err := readConfig()
		if err != nil {
			return nil, err
		}

		shutdownTelemetry := telemetry.NewProvider(conf.OTEL_EXPORTER_OTLP_ENDPOINT)
		defer shutdownTelemetry()

		client, err := conf.Client()
		if err != nil {
			return nil, err
		}
		return call(ctx, tools.NewService(client))
	}()

	if err != nil {
		fmt.Fprintln(out, tools.Encode(tools.Failure(context.WithoutCancel(ctx), err)))
		return perrors.ExitCode(err)
	}
	fmt.Fprintln(out, tools.Encode(doc))
	return 0
}

func init() {
	sandboxCmd.PersistentFlags().StringVar(&flagIdentity, "identity", "", "owning identity (defaults to SANDBOX_IDENTITY)")
	sandboxCmd.PersistentFlags().StringVar(&flagNamespace, "namespace", "", "namespace (defaults to SANDBOX_NAMESPACE)")
	sandboxCreateCmd.Flags().StringVar(&flagImage, "image", "", "container image (defaults to SANDBOX_DEFAULT_IMAGE)")
	sandboxCreateCmd.Flags().IntVar(&flagPort, "port", 0, "sandbox port (defaults to SANDBOX_DEFAULT_PORT)")

	sandboxCmd.AddCommand(
		sandboxCreateCmd,
		sandboxStatusCmd,
		sandboxListCmd,
		sandboxDeleteCmd,
		sandboxPauseCmd,
		sandboxResumeCmd,
		sandboxExecCmd,
	)
	rootCmd.AddCommand(sandboxCmd)
}
