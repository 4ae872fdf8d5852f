package cmd

import (
	"log"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/curaious/sandboxctl/internal/config"
	"github.com/curaious/sandboxctl/internal/logging"
)

// Version is stamped at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "sandboxctl",
	Short:         "Manage remote code execution sandboxes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := godotenv.Overload()
		if err != nil {
			slog.Debug("no .env file, skipping")
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalln(err.Error())
	}
}

// readConfig loads the environment and installs the process logger.
func readConfig() (*config.Config, error) {
	conf, err := config.ReadConfig()
	if err != nil {
		logging.Setup("info", "text", nil)
		return nil, err
	}
	logging.Setup(conf.LOG_LEVEL, conf.LOG_FORMAT, nil)
	return conf, nil
}
