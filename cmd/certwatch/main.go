package main

import (
	"fmt"
	"os"

	"github.com/fleetdm/certwatch/server/config"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"
)

func createRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "certwatch",
		Short: "Certificate expiry monitoring",
		Long: `certwatch inventories the certificates held in keystore archives and in
AWS Certificate Manager, and notifies the ones about to expire.

Configurable by environment variables, command line flags and a YAML
configuration file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a configuration file")

	configManager := config.NewManager(rootCmd)
	rootCmd.AddCommand(createRunCmd(configManager))
	rootCmd.AddCommand(createConfigDumpCmd(configManager))
	return rootCmd
}

func main() {
	if err := createRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// initLogger returns the logger of a run, every line carries the run id.
func initLogger(cfg config.CertwatchConfig, runID string) kitlog.Logger {
	var logger kitlog.Logger
	if cfg.Logging.JSON {
		logger = kitlog.NewJSONLogger(os.Stderr)
	} else {
		logger = kitlog.NewLogfmtLogger(os.Stderr)
	}
	logger = kitlog.NewSyncLogger(logger)

	if cfg.Logging.Debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC, "run_id", runID)
}

func initFatal(err error, message string) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
	os.Exit(1)
}
