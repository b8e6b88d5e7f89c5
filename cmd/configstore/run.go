package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"lunchbadger/configstore/pkg/config"
	"lunchbadger/configstore/pkg/server"
	"lunchbadger/configstore/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	rootPath      string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the configstore server",
	Long: `Start the configstore server with the specified configuration.

Examples:
  # Start with default config
  configstore run

  # Start with custom config
  configstore run --config /etc/configstore/config.yaml

  # Override the repository root
  configstore run --root /var/lib/configstore

  # Validate config without starting
  configstore run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.rootPath, "root", "", "override repository root directory")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.rootPath != "" {
		cfg.Store.RootPath = runFlags.rootPath
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.Setup(cfg.Telemetry.Logging)
	if err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Println("configuration OK")
		return nil
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}
	return srv.Start(context.Background())
}
