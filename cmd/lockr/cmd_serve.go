package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hnrobert/lockr/internal/config"
	"github.com/hnrobert/lockr/internal/logger"
	"github.com/hnrobert/lockr/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lockr HTTP API",
		Long: `Run the lockr HTTP API. Settings come from the YAML config file and
LOCKR_* environment variables override them.`,
		Args: cobra.NoArgs,
		// The daemon always logs, so skip the root hook that silences the CLI.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Reset()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.PathFromEnv(), "config file")
	return cmd
}
