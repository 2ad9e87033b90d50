package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reachrl/trainwatch/internal/app"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API that
// trainers report episodes and heartbeats to.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the trainwatch HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return a.Run(ctx)
		},
	}
}
