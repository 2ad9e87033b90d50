// Package cmd defines and implements the CLI commands for the trainwatch
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reachrl/trainwatch/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trainwatch",
		Short: "Training-run monitoring service for external RL trainers.",
		Long: `trainwatch tracks reward progress for reinforcement learning training
runs. Trainers report episodes over HTTP (serve mode) or write a monitor CSV
that trainwatch polls (watch mode); either way the service maintains a
windowed mean reward and a non-decreasing best per run.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWatchCmd())
	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
