package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tradiehub/internal/config"
	"tradiehub/internal/logger"
)

const AppName = "tradiehub"

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Tradiehub chat sync engine and job workflow",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().Bool("memory", false, "keep every store in process (development)")

	cmd.AddCommand(
		NewServeCmd(),
		NewWorkerCmd(),
		NewMigrateCmd(),
		NewReconcileCmd(),
		NewLegacyLookupCmd(),
		NewIssueTokenCmd(),
	)
	return cmd
}

// loadConfig reads the environment and initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	memory, _ := cmd.Flags().GetBool("memory")
	cfg, err := config.Load(memory)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel)
	return cfg, nil
}

// setup loads the config and wires the application.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		stop()
		os.Exit(1)
	}
}
