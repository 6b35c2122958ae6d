package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sigetidwh/internal/config"
	"sigetidwh/internal/logger"
	"sigetidwh/pkg/models"
)

var (
	cfgFile string
	cfg     *models.Config

	// exitCode is set by commands that must fail the process without
	// bypassing deferred cleanup; Execute exits with it last.
	exitCode int

	rootCmd = &cobra.Command{
		Use:   "sigetidwh",
		Short: "Refresh and serve the SIGETI analytics warehouse",
		Long: "sigetidwh rebuilds the dimensional warehouse of the SIGETI industrial-zone\n" +
			"platform (dimensions, facts, marts) from the operational Postgres database\n" +
			"and answers aggregation queries over the resulting marts.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = loaded
			return logger.Initialize(cfg.LogLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}
)

// Execute runs the CLI. Interrupts cancel the context; in-flight SQL
// statements run to completion before the process exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (environment wins)")
}
