// Package cmd wires the CLI commands for the pipeline service.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/app"
	"github.com/trendfeed/pipeline/internal/config"
	"github.com/trendfeed/pipeline/internal/logging"
)

var cfgFile string

type appKeyType struct{}

// newApp is the application factory, replaceable in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func appFromContext(ctx context.Context) *app.App {
	a, _ := ctx.Value(appKeyType{}).(*app.App)
	return a
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trendfeed",
		Short: "Tracks trending GitHub repositories and turns them into comics.",
		Long: `trendfeed crawls GitHub for fast-growing repositories, scores their
momentum, dispatches confirmed candidates to the comic generation
service, and notifies newsletter subscribers when results arrive.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a := appFromContext(cmd.Context()); a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults + TRENDFEED_* env)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newIngestCmd())

	return cmd
}

// Execute is the CLI entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
