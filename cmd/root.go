// Package cmd defines and implements the CLI commands for the crawlfrontier
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/app"
	"github.com/JakeFAU/crawlfrontier/internal/config"
	"github.com/JakeFAU/crawlfrontier/internal/storage"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use. Tests inject a fake through
// newApp.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Storage() storage.Provider
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	return app.New(ctx, cfgPath)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "crawlfrontier",
		Short: "A polite, durable crawl frontier.",
		Long: `crawlfrontier maintains a prioritized, deduplicated queue of URLs and
releases them to a pool of fetch workers while honoring robots.txt and a
per-host cooldown. The frontier survives restarts when backed by sqlite or
postgres storage.`,
		SilenceUsage: true,

		// Runs before every subcommand's RunE: load config, build the
		// logger and open storage.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); env vars use the CRAWLER_ prefix")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newCheckpointCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}
