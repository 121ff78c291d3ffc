package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/server"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var seeds []string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs the frontier and its fetch workers",
		Long: `Recovers any queued items from storage, admits the configured and
command-line seeds, and crawls until interrupted. The stats API listens on
server.port unless server.enabled is false.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			logger := appInstance.Logger()

			svc, err := server.Build(cmd.Context(), cfg, appInstance.Storage(), nil, logger)
			if err != nil {
				return fmt.Errorf("build crawl service: %w", err)
			}
			all := append(append([]string{}, cfg.Crawler.Seeds...), seeds...)
			if err := svc.Run(cmd.Context(), all); err != nil {
				return fmt.Errorf("run crawler: %w", err)
			}
			logger.Info("crawl command finished", zap.Int("seeds", len(all)))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&seeds, "seed", nil, "seed URL to admit at depth 0 (repeatable)")
	return cmd
}
