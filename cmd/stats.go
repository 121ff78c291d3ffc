package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

// newStatsCmd creates the 'stats' subcommand. It reads storage directly
// and needs no running crawl.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Prints seen and queued counts from storage as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			provider := appInstance.Storage()
			seen, err := provider.Seen().Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("count seen: %w", err)
			}
			items, err := provider.Queue().Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load queue: %w", err)
			}
			stats := crawler.Stats{Seen: seen, Queued: len(items), PendingHosts: pendingHosts(items)}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(stats); err != nil {
				return fmt.Errorf("encode stats: %w", err)
			}
			return nil
		},
	}
}

func pendingHosts(items []crawler.WorkItem) []string {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item.Host] = struct{}{}
	}
	hosts := make([]string, 0, len(set))
	for host := range set {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
