package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/consync/consync/pkg/syncer"
)

func newSyncCommand() *cobra.Command {
	var (
		force          bool
		noPlaceholders bool
		conversationID string
		download       bool
		downloadAll    bool
		limit          int
		statsOnly      bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync conversation metadata from the remote service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			engine, _, err := a.engine()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if statsOnly {
				return printStats(cmd, engine)
			}

			if conversationID != "" {
				if err := engine.SyncSingle(ctx, conversationID); err != nil {
					return err
				}
				if download {
					if err := engine.Download(ctx, conversationID); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s synced\n", conversationID)
				return nil
			}

			result, err := engine.Sync(ctx, syncer.Options{
				Force:              force,
				CreatePlaceholders: !noPlaceholders,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Sync completed: %d total, %d new, %d updated\n",
				result.Total, result.NewCount, result.UpdatedCount)
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  error: %s\n", e)
			}

			if downloadAll {
				return downloadEverything(cmd, engine, a, limit)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "update every record regardless of timestamps")
	cmd.Flags().BoolVar(&noPlaceholders, "no-placeholders", false, "skip placeholder files for new conversations")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "sync a single conversation by id")
	cmd.Flags().BoolVar(&download, "download", false, "also download full content (with --conversation)")
	cmd.Flags().BoolVar(&downloadAll, "download-all", false, "download full content for all conversations")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum conversations to download with --download-all")
	cmd.Flags().BoolVar(&statsOnly, "stats", false, "show statistics without syncing")
	return cmd
}

// downloadEverything fetches full content for up to limit conversations.
// Per-conversation failures are reported and do not abort the rest.
func downloadEverything(cmd *cobra.Command, engine *syncer.Engine, a *app, limit int) error {
	index, err := a.store.LoadIndex()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	toFetch := index.Conversations
	if limit > 0 && len(toFetch) > limit {
		toFetch = toFetch[:limit]
	}

	downloaded, failed := 0, 0
	for i, conv := range toFetch {
		fmt.Fprintf(out, "[%d/%d] Downloading %s\n", i+1, len(toFetch), conv.Title)
		if err := engine.Download(cmd.Context(), conv.ID); err != nil {
			fmt.Fprintf(out, "  failed %s: %v\n", conv.ID, err)
			failed++
			continue
		}
		downloaded++
	}

	fmt.Fprintf(out, "Download complete: %d succeeded, %d failed\n", downloaded, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(toFetch))
	}
	return nil
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show connection state and local store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			engine, _, err := a.engine()
			if err != nil {
				return err
			}
			return printStats(cmd, engine)
		},
	}
}

func printStats(cmd *cobra.Command, engine *syncer.Engine) error {
	stats, err := engine.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	connection := "failed"
	if stats.APIConnected {
		connection = "connected"
	}
	lastSync := "never"
	if !stats.Local.LastSync.IsZero() {
		lastSync = stats.Local.LastSync.Local().Format("2006-01-02 15:04:05")
	}

	fmt.Fprintf(out, "API connection:  %s\n", connection)
	fmt.Fprintf(out, "Conversations:   %d total, %d downloaded, %d placeholders\n",
		stats.Local.Total, stats.Local.DownloadedCount, stats.Local.Total-stats.Local.DownloadedCount)
	fmt.Fprintf(out, "Last sync:       %s\n", lastSync)

	if !stats.APIConnected {
		fmt.Fprintln(out, `API connection failed. Run "consync auth" to refresh credentials.`)
	}
	if stats.Local.Total == 0 {
		fmt.Fprintln(out, `No conversations stored locally. Run "consync sync" to fetch them.`)
	}
	return nil
}
