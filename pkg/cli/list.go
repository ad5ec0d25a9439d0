package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/consync/consync/pkg/models"
)

func newListCommand() *cobra.Command {
	var (
		find           string
		downloadedOnly bool
		asJSON         bool
		limit          int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List locally known conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			var conversations []models.Conversation
			if find != "" {
				conversations, err = a.store.Find(find)
			} else {
				var index *models.SyncIndex
				index, err = a.store.LoadIndex()
				if err == nil {
					conversations = index.Conversations
				}
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(conversations) == 0 {
				if find != "" {
					fmt.Fprintf(out, "No conversations matching %q\n", find)
				} else {
					fmt.Fprintln(out, `No conversations found. Run "consync sync" to fetch them.`)
				}
				return nil
			}

			if downloadedOnly {
				kept := conversations[:0]
				for _, conv := range conversations {
					if conv.IsDownloaded {
						kept = append(kept, conv)
					}
				}
				conversations = kept
			}

			sort.Slice(conversations, func(i, j int) bool {
				return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
			})
			if limit > 0 && len(conversations) > limit {
				conversations = conversations[:limit]
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(conversations)
			}

			printConversationTable(cmd, conversations)
			return nil
		},
	}

	cmd.Flags().StringVar(&find, "find", "", "search by title or id, case-insensitive")
	cmd.Flags().BoolVar(&downloadedOnly, "downloaded", false, "show only downloaded conversations")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum conversations to show, 0 for all")
	return cmd
}

func printConversationTable(cmd *cobra.Command, conversations []models.Conversation) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-14s %-42s %-12s %8s  %s\n", "ID", "TITLE", "UPDATED", "MESSAGES", "STATUS")

	downloaded := 0
	for _, conv := range conversations {
		status := "placeholder"
		if conv.IsDownloaded {
			status = "downloaded"
			downloaded++
		}
		fmt.Fprintf(out, "%-14s %-42s %-12s %8d  %s\n",
			truncate(conv.ID, 12), truncate(conv.Title, 40),
			conv.UpdatedAt.Local().Format("2006-01-02"), conv.MessageCount, status)
	}

	fmt.Fprintf(out, "\n%d total, %d downloaded, %d placeholders\n",
		len(conversations), downloaded, len(conversations)-downloaded)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
