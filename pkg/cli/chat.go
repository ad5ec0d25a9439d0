package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/consync/consync/pkg/models"
	"github.com/consync/consync/pkg/store"
	"github.com/consync/consync/pkg/syncer"
	"github.com/consync/consync/pkg/transport"
)

func newChatCommand() *cobra.Command {
	var (
		forceNew bool
		title    string
		message  string
	)

	cmd := &cobra.Command{
		Use:   "chat [conversation-id]",
		Short: "Send messages to a conversation, streaming the reply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			engine, _, err := a.engine()
			if err != nil {
				return err
			}

			conversationID := ""
			if len(args) == 1 && !forceNew {
				conversationID = args[0]
				if err := showHistory(cmd, a, conversationID); err != nil {
					return err
				}
			}

			if message != "" {
				_, err := exchange(cmd, engine, conversationID, title, message)
				return err
			}
			return chatLoop(cmd, engine, conversationID, title)
		},
	}

	cmd.Flags().BoolVar(&forceNew, "new", false, "start a new conversation even when an id is given")
	cmd.Flags().StringVar(&title, "title", "", "title for a new conversation")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send a single message and exit")
	return cmd
}

// showHistory replays the stored transcript so the user sees where the
// conversation left off. An id not stored locally is not an error; the
// exchange may still reach it remotely.
func showHistory(cmd *cobra.Command, a *app, conversationID string) error {
	record, err := a.store.LoadFullConversation(conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFoundLocally) {
			fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s not stored locally\n", conversationID)
			return nil
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n\n", record.Title)
	for _, msg := range record.Messages {
		prefix := "Assistant"
		if msg.Role == models.RoleHuman {
			prefix = "You"
		}
		fmt.Fprintf(out, "%s: %s\n\n", prefix, msg.Content)
	}
	return nil
}

// exchange sends one prompt and streams the reply to stdout as it arrives.
// The callback delivers cumulative text, so only the unseen suffix is
// printed. Returns the conversation id in use.
func exchange(cmd *cobra.Command, engine *syncer.Engine, conversationID, title, prompt string) (string, error) {
	out := cmd.OutOrStdout()
	printed := 0
	id, reply, err := engine.SendMessage(cmd.Context(), conversationID, prompt, title, func(cumulative string) {
		if len(cumulative) > printed {
			fmt.Fprint(out, cumulative[printed:])
			printed = len(cumulative)
		}
	})
	if err != nil {
		if errors.Is(err, transport.ErrTransportUnavailable) && id != "" {
			fmt.Fprintf(out, "Message saved locally to %s; delivery failed: %v\n", id, err)
			return id, nil
		}
		return id, err
	}
	if len(reply) > printed {
		fmt.Fprint(out, reply[printed:])
	}
	fmt.Fprintln(out)
	return id, nil
}

func chatLoop(cmd *cobra.Command, engine *syncer.Engine, conversationID, title string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, `Type "exit" to quit.`)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if strings.EqualFold(prompt, "exit") {
			break
		}

		id, err := exchange(cmd, engine, conversationID, title, prompt)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		conversationID = id
	}
	return scanner.Err()
}
