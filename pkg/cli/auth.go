package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/consync/consync/pkg/auth"
	"github.com/consync/consync/pkg/config"
	"github.com/consync/consync/pkg/models"
	"github.com/consync/consync/pkg/utils"
)

func newAuthCommand() *cobra.Command {
	var (
		show       bool
		sessionKey string
		orgID      string
		userID     string
		csrfToken  string
	)

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Store or inspect the credential bundle",
		Long: `Store manually supplied credentials for the remote service.
Values not given as flags are prompted for. Secrets are never echoed back;
--show prints a redacted view only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			if show {
				return showCredentials(cmd, a)
			}

			reader := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()
			if sessionKey == "" {
				sessionKey, err = promptValue(reader, out, "Session key")
				if err != nil {
					return err
				}
			}
			if orgID == "" {
				orgID, err = promptValue(reader, out, "Organization id")
				if err != nil {
					return err
				}
			}

			bundle := &models.CredentialBundle{
				SessionKey:     sessionKey,
				OrganizationID: orgID,
				UserID:         userID,
				CSRFToken:      csrfToken,
				ExtractedFrom:  "manual",
			}
			if err := a.authStore.Save(bundle); err != nil {
				return err
			}
			if path, err := config.EnsureDefaultConfig(); err == nil {
				fmt.Fprintf(out, "Config: %s\n", path)
			}
			fmt.Fprintln(out, "Credentials saved.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print a redacted view of the stored credentials")
	cmd.Flags().StringVar(&sessionKey, "session-key", "", "session key cookie value")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&csrfToken, "csrf", "", "CSRF token")
	return cmd
}

func promptValue(reader *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprintf(out, "%s: ", label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", fmt.Errorf("%s must not be empty", strings.ToLower(label))
	}
	return value, nil
}

func showCredentials(cmd *cobra.Command, a *app) error {
	bundle, err := a.authStore.Load()
	if err != nil {
		if errors.Is(err, auth.ErrCredentialMissing) {
			fmt.Fprintln(cmd.OutOrStdout(), `No credentials stored. Run "consync auth" to add them.`)
			return nil
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session key:     %s\n", utils.RedactSecret(bundle.SessionKey))
	fmt.Fprintf(out, "Organization id: %s\n", bundle.OrganizationID)
	if bundle.UserID != "" {
		fmt.Fprintf(out, "User id:         %s\n", bundle.UserID)
	}
	if bundle.CSRFToken != "" {
		fmt.Fprintf(out, "CSRF token:      %s\n", utils.RedactSecret(bundle.CSRFToken))
	}
	fmt.Fprintf(out, "Source:          %s\n", bundle.ExtractedFrom)
	if !bundle.ExtractedAt.IsZero() {
		fmt.Fprintf(out, "Stored at:       %s\n", bundle.ExtractedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}
