// Command line surface for the sync client.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/consync/consync/pkg/auth"
	"github.com/consync/consync/pkg/config"
	"github.com/consync/consync/pkg/models"
	"github.com/consync/consync/pkg/store"
	"github.com/consync/consync/pkg/syncer"
	"github.com/consync/consync/pkg/transport"
	"github.com/consync/consync/pkg/utils"
)

const version = "1.0.0"

// app carries the shared wiring each command needs. Config and stores are
// built once per invocation; the engine only when a command talks to remote.
type app struct {
	cfg       *config.AppConfig
	store     *store.Store
	authStore *auth.Store
}

func newApp() (*app, error) {
	cfg, path, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	dataDir := cfg.DataDir()
	return &app{
		cfg:       cfg,
		store:     store.New(dataDir),
		authStore: auth.NewStore(dataDir),
	}, nil
}

// engine builds the reconciliation engine over the escalating transport
// chain. The HTTP client is tried first, curl second.
func (a *app) engine() (*syncer.Engine, *models.CredentialBundle, error) {
	cred, err := a.authStore.Load()
	if err != nil {
		return nil, nil, err
	}

	gateway := transport.NewGateway(
		transport.NewHTTPClient(transport.HTTPOptions{
			BaseURL:   a.cfg.BaseURL(),
			PageLimit: a.cfg.PageLimit(),
			Locale:    a.cfg.Locale(),
		}),
		transport.NewCurlClient(transport.CurlOptions{
			CurlPath:  a.cfg.CurlPath(),
			BaseURL:   a.cfg.BaseURL(),
			PageLimit: a.cfg.PageLimit(),
			Locale:    a.cfg.Locale(),
		}),
	)
	return syncer.New(gateway, a.store, cred), cred, nil
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "consync",
		Short:   "Local sync client for remote chat conversations",
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			utils.InitLogger()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newSyncCommand(),
		newListCommand(),
		newChatCommand(),
		newAuthCommand(),
		newStatsCommand(),
	)
	return root
}

// Execute runs the CLI and maps failures to a one-line summary with a
// remediation hint where one exists.
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		switch {
		case errors.Is(err, auth.ErrCredentialMissing), transport.IsAuthRejected(err):
			fmt.Fprintln(os.Stderr, `Run "consync auth" to store fresh credentials.`)
		case errors.Is(err, transport.ErrTransportUnavailable):
			fmt.Fprintln(os.Stderr, "All transports failed. Check your network connection and credentials.")
		}
		os.Exit(1)
	}
}
