// Package cli implements the todosync command line: local todo and category
// editing against the state database, and one-shot or background sync with
// the todo service.
package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	// Version is reported by `todosync version` and as service.version.
	Version string
}

// NewRootCommand creates the todosync root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:   "todosync",
		Short: "Offline-first todo list synced with a todo server",
		Long: `todosync keeps a local todo list and category list in SQLite and
synchronises them with a todo server when one is configured.

Every edit is recorded locally first and pushed on the next sync.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A .env file in the working directory may carry TODOSYNC_* overrides.
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading .env: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (default ~/.config/todosync/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newAddCommand(opts))
	cmd.AddCommand(newEditCommand(opts))
	cmd.AddCommand(newDoneCommand(opts))
	cmd.AddCommand(newRemoveCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newCategoryCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newDaemonCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newLoginCommand(opts))
	cmd.AddCommand(newLogoutCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))

	return cmd
}

// withApp adapts fn into a cobra RunE that opens the App for the duration of
// the command.
func withApp(opts *RootOptions, fn func(cmd *cobra.Command, args []string, app *App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		app, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := app.Close(cmd.Context()); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("closing: %w", closeErr))
			}
		}()
		return fn(cmd, args, app)
	}
}
