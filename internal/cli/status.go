package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/njoerd114/todosync/internal/auth"
	"github.com/njoerd114/todosync/internal/model"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

// --- status ------------------------------------------------------------------

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, session and sync state",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			w := cmd.OutOrStdout()
			cfg := app.Config

			fmt.Fprintln(w, "todosync status")
			fmt.Fprintln(w)

			cfgLabel := app.ConfigPath
			if cfgLabel == "" {
				cfgLabel = "built-in defaults"
			}
			fmt.Fprintf(w, "  Config:     %s\n", cfgLabel)

			server := cfg.ServerURL
			if server == "" {
				server = "not configured (local only)"
			}
			fmt.Fprintf(w, "  Server:     %s\n", server)

			if info, err := os.Stat(app.DBPath); err == nil {
				fmt.Fprintf(w, "  State DB:   %s (%s)\n", app.DBPath, humanSize(info.Size()))
			} else {
				fmt.Fprintf(w, "  State DB:   %s\n", app.DBPath)
			}
			if cfg.Log.File != "" {
				fmt.Fprintf(w, "  Log file:   %s\n", cfg.Log.File)
			}
			fmt.Fprintf(w, "  Owner:      %s\n", app.Owner)
			fmt.Fprintf(w, "  Session:    %s\n", sessionLabel(cmd.Context(), app, time.Now()))

			auto := "off"
			if cfg.AutoSync.Enabled {
				auto = "every " + cfg.AutoSync.Interval().String()
			}
			fmt.Fprintf(w, "  Auto-sync:  %s\n", auto)
			fmt.Fprintf(w, "  Policy:     %s\n", cfg.Policy())
			fmt.Fprintln(w)

			counts := map[string]map[model.DirtyState]int{
				"categories": app.Categories.Counts(),
				"todos":      app.Todos.Counts(),
			}
			for _, c := range app.Group.Coordinators() {
				last, err := c.LastSync(cmd.Context())
				if err != nil {
					return err
				}
				lastLabel := "never"
				if !last.IsZero() {
					lastLabel = last.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "  %-11s %s; last sync %s\n", c.Kind()+":", countsLabel(counts[c.Kind()]), lastLabel)
			}
			return nil
		}),
	}
}

func sessionLabel(ctx context.Context, app *App, now time.Time) string {
	tok, err := app.Tokens.Token(ctx)
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		return "not logged in (run `todosync login`)"
	case errors.Is(err, auth.ErrTokenExpired):
		return "token expired (run `todosync login`)"
	case err != nil:
		return "error: " + err.Error()
	}
	source := "config"
	if app.TokenFile != nil {
		source = app.TokenFile.Path()
	}
	if exp, ok := auth.Expiry(tok); ok {
		return fmt.Sprintf("logged in via %s, expires in %s", source, exp.Sub(now).Round(time.Minute))
	}
	return "logged in via " + source
}

// countsLabel renders per-state record counts, e.g. "12 records (10 clean, 2 pending-update)".
func countsLabel(counts map[model.DirtyState]int) string {
	total := 0
	states := make([]model.DirtyState, 0, len(counts))
	for st, n := range counts {
		total += n
		states = append(states, st)
	}
	slices.Sort(states)
	if total == 0 {
		return "0 records"
	}
	parts := make([]string, 0, len(states))
	for _, st := range states {
		parts = append(parts, fmt.Sprintf("%d %s", counts[st], st))
	}
	return fmt.Sprintf("%d records (%s)", total, strings.Join(parts, ", "))
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// --- login / logout ------------------------------------------------------------

func newLoginCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store an access token for the todo server",
		Long: `Store an access token in the token file (0600).

On a terminal the token is read without echo. Otherwise the first line of
stdin is used, so "todosync login < token.txt" works in scripts.`,
		Args: cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			if app.TokenFile == nil {
				return errors.New("a token is set in the config file or TODOSYNC_TOKEN; remove it to use login")
			}
			tok, err := readToken(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := app.TokenFile.Save(tok); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token saved to %s\n", app.TokenFile.Path())
			if exp, ok := auth.Expiry(tok); ok && !exp.After(time.Now()) {
				fmt.Fprintln(cmd.OutOrStdout(), "warning: this token has already expired")
			}
			if id, ok := auth.OwnerFromToken(tok); ok && app.Config.Owner() == uuid.Nil && id != app.Owner {
				fmt.Fprintf(cmd.OutOrStdout(), "note: token owner %s differs from local owner %s; set owner_uuid to pick one\n", id, app.Owner)
			}
			return nil
		}),
	}
}

func newLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			if app.TokenFile == nil {
				return errors.New("the token comes from the config file or TODOSYNC_TOKEN; nothing to remove")
			}
			if err := app.TokenFile.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		}),
	}
}

// readToken reads a token without echo from a terminal, or the first line of
// in otherwise.
func readToken(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && isTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Token: ")
		b, err := readPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading token: %w", err)
	}
	tok := strings.TrimSpace(line)
	if tok == "" {
		return "", errors.New("no token given")
	}
	return tok, nil
}

// --- version -------------------------------------------------------------------

func newVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "todosync", opts.Version)
		},
	}
}
