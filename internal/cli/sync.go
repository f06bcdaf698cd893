package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/todosync/internal/entity"
	engine "github.com/njoerd114/todosync/internal/sync"
)

var errSyncFailed = errors.New("sync failed")

func newSyncCommand(opts *RootOptions) *cobra.Command {
	var (
		direction string
		progress  bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronise categories, then todos, with the server",
		Long: `Synchronise with the server once.

Directions:
  both   fetch and merge, then push local changes (default)
  up     push local changes only
  down   fetch only; clean local records the server no longer has are removed`,
		Args: cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			dir, err := engine.ParseDirection(direction)
			if err != nil {
				return err
			}
			if progress {
				cancel := app.Group.Subscribe(printEvent(cmd.ErrOrStderr()))
				defer cancel()
			}
			return reportOutcomes(cmd.OutOrStdout(), app.Group.Sync(cmd.Context(), dir))
		}),
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", "both", "both, up or down")
	cmd.Flags().BoolVarP(&progress, "progress", "p", false, "print progress events")
	return cmd
}

// reportOutcomes prints one line per kind and fails when any round did not
// succeed.
func reportOutcomes(w io.Writer, outcomes []engine.Outcome) error {
	failed := 0
	for _, out := range outcomes {
		fmt.Fprintln(w, out)
		if !out.OK() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d kinds", errSyncFailed, failed, len(outcomes))
	}
	return nil
}

func printEvent(w io.Writer) func(engine.Event) {
	return func(ev engine.Event) {
		if ev.Type == engine.EventProgress {
			fmt.Fprintf(w, "%s: %3d%% %s\n", ev.Kind, ev.Percent, ev.Phase)
		}
	}
}

// --- daemon ------------------------------------------------------------------

func newDaemonCommand(opts *RootOptions) *cobra.Command {
	var interval int
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Sync once, then keep syncing on a timer until interrupted",
		Long: `Sync once, then keep syncing every auto_sync.interval_minutes until
SIGINT or SIGTERM. The daemon enables auto-sync even when the config file
leaves it off.`,
		Args: cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			every := app.Config.AutoSync.Interval()
			if cmd.Flags().Changed("interval") {
				if interval < 1 {
					return fmt.Errorf("--interval %d must be at least 1 minute", interval)
				}
				every = time.Duration(interval) * time.Minute
			}
			return runDaemon(cmd.Context(), app, every)
		}),
	}
	cmd.Flags().IntVar(&interval, "interval", 0, "override auto_sync.interval_minutes")
	return cmd
}

// runDaemon performs an initial sync and then drives every coordinator's
// timer until ctx is done. Running rounds are cancelled and the stores
// saved before it returns.
func runDaemon(ctx context.Context, app *App, every time.Duration) error {
	log := app.Log
	log.Info("daemon starting",
		"server_url", app.Config.ServerURL,
		"interval", every,
		"db", app.DBPath,
	)

	unsubscribe := app.Group.Subscribe(func(ev engine.Event) {
		if ev.Type != engine.EventCompleted {
			return
		}
		if ev.Outcome.OK() {
			log.Info("sync completed", "kind", ev.Kind, "generation", ev.Generation, "message", ev.Outcome.Message)
		} else {
			log.Warn("sync failed", "kind", ev.Kind, "generation", ev.Generation,
				"result", ev.Outcome.Result, "message", ev.Outcome.Message)
		}
	})
	defer unsubscribe()

	// A failed initial sync is logged by the observer; the timer retries.
	app.Group.Sync(ctx, engine.Bidirectional)

	for _, c := range app.Group.Coordinators() {
		c.SetAutoSync(true, every)
	}
	err := app.Group.Run(ctx)

	log.Info("daemon stopping")
	app.Group.Cancel()
	app.Group.Wait()
	// The parent context is cancelled by now.
	if saveErr := app.Save(context.WithoutCancel(ctx)); saveErr != nil {
		return errors.Join(err, saveErr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// --- export / import -----------------------------------------------------------

// exporter is the backup surface shared by both entity adapters.
type exporter interface {
	Export() ([]byte, error)
	Import(data []byte, source entity.Source, opts entity.MergeOptions) (entity.MergeStats, error)
}

// backup returns the adapter for kind, "todos" or "categories".
func (a *App) backup(kind string) (exporter, error) {
	switch kind {
	case "todos":
		return a.TodoAdapter, nil
	case "categories":
		return a.CategoryAdapter, nil
	}
	return nil, fmt.Errorf("unknown kind %q: want todos or categories", kind)
}

func newExportCommand(opts *RootOptions) *cobra.Command {
	var (
		kind   string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all records of one kind as JSON in the server's wire format",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			ex, err := app.backup(kind)
			if err != nil {
				return err
			}
			data, err := ex.Export()
			if err != nil {
				return err
			}
			data = append(data, '\n')
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %s to %s\n", kind, output)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "todos", "todos or categories")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCommand(opts *RootOptions) *cobra.Command {
	var (
		kind       string
		fromServer bool
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Merge records from a JSON export",
		Long: `Merge records from a JSON export produced by "todosync export".

Imported records are queued for upload on the next sync. Pass --from-server
when the file is a server response; those records are taken as already
synced.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			ex, err := app.backup(kind)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading import: %w", err)
			}
			source := entity.SourceLocal
			if fromServer {
				source = entity.SourceServer
			}
			stats, err := ex.Import(data, source, entity.MergeOptions{Policy: app.Config.Policy()})
			if err != nil {
				return err
			}
			if err := app.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s: %d received, %d new, %d updated, %d skipped, %d failed\n",
				kind, stats.Received, stats.Inserted, stats.Overwritten, stats.Skipped, stats.Failed)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "todos", "todos or categories")
	cmd.Flags().BoolVar(&fromServer, "from-server", false, "treat records as already synced")
	return cmd
}
