package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/todosync/internal/model"
	"github.com/njoerd114/todosync/internal/store"
)

// minRefLen is the shortest uuid prefix accepted as a todo reference.
const minRefLen = 4

var (
	errNoMatch   = errors.New("no todo matches")
	errAmbiguous = errors.New("reference matches more than one todo")
)

// deadlineLayouts are tried in order by parseDeadline.
var deadlineLayouts = []string{time.RFC3339, "2006-01-02 15:04", time.DateOnly}

// parseDeadline accepts RFC 3339, "YYYY-MM-DD HH:MM" or a bare date, the
// latter two in loc. The empty string clears the deadline.
func parseDeadline(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("deadline %q: want YYYY-MM-DD, \"YYYY-MM-DD HH:MM\" or RFC 3339", s)
}

// findTodo resolves ref, a full uuid or a unique prefix of one, among the
// todos not pending deletion.
func findTodo(st *store.Store[*model.Todo], ref string) (*model.Todo, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if len(ref) < minRefLen {
		return nil, fmt.Errorf("todo reference %q: at least %d characters required", ref, minRefLen)
	}
	var found *model.Todo
	for _, td := range st.All() {
		if td.Dirty == model.PendingDelete || !strings.HasPrefix(td.UUID.String(), ref) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%q: %w", ref, errAmbiguous)
		}
		found = td
	}
	if found == nil {
		return nil, fmt.Errorf("%q: %w", ref, errNoMatch)
	}
	return found, nil
}

// ensureCategory returns name, creating the category locally when it does
// not exist yet. The empty name stands for the default category.
func (a *App) ensureCategory(name string, w io.Writer) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == model.DefaultCategoryName {
		return "", nil
	}
	if _, ok := a.findCategory(name); ok {
		return name, nil
	}
	if !model.ValidCategoryName(name) {
		return "", fmt.Errorf("category %q: %w", name, model.ErrInvalidCategoryName)
	}
	if _, err := a.Categories.Insert(model.NewCategory(a.Owner, name)); err != nil {
		return "", fmt.Errorf("creating category %q: %w", name, err)
	}
	fmt.Fprintf(w, "created category %q\n", name)
	return name, nil
}

func shortID(td *model.Todo) string { return td.UUID.String()[:8] }

// --- add ---------------------------------------------------------------------

func newAddCommand(opts *RootOptions) *cobra.Command {
	var (
		description string
		category    string
		important   bool
		deadline    string
	)
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a todo",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			out := cmd.OutOrStdout()
			title := strings.TrimSpace(strings.Join(args, " "))
			if title == "" {
				return errors.New("title must not be empty")
			}
			due, err := parseDeadline(deadline, time.Local)
			if err != nil {
				return err
			}
			cat, err := app.ensureCategory(category, out)
			if err != nil {
				return err
			}

			td := model.NewTodo(app.Owner, title)
			td.Description = description
			td.Category = cat
			td.Important = important
			td.Deadline = due
			if _, err := app.Todos.Insert(td); err != nil {
				return fmt.Errorf("adding todo: %w", err)
			}
			if err := app.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "added %s %s\n", shortID(td), td.Title)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "longer description")
	cmd.Flags().StringVar(&category, "category", "", "category name (created if missing)")
	cmd.Flags().BoolVarP(&important, "important", "i", false, "flag as important")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline: YYYY-MM-DD, \"YYYY-MM-DD HH:MM\" or RFC 3339")
	return cmd
}

// --- edit --------------------------------------------------------------------

func newEditCommand(opts *RootOptions) *cobra.Command {
	var (
		title       string
		description string
		category    string
		important   bool
		deadline    string
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of a todo",
		Long: `Change fields of a todo. Only the flags given are applied.

<id> is the todo's uuid or a unique prefix of at least four characters.
Pass --deadline "" to clear the deadline.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			out := cmd.OutOrStdout()
			td, err := findTodo(app.Todos, args[0])
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if !flags.Changed("title") && !flags.Changed("description") && !flags.Changed("category") &&
				!flags.Changed("important") && !flags.Changed("deadline") {
				return errors.New("nothing to change: pass at least one of --title, --description, --category, --important, --deadline")
			}

			if flags.Changed("title") && strings.TrimSpace(title) == "" {
				return errors.New("title must not be empty")
			}
			var due time.Time
			if flags.Changed("deadline") {
				if due, err = parseDeadline(deadline, time.Local); err != nil {
					return err
				}
			}
			if flags.Changed("category") {
				if category, err = app.ensureCategory(category, out); err != nil {
					return err
				}
			}

			err = app.Todos.Update(td.LocalID, func(t *model.Todo) {
				if flags.Changed("title") {
					t.Title = strings.TrimSpace(title)
				}
				if flags.Changed("description") {
					t.Description = description
				}
				if flags.Changed("category") {
					t.Category = category
				}
				if flags.Changed("important") {
					t.Important = important
				}
				if flags.Changed("deadline") {
					t.Deadline = due
				}
			})
			if err != nil {
				return fmt.Errorf("editing todo: %w", err)
			}
			if err := app.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "updated %s\n", shortID(td))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().StringVar(&category, "category", "", "new category (created if missing)")
	cmd.Flags().BoolVarP(&important, "important", "i", false, "flag as important")
	cmd.Flags().StringVar(&deadline, "deadline", "", "new deadline")
	return cmd
}

// --- done --------------------------------------------------------------------

func newDoneCommand(opts *RootOptions) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a todo completed",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			td, err := findTodo(app.Todos, args[0])
			if err != nil {
				return err
			}
			now := model.Now()
			err = app.Todos.Update(td.LocalID, func(t *model.Todo) {
				if undo {
					t.Reopen()
				} else {
					t.Complete(now)
				}
			})
			if err != nil {
				return fmt.Errorf("completing todo: %w", err)
			}
			if err := app.Save(cmd.Context()); err != nil {
				return err
			}
			verb := "completed"
			if undo {
				verb = "reopened"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", verb, shortID(td), td.Title)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "reopen a completed todo")
	return cmd
}

// --- rm ----------------------------------------------------------------------

func newRemoveCommand(opts *RootOptions) *cobra.Command {
	var trash, restore bool
	cmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a todo, or move it to the trash",
		Long: `Delete a todo. The deletion reaches the server on the next sync; a
todo that was never synced disappears at once.

With --trash the todo is moved to the recycle bin instead, which is an
ordinary edit, and --restore brings it back.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			if trash && restore {
				return errors.New("--trash and --restore are mutually exclusive")
			}
			td, err := findTodo(app.Todos, args[0])
			if err != nil {
				return err
			}

			var verb string
			switch {
			case trash:
				verb = "trashed"
				now := model.Now()
				err = app.Todos.Update(td.LocalID, func(t *model.Todo) { t.Trash(now) })
			case restore:
				verb = "restored"
				err = app.Todos.Update(td.LocalID, (*model.Todo).Restore)
			default:
				verb = "deleted"
				err = app.Todos.Delete(td.LocalID)
			}
			if err != nil {
				return fmt.Errorf("removing todo: %w", err)
			}
			if err := app.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", verb, shortID(td), td.Title)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&trash, "trash", false, "move to the recycle bin instead of deleting")
	cmd.Flags().BoolVar(&restore, "restore", false, "restore from the recycle bin")
	return cmd
}

// --- list --------------------------------------------------------------------

// listFilter selects which todos `list` prints.
type listFilter struct {
	all   bool // include completed and trashed
	dirty bool // only records with unsynced changes
}

func (f listFilter) keep(td *model.Todo) bool {
	if f.dirty {
		return td.Dirty.IsDirty()
	}
	if td.Dirty == model.PendingDelete {
		return false
	}
	return f.all || (!td.Completed && !td.Trashed)
}

func newListCommand(opts *RootOptions) *cobra.Command {
	var filter listFilter
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List todos",
		Args:    cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			return printTodos(cmd.OutOrStdout(), app.Todos.All(), filter)
		}),
	}
	cmd.Flags().BoolVarP(&filter.all, "all", "a", false, "include completed and trashed todos")
	cmd.Flags().BoolVar(&filter.dirty, "dirty", false, "only todos with changes not yet synced")
	return cmd
}

func printTodos(w io.Writer, todos []*model.Todo, filter listFilter) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTITLE\tCATEGORY\tDEADLINE\tSYNC")
	n := 0
	for _, td := range todos {
		if !filter.keep(td) {
			continue
		}
		n++
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(td), todoStatus(td), td.Title, categoryLabel(td.Category), deadlineLabel(td.Deadline), td.Dirty)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(w, "no todos")
	}
	return nil
}

func todoStatus(td *model.Todo) string {
	var flags []string
	switch {
	case td.Trashed:
		flags = append(flags, "trashed")
	case td.Completed:
		flags = append(flags, "done")
	default:
		flags = append(flags, "open")
	}
	if td.Important {
		flags = append(flags, "!")
	}
	return strings.Join(flags, " ")
}

func categoryLabel(name string) string {
	if name == "" {
		return model.DefaultCategoryName
	}
	return name
}

func deadlineLabel(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
