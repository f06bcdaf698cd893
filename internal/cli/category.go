package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/njoerd114/todosync/internal/model"
)

var errCategoryExists = errors.New("category already exists")

func newCategoryCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "category",
		Aliases: []string{"cat"},
		Short:   "Manage categories",
		Long: `Manage categories.

By default changes are made locally and pushed on the next sync. With
--remote the change is sent to the server immediately through its
single-category API and the local list is left alone until the next sync
fetches it.`,
	}
	cmd.AddCommand(newCategoryAddCommand(opts))
	cmd.AddCommand(newCategoryRenameCommand(opts))
	cmd.AddCommand(newCategoryRemoveCommand(opts))
	cmd.AddCommand(newCategoryListCommand(opts))
	return cmd
}

func newCategoryAddCommand(opts *RootOptions) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a category",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			out := cmd.OutOrStdout()
			if remote {
				msg, err := app.CategoryAdapter.CreateRemote(cmd.Context(), args[0])
				return printRemote(out, msg, err)
			}
			if err := app.addCategory(args[0]); err != nil {
				return err
			}
			if err := app.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "added category %q\n", strings.TrimSpace(args[0]))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "create on the server now")
	return cmd
}

func newCategoryRenameCommand(opts *RootOptions) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a category and refile its todos",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			out := cmd.OutOrStdout()
			if remote {
				msg, err := app.CategoryAdapter.RenameRemote(cmd.Context(), args[0], args[1])
				return printRemote(out, msg, err)
			}
			moved, err := app.renameCategory(args[0], args[1])
			if err != nil {
				return err
			}
			if err := app.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "renamed category %q to %q (%d todos refiled)\n",
				strings.TrimSpace(args[0]), strings.TrimSpace(args[1]), moved)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "rename on the server now")
	return cmd
}

func newCategoryRemoveCommand(opts *RootOptions) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"delete"},
		Short:   "Delete a category; its todos move to " + model.DefaultCategoryName,
		Args:    cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			out := cmd.OutOrStdout()
			if remote {
				msg, err := app.CategoryAdapter.DeleteRemote(cmd.Context(), args[0])
				return printRemote(out, msg, err)
			}
			moved, err := app.removeCategory(args[0])
			if err != nil {
				return err
			}
			if err := app.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted category %q (%d todos moved to %s)\n",
				strings.TrimSpace(args[0]), moved, model.DefaultCategoryName)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "delete on the server now")
	return cmd
}

func newCategoryListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List categories",
		Args:    cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, app *App) error {
			counts := make(map[string]int)
			for _, td := range app.Todos.All() {
				if td.Dirty != model.PendingDelete {
					counts[categoryLabel(td.Category)]++
				}
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTODOS\tSYNC")
			for _, c := range app.Categories.All() {
				if c.Dirty == model.PendingDelete {
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", c.Name, counts[c.Name], c.Dirty)
			}
			return tw.Flush()
		}),
	}
}

func printRemote(w io.Writer, msg string, err error) error {
	if err != nil {
		return err
	}
	if msg == "" {
		msg = "ok"
	}
	fmt.Fprintln(w, msg)
	return nil
}

// --- local category operations -------------------------------------------------

func (a *App) addCategory(name string) error {
	name = strings.TrimSpace(name)
	if !model.ValidCategoryName(name) {
		return fmt.Errorf("category %q: %w", name, model.ErrInvalidCategoryName)
	}
	if _, ok := a.findCategory(name); ok {
		return fmt.Errorf("category %q: %w", name, errCategoryExists)
	}
	if _, err := a.Categories.Insert(model.NewCategory(a.Owner, name)); err != nil {
		return fmt.Errorf("adding category %q: %w", name, err)
	}
	return nil
}

// renameCategory renames a local category and refiles the todos that
// referenced the old name. It returns the number of todos refiled.
func (a *App) renameCategory(oldName, newName string) (int, error) {
	oldName, newName = strings.TrimSpace(oldName), strings.TrimSpace(newName)
	if oldName == model.DefaultCategoryName {
		return 0, fmt.Errorf("renaming category %q: %w", oldName, model.ErrProtectedCategory)
	}
	if !model.ValidCategoryName(newName) {
		return 0, fmt.Errorf("renaming category %q to %q: %w", oldName, newName, model.ErrInvalidCategoryName)
	}
	cat, ok := a.findCategory(oldName)
	if !ok || cat.Dirty == model.PendingDelete {
		return 0, fmt.Errorf("category %q not found", oldName)
	}
	if _, taken := a.findCategory(newName); taken {
		return 0, fmt.Errorf("category %q: %w", newName, errCategoryExists)
	}
	if err := a.Categories.Update(cat.LocalID, func(c *model.Category) { c.Name = newName }); err != nil {
		return 0, fmt.Errorf("renaming category %q: %w", oldName, err)
	}
	return a.refile(oldName, newName)
}

// removeCategory deletes a local category and moves its todos to the default
// category. It returns the number of todos moved.
func (a *App) removeCategory(name string) (int, error) {
	name = strings.TrimSpace(name)
	cat, ok := a.findCategory(name)
	if !ok || cat.Dirty == model.PendingDelete {
		return 0, fmt.Errorf("category %q not found", name)
	}
	if err := a.Categories.Delete(cat.LocalID); err != nil {
		return 0, fmt.Errorf("deleting category %q: %w", name, err)
	}
	return a.refile(name, "")
}

func (a *App) refile(from, to string) (int, error) {
	n := 0
	for _, td := range a.Todos.All() {
		if td.Category != from || td.Dirty == model.PendingDelete {
			continue
		}
		if err := a.Todos.Update(td.LocalID, func(t *model.Todo) { t.Category = to }); err != nil {
			return n, fmt.Errorf("refiling todo %s: %w", td.UUID, err)
		}
		n++
	}
	return n, nil
}
