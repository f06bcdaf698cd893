package entity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/njoerd114/todosync/internal/model"
	"github.com/njoerd114/todosync/internal/store"
	"github.com/njoerd114/todosync/internal/transport"
)

// CategoryAdapter is the category [Adapter] plus the server's
// single-resource category operations.
type CategoryAdapter struct {
	*Adapter[*model.Category]
}

// NewCategoryAdapter creates the adapter for categories. Incoming categories
// whose uuid is unknown locally are matched by name within the owner, so the
// same category created on two devices merges instead of duplicating.
func NewCategoryAdapter(st *store.Store[*model.Category], tr Transport, cfg Config, logger *slog.Logger) *CategoryAdapter {
	a := newAdapter(st, tr, Codec[*model.Category](CategoryCodec{}), cfg, logger)
	a.match = matchCategoryByName
	return &CategoryAdapter{Adapter: a}
}

func matchCategoryByName(st *store.Store[*model.Category], in *model.Category) (*model.Category, bool) {
	return st.Find(func(c *model.Category) bool {
		return c.OwnerUUID == in.OwnerUUID && c.Name == in.Name
	})
}

// NewCategoryStore returns a category store in which the default category is
// protected from deletion.
func NewCategoryStore(opts ...store.Option[*model.Category]) *store.Store[*model.Category] {
	opts = append(opts, store.WithProtect((*model.Category).IsDefault))
	return store.New(opts...)
}

// CreateRemote creates a category directly on the server and returns the
// server's message.
func (a *CategoryAdapter) CreateRemote(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if !model.ValidCategoryName(name) {
		return "", fmt.Errorf("creating category %q: %w", name, model.ErrInvalidCategoryName)
	}
	return a.call(ctx, http.MethodPost, map[string]string{"name": name})
}

// RenameRemote renames a category on the server.
func (a *CategoryAdapter) RenameRemote(ctx context.Context, oldName, newName string) (string, error) {
	oldName, newName = strings.TrimSpace(oldName), strings.TrimSpace(newName)
	if oldName == model.DefaultCategoryName {
		return "", fmt.Errorf("renaming category %q: %w", oldName, model.ErrProtectedCategory)
	}
	if !model.ValidCategoryName(newName) {
		return "", fmt.Errorf("renaming category %q to %q: %w", oldName, newName, model.ErrInvalidCategoryName)
	}
	return a.call(ctx, http.MethodPatch, map[string]string{"old_name": oldName, "new_name": newName})
}

// DeleteRemote deletes a category on the server. The default category can
// never be deleted.
func (a *CategoryAdapter) DeleteRemote(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == model.DefaultCategoryName {
		return "", fmt.Errorf("deleting category %q: %w", name, model.ErrProtectedCategory)
	}
	if !model.ValidCategoryName(name) {
		return "", fmt.Errorf("deleting category %q: %w", name, model.ErrInvalidCategoryName)
	}
	return a.call(ctx, http.MethodDelete, map[string]string{"name": name})
}

func (a *CategoryAdapter) call(ctx context.Context, method string, body map[string]string) (string, error) {
	var resp transport.MessageResponse
	if err := a.tr.Do(ctx, method, a.cfg.Endpoint, body, &resp); err != nil {
		return "", fmt.Errorf("%s %s: %w", method, a.Kind(), err)
	}
	a.log.Info("category operation succeeded", "method", method, "message", resp.Message)
	return resp.Message, nil
}
