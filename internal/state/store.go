// Package state manages the SQLite database that persists the record stores
// and sync metadata between runs.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/todosync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS todos (
    local_id              INTEGER PRIMARY KEY,
    uuid                  TEXT    NOT NULL,
    owner_uuid            TEXT    NOT NULL DEFAULT '',
    title                 TEXT    NOT NULL DEFAULT '',
    description           TEXT    NOT NULL DEFAULT '',
    category              TEXT    NOT NULL DEFAULT '',
    important             INTEGER NOT NULL DEFAULT 0,
    deadline              TEXT    NOT NULL DEFAULT '',
    recurrence_interval   INTEGER NOT NULL DEFAULT 0,
    recurrence_count      INTEGER NOT NULL DEFAULT 0,
    recurrence_start_date TEXT    NOT NULL DEFAULT '',
    completed             INTEGER NOT NULL DEFAULT 0,
    completed_at          TEXT    NOT NULL DEFAULT '',
    trashed               INTEGER NOT NULL DEFAULT 0,
    trashed_at            TEXT    NOT NULL DEFAULT '',
    created_at            TEXT    NOT NULL DEFAULT '',
    updated_at            TEXT    NOT NULL DEFAULT '',
    dirty_state           INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_todos_identity ON todos (owner_uuid, uuid);
CREATE INDEX        IF NOT EXISTS idx_todos_dirty    ON todos (dirty_state) WHERE dirty_state != 0;

CREATE TABLE IF NOT EXISTS categories (
    local_id    INTEGER PRIMARY KEY,
    uuid        TEXT    NOT NULL,
    owner_uuid  TEXT    NOT NULL DEFAULT '',
    name        TEXT    NOT NULL,
    created_at  TEXT    NOT NULL DEFAULT '',
    updated_at  TEXT    NOT NULL DEFAULT '',
    dirty_state INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_identity ON categories (owner_uuid, uuid);

CREATE TABLE IF NOT EXISTS sync_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Store is the SQLite-backed persistence layer for todos, categories and the
// last successful sync time of each kind.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the state database:
// ~/.local/share/todosync/state.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "todosync", "state.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- todos -------------------------------------------------------------------

const todoColumns = `local_id, uuid, owner_uuid, title, description, category, important,
	deadline, recurrence_interval, recurrence_count, recurrence_start_date,
	completed, completed_at, trashed, trashed_at, created_at, updated_at, dirty_state`

// LoadTodos returns every persisted todo ordered by local id.
func (s *Store) LoadTodos(ctx context.Context) ([]*model.Todo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+todoColumns+` FROM todos ORDER BY local_id`)
	if err != nil {
		return nil, fmt.Errorf("querying todos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var todos []*model.Todo
	for rows.Next() {
		td, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, td)
	}
	return todos, rows.Err()
}

// SaveTodos replaces the persisted todos with todos in one transaction.
func (s *Store) SaveTodos(ctx context.Context, todos []*model.Todo) error {
	return s.replace(ctx, "todos", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO todos (`+todoColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, td := range todos {
			_, err := stmt.ExecContext(ctx,
				td.LocalID,
				td.UUID.String(),
				uuidText(td.OwnerUUID),
				td.Title,
				td.Description,
				td.Category,
				td.Important,
				formatTime(td.Deadline),
				td.RecurrenceInterval,
				td.RecurrenceCount,
				formatDate(td.RecurrenceStartDate),
				td.Completed,
				formatTime(td.CompletedAt),
				td.Trashed,
				formatTime(td.TrashedAt),
				formatTime(td.CreatedAt),
				formatTime(td.UpdatedAt),
				int(td.Dirty),
			)
			if err != nil {
				return fmt.Errorf("inserting todo %s: %w", td.UUID, err)
			}
		}
		return nil
	})
}

func scanTodo(s scanner) (*model.Todo, error) {
	var (
		td                             model.Todo
		id, owner, startDate           string
		deadline, completedAt, trashed string
		created, updated               string
		dirty                          int
	)
	err := s.Scan(
		&td.LocalID, &id, &owner, &td.Title, &td.Description, &td.Category, &td.Important,
		&deadline, &td.RecurrenceInterval, &td.RecurrenceCount, &startDate,
		&td.Completed, &completedAt, &td.Trashed, &trashed, &created, &updated, &dirty,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning todo row: %w", err)
	}
	if err := scanMeta(&td.Meta, id, owner, created, updated, dirty); err != nil {
		return nil, err
	}

	td.Deadline, _ = parseTime(deadline)
	td.CompletedAt, _ = parseTime(completedAt)
	td.TrashedAt, _ = parseTime(trashed)
	td.RecurrenceStartDate, _ = parseDate(startDate)
	return &td, nil
}

// --- categories --------------------------------------------------------------

// LoadCategories returns every persisted category ordered by local id.
func (s *Store) LoadCategories(ctx context.Context) ([]*model.Category, error) {
	const q = `
		SELECT local_id, uuid, owner_uuid, name, created_at, updated_at, dirty_state
		FROM categories ORDER BY local_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cats []*model.Category
	for rows.Next() {
		var (
			c                       model.Category
			id, owner, created, upd string
			dirty                   int
		)
		if err := rows.Scan(&c.LocalID, &id, &owner, &c.Name, &created, &upd, &dirty); err != nil {
			return nil, fmt.Errorf("scanning category row: %w", err)
		}
		if err := scanMeta(&c.Meta, id, owner, created, upd, dirty); err != nil {
			return nil, err
		}
		cats = append(cats, &c)
	}
	return cats, rows.Err()
}

// SaveCategories replaces the persisted categories in one transaction.
func (s *Store) SaveCategories(ctx context.Context, cats []*model.Category) error {
	return s.replace(ctx, "categories", func(tx *sql.Tx) error {
		const q = `
			INSERT INTO categories (local_id, uuid, owner_uuid, name, created_at, updated_at, dirty_state)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
		for _, c := range cats {
			_, err := tx.ExecContext(ctx, q,
				c.LocalID,
				c.UUID.String(),
				uuidText(c.OwnerUUID),
				c.Name,
				formatTime(c.CreatedAt),
				formatTime(c.UpdatedAt),
				int(c.Dirty),
			)
			if err != nil {
				return fmt.Errorf("inserting category %q: %w", c.Name, err)
			}
		}
		return nil
	})
}

// --- sync metadata -----------------------------------------------------------

func lastSyncKey(kind string) string { return "last_sync." + kind }

// Value returns the sync_meta value stored under key. ok is false when the
// key has never been set.
func (s *Store) Value(ctx context.Context, key string) (v string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, true, nil
}

// SetValue stores v under key, replacing any previous value.
func (s *Store) SetValue(ctx context.Context, key, v string) error {
	const q = `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, v); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// LastSync returns the last successful sync time for kind, or the zero time
// if none has been recorded.
func (s *Store) LastSync(ctx context.Context, kind string) (time.Time, error) {
	v, ok, err := s.Value(ctx, lastSyncKey(kind))
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := parseTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing last sync for %s: %w", kind, err)
	}
	return t, nil
}

// SetLastSync records t as the last successful sync time for kind.
func (s *Store) SetLastSync(ctx context.Context, kind string, t time.Time) error {
	return s.SetValue(ctx, lastSyncKey(kind), formatTime(t))
}

// --- helpers -----------------------------------------------------------------

// replace deletes every row of table and runs fill in the same transaction.
func (s *Store) replace(ctx context.Context, table string, fill func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning %s transaction: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return fmt.Errorf("clearing %s: %w", table, err)
	}
	if err := fill(tx); err != nil {
		return fmt.Errorf("saving %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", table, err)
	}
	return nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMeta(m *model.Meta, id, owner, created, updated string, dirty int) error {
	var err error
	if m.UUID, err = uuid.Parse(id); err != nil {
		return fmt.Errorf("row %d: parsing uuid %q: %w", m.LocalID, id, err)
	}
	if owner != "" {
		if m.OwnerUUID, err = uuid.Parse(owner); err != nil {
			return fmt.Errorf("row %d: parsing owner %q: %w", m.LocalID, owner, err)
		}
	}
	if m.Dirty, err = model.ParseDirtyState(dirty); err != nil {
		return fmt.Errorf("row %d: %w", m.LocalID, err)
	}
	m.CreatedAt, _ = parseTime(created)
	m.UpdatedAt, _ = parseTime(updated)
	return nil
}

func uuidText(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}
