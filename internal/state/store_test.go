package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/todosync/internal/model"
)

var testOwner = uuid.MustParse("3a9c1f0e-2b7d-4e6a-9f58-0c1d2e3f4a5b")

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTodo() *model.Todo {
	now := time.Now().UTC().Truncate(time.Millisecond)
	td := model.NewTodo(testOwner, "Buy milk")
	td.LocalID = 7
	td.Description = "2 litres"
	td.Category = "Groceries"
	td.Important = true
	td.Deadline = now.Add(24 * time.Hour)
	td.RecurrenceInterval = 7
	td.RecurrenceCount = 3
	td.RecurrenceStartDate = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	td.Complete(now)
	td.CreatedAt = now.Add(-time.Hour)
	td.UpdatedAt = now
	td.Dirty = model.PendingUpdate
	return td
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	todos, err := s.LoadTodos(context.Background())
	if err != nil {
		t.Fatalf("LoadTodos after open: %v", err)
	}
	if len(todos) != 0 {
		t.Errorf("expected empty store after open, got %d todos", len(todos))
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.SaveTodos(context.Background(), []*model.Todo{sampleTodo()}); err != nil {
		t.Fatalf("SaveTodos: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer func() { _ = s2.Close() }()
	todos, err := s2.LoadTodos(context.Background())
	if err != nil {
		t.Fatalf("LoadTodos: %v", err)
	}
	if len(todos) != 1 {
		t.Errorf("todos after reopen = %d, want 1", len(todos))
	}
}

func TestSaveAndLoadTodos(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	want := sampleTodo()

	if err := s.SaveTodos(ctx, []*model.Todo{want}); err != nil {
		t.Fatalf("SaveTodos: %v", err)
	}
	todos, err := s.LoadTodos(ctx)
	if err != nil {
		t.Fatalf("LoadTodos: %v", err)
	}
	if len(todos) != 1 {
		t.Fatalf("got %d todos, want 1", len(todos))
	}
	got := todos[0]

	if got.LocalID != want.LocalID {
		t.Errorf("LocalID = %d, want %d", got.LocalID, want.LocalID)
	}
	if got.ContentHash() != want.ContentHash() {
		t.Errorf("payload differs:\n got %+v\nwant %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("timestamps = %v/%v, want %v/%v", got.CreatedAt, got.UpdatedAt, want.CreatedAt, want.UpdatedAt)
	}
	if !got.CompletedAt.Equal(want.CompletedAt) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, want.CompletedAt)
	}
	if got.Dirty != model.PendingUpdate {
		t.Errorf("Dirty = %v, want PendingUpdate", got.Dirty)
	}
}

func TestSaveTodos_Replaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := sampleTodo()
	if err := s.SaveTodos(ctx, []*model.Todo{first}); err != nil {
		t.Fatalf("SaveTodos: %v", err)
	}
	second := model.NewTodo(testOwner, "Walk dog")
	second.LocalID = 1
	if err := s.SaveTodos(ctx, []*model.Todo{second}); err != nil {
		t.Fatalf("SaveTodos: %v", err)
	}

	todos, err := s.LoadTodos(ctx)
	if err != nil {
		t.Fatalf("LoadTodos: %v", err)
	}
	if len(todos) != 1 || todos[0].UUID != second.UUID {
		t.Errorf("todos = %+v, want only %q", todos, second.Title)
	}
}

func TestSaveTodos_DuplicateIdentityRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	keep := sampleTodo()
	if err := s.SaveTodos(ctx, []*model.Todo{keep}); err != nil {
		t.Fatalf("SaveTodos: %v", err)
	}

	a := model.NewTodo(testOwner, "a")
	a.LocalID = 1
	b := a.Clone()
	b.LocalID = 2
	if err := s.SaveTodos(ctx, []*model.Todo{a, b}); err == nil {
		t.Fatal("expected error for duplicate identity")
	}

	todos, err := s.LoadTodos(ctx)
	if err != nil {
		t.Fatalf("LoadTodos: %v", err)
	}
	if len(todos) != 1 || todos[0].UUID != keep.UUID {
		t.Errorf("failed save did not roll back: %+v", todos)
	}
}

func TestSaveAndLoadCategories(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	def := model.NewCategory(testOwner, model.DefaultCategoryName)
	def.LocalID = 1
	def.Dirty = model.Clean
	work := model.NewCategory(testOwner, "Work")
	work.LocalID = 2
	work.CreatedAt = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	work.UpdatedAt = work.CreatedAt

	if err := s.SaveCategories(ctx, []*model.Category{work, def}); err != nil {
		t.Fatalf("SaveCategories: %v", err)
	}
	cats, err := s.LoadCategories(ctx)
	if err != nil {
		t.Fatalf("LoadCategories: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("got %d categories, want 2", len(cats))
	}
	if cats[0].Name != model.DefaultCategoryName || cats[1].Name != "Work" {
		t.Errorf("order = %q, %q; want by local id", cats[0].Name, cats[1].Name)
	}
	if cats[1].Dirty != model.PendingInsert {
		t.Errorf("Dirty = %v, want PendingInsert", cats[1].Dirty)
	}
	if !cats[1].UpdatedAt.Equal(work.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", cats[1].UpdatedAt, work.UpdatedAt)
	}
	if cats[1].OwnerUUID != testOwner || cats[1].UUID != work.UUID {
		t.Errorf("identity = %v/%v, want %v/%v", cats[1].OwnerUUID, cats[1].UUID, testOwner, work.UUID)
	}
}

func TestLastSync(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.LastSync(ctx, "todos")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("LastSync before any sync = %v, want zero", got)
	}

	first := time.Date(2025, 4, 1, 8, 0, 0, 123456789, time.UTC)
	second := first.Add(time.Hour)
	for _, ts := range []time.Time{first, second} {
		if err := s.SetLastSync(ctx, "todos", ts); err != nil {
			t.Fatalf("SetLastSync: %v", err)
		}
	}

	got, err = s.LastSync(ctx, "todos")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(second) {
		t.Errorf("LastSync = %v, want %v", got, second)
	}
	if other, _ := s.LastSync(ctx, "categories"); !other.IsZero() {
		t.Errorf("LastSync(categories) = %v, want zero", other)
	}
}

func TestValue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Value(ctx, "owner_uuid"); err != nil || ok {
		t.Fatalf("Value on empty store = ok %v, err %v; want missing", ok, err)
	}
	if err := s.SetValue(ctx, "owner_uuid", testOwner.String()); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	v, ok, err := s.Value(ctx, "owner_uuid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || v != testOwner.String() {
		t.Errorf("Value = %q (ok %v), want %q", v, ok, testOwner)
	}
}
