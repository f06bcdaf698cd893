package entity

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/todosync/internal/model"
	"github.com/njoerd114/todosync/internal/store"
)

var testOwner = uuid.MustParse("0b1c2d3e-4f50-4617-8283-94a5b6c7d8e9")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock transport ----------------------------------------------------------

type call struct {
	Method string
	Path   string
	Body   json.RawMessage
}

// fakeTransport records every request and answers through respond. A string
// response is used as raw JSON; anything else is marshalled.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []call
	respond func(c call) (any, error)
}

func (f *fakeTransport) Do(_ context.Context, method, path string, in, out any) error {
	c := call{Method: method, Path: path}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		c.Body = data
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if f.respond == nil {
		return nil
	}
	resp, err := f.respond(c)
	if err != nil || resp == nil || out == nil {
		return err
	}
	var data []byte
	if s, ok := resp.(string); ok {
		data = []byte(s)
	} else if data, err = json.Marshal(resp); err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeTransport) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// pushedItems decodes the array under key from a recorded request body.
func pushedItems(c call, key string) []map[string]any {
	var env map[string][]map[string]any
	_ = json.Unmarshal(c.Body, &env)
	return env[key]
}

// --- Fixtures ----------------------------------------------------------------

var t0 = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func newTodoStore() *store.Store[*model.Todo] {
	return store.New[*model.Todo]()
}

func cleanTodo(title string, updated time.Time) *model.Todo {
	td := model.NewTodo(testOwner, title)
	td.Dirty = model.Clean
	td.CreatedAt = updated
	td.UpdatedAt = updated
	return td
}

func insertTodo(s *store.Store[*model.Todo], td *model.Todo) int64 {
	id, err := s.Insert(td)
	if err != nil {
		panic(err)
	}
	return id
}
