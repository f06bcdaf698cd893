package sync

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/todosync/internal/entity"
	"github.com/njoerd114/todosync/internal/model"
	"github.com/njoerd114/todosync/internal/store"
	"github.com/njoerd114/todosync/internal/transport"
)

var (
	testOwner = uuid.MustParse("6f1e2d3c-4b5a-4968-8776-655443322110")
	t0        = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock token source -------------------------------------------------------

type fakeTokens struct {
	mu    sync.Mutex
	token string
	err   error
	calls int
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.token, f.err
}

// --- Mock state store --------------------------------------------------------

type fakeStates struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newFakeStates() *fakeStates {
	return &fakeStates{last: make(map[string]time.Time)}
}

func (f *fakeStates) LastSync(_ context.Context, kind string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[kind], nil
}

func (f *fakeStates) SetLastSync(_ context.Context, kind string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[kind] = t
	return nil
}

// --- Mock server -------------------------------------------------------------

type call struct {
	Method string
	Items  int
}

// fakeServer answers GET with the remote todo set and POST with a summary.
// When gate is set every call blocks until gate yields or is closed; unless
// ignoreCancel is set a cancelled context releases it early.
type fakeServer struct {
	mu       sync.Mutex
	calls    []call
	remote   []*model.Todo
	failGet  error
	failPush map[int]error          // 1-based push number
	reject   map[int][]int          // push number -> rejected indices
	onPush   func(n int, items int) // runs before the push returns

	gate         chan struct{}
	ignoreCancel bool
	entered      chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{entered: make(chan struct{}, 64)}
}

func (f *fakeServer) Do(ctx context.Context, method, _ string, in, out any) error {
	items := 0
	if in != nil {
		data, _ := json.Marshal(in)
		var env map[string][]json.RawMessage
		_ = json.Unmarshal(data, &env)
		items = len(env["todos"])
	}

	f.mu.Lock()
	f.calls = append(f.calls, call{Method: method, Items: items})
	pushNo := 0
	for _, c := range f.calls {
		if c.Method == http.MethodPost {
			pushNo++
		}
	}
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.entered <- struct{}{}:
	default:
	}
	if gate != nil {
		if f.ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch method {
	case http.MethodGet:
		if f.failGet != nil {
			return f.failGet
		}
		wire := make([]any, 0, len(f.remote))
		for _, td := range f.remote {
			wire = append(wire, entity.TodoCodec{}.Encode(td))
		}
		return roundTrip(map[string]any{"todos": wire}, out)
	case http.MethodPost:
		if f.onPush != nil {
			f.onPush(pushNo, items)
		}
		if err := f.failPush[pushNo]; err != nil {
			return err
		}
		summary := transport.Summary{Created: items}
		for _, idx := range f.reject[pushNo] {
			summary.Errors = append(summary.Errors, transport.ItemError{Index: idx, Error: "invalid"})
		}
		return roundTrip(transport.PushResponse{Summary: &summary}, out)
	}
	return nil
}

func (f *fakeServer) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeServer) count(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

func roundTrip(v, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// --- Event recorder ----------------------------------------------------------

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) count(typ EventType) int {
	n := 0
	for _, ev := range l.Events() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// --- Harness -----------------------------------------------------------------

type harness struct {
	store       *store.Store[*model.Todo]
	server      *fakeServer
	tokens      *fakeTokens
	states      *fakeStates
	events      *eventLog
	coord       *Coordinator
	checkpoints atomic.Int32
}

// newHarness wires a coordinator to a real todo adapter over a fakeServer.
func newHarness(t *testing.T, batchLimit int, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store:  store.New[*model.Todo](),
		server: newFakeServer(),
		tokens: &fakeTokens{token: "secret"},
		states: newFakeStates(),
		events: &eventLog{},
	}
	adapter := entity.NewTodoAdapter(h.store, h.server, entity.Config{
		Endpoint:   "/todo/todo_api.php",
		BatchLimit: batchLimit,
		Owner:      testOwner,
	}, discardLogger())

	opts := Options{
		BaseURL: "http://todo.test",
		Clock:   func() time.Time { return t0.Add(time.Hour) },
		Checkpoint: func(context.Context) error {
			h.checkpoints.Add(1)
			return nil
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.coord = NewCoordinator(adapter, h.tokens, h.states, opts, discardLogger())
	h.coord.Subscribe(h.events.record)
	t.Cleanup(func() {
		h.coord.Cancel()
		h.coord.Wait()
	})
	return h
}

func (h *harness) insert(t *testing.T, td *model.Todo) int64 {
	t.Helper()
	id, err := h.store.Insert(td)
	if err != nil {
		t.Fatalf("Insert: unexpected error: %v", err)
	}
	return id
}

func cleanTodo(title string, updated time.Time) *model.Todo {
	td := model.NewTodo(testOwner, title)
	td.Dirty = model.Clean
	td.CreatedAt = updated
	td.UpdatedAt = updated
	return td
}

func dirtyTodo(title string) *model.Todo {
	td := model.NewTodo(testOwner, title)
	td.CreatedAt = t0
	td.UpdatedAt = t0
	return td
}

// waitEntered waits until the server has received a call.
func waitEntered(t *testing.T, f *fakeServer) {
	t.Helper()
	select {
	case <-f.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a server call")
	}
}

func waitOutcome(t *testing.T, tk Ticket) Outcome {
	t.Helper()
	select {
	case out := <-tk.Done:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync outcome")
		return Outcome{}
	}
}
