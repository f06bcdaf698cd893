package sync

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/njoerd114/todosync/internal/auth"
	"github.com/njoerd114/todosync/internal/conflict"
	"github.com/njoerd114/todosync/internal/transport"
)

// Default auto-sync interval and its upper bound.
const (
	DefaultInterval = 30 * time.Minute
	MaxInterval     = 24 * time.Hour
)

// Options configures a [Coordinator].
type Options struct {
	// BaseURL is the server base URL. Rounds are refused while it is empty.
	BaseURL string

	// Policy resolves fetched records against local ones.
	Policy conflict.Policy

	// AutoSync enables the timer driven by [Coordinator.Run].
	AutoSync bool
	Interval time.Duration

	// Clock stamps the last successful sync. Nil means time.Now.
	Clock func() time.Time

	// Checkpoint runs after every round that was not cancelled, typically to
	// persist the record store.
	Checkpoint func(ctx context.Context) error
}

// Coordinator owns the sync lifecycle for one entity kind. Create one with
// [NewCoordinator].
//
// Lock order is emitMu, then mu, then the record store's own lock. emitMu
// serializes event delivery so observers see Started, Progress and
// Completed in order and never see progress from a cancelled round after its
// Completed event. Observers run with emitMu held and must not call back into
// the coordinator.
type Coordinator struct {
	adapter Adapter
	tokens  TokenSource
	states  StateStore
	opts    Options
	log     *slog.Logger
	inst    instruments

	emitMu sync.Mutex
	rounds sync.WaitGroup

	mu        sync.Mutex
	state     State
	gen       uint64
	dir       Direction
	cancel    context.CancelFunc
	done      chan Outcome
	lastSync  time.Time
	observers map[int]func(Event)
	nextObs   int

	auto        autoSync
	reconfigure chan struct{}
}

type autoSync struct {
	enabled  bool
	interval time.Duration
}

// NewCoordinator creates a coordinator driving adapter. states may be nil, in
// which case the last sync time is kept in memory only.
func NewCoordinator(adapter Adapter, tokens TokenSource, states StateStore, opts Options, logger *slog.Logger) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger = logger.With("kind", adapter.Kind())
	return &Coordinator{
		adapter:     adapter,
		tokens:      tokens,
		states:      states,
		opts:        opts,
		log:         logger,
		inst:        newInstruments(logger),
		observers:   make(map[int]func(Event)),
		auto:        autoSync{enabled: opts.AutoSync, interval: clampInterval(opts.Interval)},
		reconfigure: make(chan struct{}, 1),
	}
}

// Kind returns the entity kind this coordinator syncs.
func (c *Coordinator) Kind() string { return c.adapter.Kind() }

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generation returns the current sync generation. It increases every time a
// round starts or is cancelled.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// LastSync returns the time of the last successful round, falling back to
// the state store when no round has succeeded in this process.
func (c *Coordinator) LastSync(ctx context.Context) (time.Time, error) {
	c.mu.Lock()
	t := c.lastSync
	c.mu.Unlock()
	if !t.IsZero() || c.states == nil {
		return t, nil
	}
	return c.states.LastSync(ctx, c.Kind())
}

// Subscribe registers fn for lifecycle events and returns a function that
// removes it.
func (c *Coordinator) Subscribe(fn func(Event)) (cancel func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Sync starts a round and waits for its outcome.
func (c *Coordinator) Sync(ctx context.Context, dir Direction) Outcome {
	return <-c.Start(ctx, dir).Done
}

// Start requests a round in direction dir and returns without waiting for
// network I/O. The round runs until it finishes, ctx is cancelled, or
// [Coordinator.Cancel] is called. A request while a round is running is
// rejected with UnknownError and leaves the running round untouched.
func (c *Coordinator) Start(ctx context.Context, dir Direction) Ticket {
	return c.start(ctx, dir, true)
}

func (c *Coordinator) start(ctx context.Context, dir Direction, userInitiated bool) Ticket {
	if c.State() == Syncing {
		return c.reject(dir, "sync in progress", userInitiated)
	}
	if res, msg, ok := c.preconditions(ctx); !ok {
		return c.refuse(dir, res, msg)
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.state == Syncing {
		c.mu.Unlock()
		return c.rejectLocked(dir, "sync in progress", userInitiated)
	}
	c.gen++
	gen := c.gen
	roundCtx, cancel := context.WithCancel(ctx)
	done := make(chan Outcome, 1)
	c.state = Syncing
	c.dir = dir
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.log.Info("sync started", "direction", dir, "generation", gen)
	c.deliver(Event{Type: EventStarted, Kind: c.Kind(), Generation: gen})

	c.rounds.Add(1)
	go func() {
		defer c.rounds.Done()
		c.round(roundCtx, gen, dir)
	}()
	return Ticket{Generation: gen, Done: done}
}

// preconditions checks configuration and credentials without network I/O.
func (c *Coordinator) preconditions(ctx context.Context) (Result, string, bool) {
	if c.opts.BaseURL == "" {
		return UnknownError, "server URL is not configured", false
	}
	if c.adapter.Endpoint() == "" {
		return UnknownError, c.Kind() + " endpoint is not configured", false
	}
	if c.tokens == nil {
		return AuthError, "not authenticated", false
	}
	if _, err := c.tokens.Token(ctx); err != nil {
		return AuthError, err.Error(), false
	}
	return Success, "", true
}

// reject answers a request that arrived while a round was running. Timer
// requests are absorbed without an event.
func (c *Coordinator) reject(dir Direction, msg string, userInitiated bool) Ticket {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	return c.rejectLocked(dir, msg, userInitiated)
}

func (c *Coordinator) rejectLocked(dir Direction, msg string, userInitiated bool) Ticket {
	out := Outcome{Kind: c.Kind(), Direction: dir, Result: UnknownError, Message: msg}
	if userInitiated {
		c.log.Warn("sync request rejected", "reason", msg)
		c.deliver(Event{Type: EventCompleted, Kind: c.Kind(), Outcome: out})
	} else {
		c.log.Debug("auto-sync tick absorbed", "reason", msg)
	}
	return resolved(out)
}

// refuse reports a failed precondition. No round starts and the state is
// unchanged.
func (c *Coordinator) refuse(dir Direction, res Result, msg string) Ticket {
	out := Outcome{Kind: c.Kind(), Direction: dir, Result: res, Message: msg}
	c.log.Warn("sync refused", "result", res, "reason", msg)
	c.emitMu.Lock()
	c.deliver(Event{Type: EventCompleted, Kind: c.Kind(), Outcome: out})
	c.emitMu.Unlock()
	c.inst.countError(context.Background(), c.Kind(), res)
	return resolved(out)
}

func resolved(out Outcome) Ticket {
	done := make(chan Outcome, 1)
	done <- out
	return Ticket{Done: done}
}

// Cancel aborts the running round. The coordinator returns to Idle at once
// and reports UnknownError "cancelled"; whatever the round's goroutine still
// produces is discarded. It returns false when no round was running.
func (c *Coordinator) Cancel() bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.state != Syncing {
		c.mu.Unlock()
		return false
	}
	gen := c.gen
	c.gen++
	c.state = Idle
	cancel, done, dir := c.cancel, c.done, c.dir
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	cancel()
	out := Outcome{Kind: c.Kind(), Direction: dir, Generation: gen, Result: UnknownError, Message: "cancelled"}
	c.log.Info("sync cancelled", "generation", gen)
	c.deliver(Event{Type: EventCompleted, Kind: c.Kind(), Generation: gen, Outcome: out})
	done <- out
	return true
}

// Wait blocks until every round goroutine has returned, including those of
// cancelled rounds.
func (c *Coordinator) Wait() {
	c.rounds.Wait()
}

// withCurrent runs fn under the coordinator lock if gen is still the running
// round. It reports whether fn ran.
func (c *Coordinator) withCurrent(gen uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != Syncing {
		return false
	}
	fn()
	return true
}

func (c *Coordinator) current(gen uint64) bool {
	return c.withCurrent(gen, func() {})
}

func (c *Coordinator) progress(gen uint64, percent int, phase string) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if !c.current(gen) {
		return
	}
	c.log.Debug("sync progress", "percent", percent, "phase", phase)
	c.deliver(Event{Type: EventProgress, Kind: c.Kind(), Generation: gen, Percent: percent, Phase: phase})
}

// finish commits a round's outcome unless the round has been superseded.
func (c *Coordinator) finish(ctx context.Context, gen uint64, out Outcome) {
	if !c.current(gen) {
		c.log.Debug("discarding stale sync completion", "generation", gen, "result", out.Result)
		return
	}

	ctx = context.WithoutCancel(ctx)
	if c.opts.Checkpoint != nil {
		if err := c.opts.Checkpoint(ctx); err != nil {
			c.log.Error("checkpoint after sync", "error", err)
		}
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.gen != gen || c.state != Syncing {
		c.mu.Unlock()
		c.log.Debug("discarding stale sync completion", "generation", gen, "result", out.Result)
		return
	}
	c.state = Idle
	var stamp time.Time
	if out.Result == Success {
		stamp = c.opts.Clock()
		c.lastSync = stamp
	}
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	// Holding emitMu keeps Cancel out until the outcome is delivered, so the
	// persisted time always belongs to a round reported as successful.
	if !stamp.IsZero() && c.states != nil {
		if err := c.states.SetLastSync(ctx, c.Kind(), stamp); err != nil {
			c.log.Warn("persisting last sync time", "error", err)
		}
	}
	cancel()
	c.log.Info("sync completed", "generation", gen, "result", out.Result, "message", out.Message)
	c.deliver(Event{Type: EventCompleted, Kind: c.Kind(), Generation: gen, Outcome: out})
	done <- out
}

// deliver calls every observer with ev. The caller holds emitMu.
func (c *Coordinator) deliver(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// classify maps a round error to a result and user-facing message.
func classify(err error) (Result, string) {
	switch {
	case errors.Is(err, context.Canceled):
		return UnknownError, "cancelled"
	case transport.IsAuth(err), errors.Is(err, auth.ErrNotAuthenticated), errors.Is(err, auth.ErrTokenExpired):
		return AuthError, err.Error()
	case transport.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		return NetworkError, err.Error()
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return NetworkError, err.Error()
	}
	return UnknownError, err.Error()
}
