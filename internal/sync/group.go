package sync

import (
	"context"
	"errors"
	"sync"
)

// Group runs coordinators in order. Categories go first so todos referencing
// a new category find it on the server.
type Group struct {
	coords []*Coordinator
}

// NewGroup returns a group running coords in the given order.
func NewGroup(coords ...*Coordinator) *Group {
	return &Group{coords: coords}
}

// Coordinators returns the members in run order.
func (g *Group) Coordinators() []*Coordinator { return g.coords }

// Sync runs one round per coordinator, in order, and returns every outcome.
// An AuthError stops the sequence since later kinds would fail the same way.
func (g *Group) Sync(ctx context.Context, dir Direction) []Outcome {
	outs := make([]Outcome, 0, len(g.coords))
	for _, c := range g.coords {
		out := c.Sync(ctx, dir)
		outs = append(outs, out)
		if out.Result == AuthError || ctx.Err() != nil {
			break
		}
	}
	return outs
}

// Subscribe registers fn with every member.
func (g *Group) Subscribe(fn func(Event)) (cancel func()) {
	cancels := make([]func(), 0, len(g.coords))
	for _, c := range g.coords {
		cancels = append(cancels, c.Subscribe(fn))
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

// Cancel cancels every running member and reports whether any was running.
func (g *Group) Cancel() bool {
	cancelled := false
	for _, c := range g.coords {
		if c.Cancel() {
			cancelled = true
		}
	}
	return cancelled
}

// Wait waits for every member's round goroutines.
func (g *Group) Wait() {
	for _, c := range g.coords {
		c.Wait()
	}
}

// Run runs every member's auto-sync loop until ctx is cancelled.
func (g *Group) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, c := range g.coords {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
