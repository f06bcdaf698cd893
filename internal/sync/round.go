package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/njoerd114/todosync/internal/entity"
	"github.com/njoerd114/todosync/internal/store"
)

// round runs one attempt on its own goroutine and commits the outcome.
func (c *Coordinator) round(ctx context.Context, gen uint64, dir Direction) {
	ctx, span := c.inst.startRound(ctx, c.Kind(), dir, gen)
	defer span.End()

	out := c.execute(ctx, gen, dir)
	out.Kind, out.Direction, out.Generation = c.Kind(), dir, gen
	c.inst.recordRound(ctx, span, out)

	c.finish(ctx, gen, out)
}

// execute runs the fetch, merge and push phases. It never mutates the store
// once gen has been superseded.
func (c *Coordinator) execute(ctx context.Context, gen uint64, dir Direction) Outcome {
	var stats Stats
	fail := func(err error) Outcome {
		res, msg := classify(err)
		c.log.Warn("sync round failed", "result", res, "error", err)
		return Outcome{Result: res, Message: msg, Stats: stats}
	}
	stale := Outcome{Result: UnknownError, Message: "cancelled"}

	if dir != UploadOnly {
		c.progress(gen, 25, "fetching")
		snap, err := c.adapter.Fetch(ctx)
		if err != nil {
			return fail(err)
		}
		stats.Fetched = snap.Len()

		opts := entity.MergeOptions{Policy: c.opts.Policy, Prune: dir == DownloadOnly}
		if !c.withCurrent(gen, func() { stats.Merge = c.adapter.Merge(snap, opts) }) {
			return stale
		}
		c.progress(gen, 50, "merged")
	}

	if dir == DownloadOnly {
		c.progress(gen, 100, "done")
		return Outcome{Result: Success, Message: summarize(stats), Stats: stats}
	}

	var pending [][]store.Ref
	if !c.withCurrent(gen, func() { pending = entity.Partition(c.adapter.Pending(), c.adapter.BatchLimit()) }) {
		return stale
	}
	if len(pending) == 0 {
		c.progress(gen, 100, "done")
		msg := "nothing to push"
		if dir == Bidirectional {
			msg = summarize(stats) + "; nothing to push"
		}
		return Outcome{Result: Success, Message: msg, Stats: stats}
	}

	n := len(pending)
	for k, batch := range pending {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		c.progress(gen, 75+20*k/n, fmt.Sprintf("pushing batch %d of %d", k+1, n))

		ack, err := c.adapter.Push(ctx, batch)
		if err != nil {
			return fail(err)
		}
		if len(ack.Sent) == 0 {
			continue
		}
		stats.Batches++
		stats.Pushed += len(ack.Sent)

		var as entity.AckStats
		if !c.withCurrent(gen, func() { as = c.adapter.Acknowledge(ack) }) {
			return stale
		}
		stats.Ack.Add(as)
		c.log.Debug("batch acknowledged", "batch", k+1, "of", n,
			"accepted", as.Accepted, "purged", as.Purged, "rejected", as.Rejected, "stale", as.Stale)
	}

	c.progress(gen, 100, "done")
	return Outcome{Result: Success, Message: summarize(stats), Stats: stats}
}

// summarize renders the non-zero counters of a round for the user.
func summarize(s Stats) string {
	var parts []string
	add := func(n int, what string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, what))
		}
	}
	add(s.Merge.Inserted, "new")
	add(s.Merge.Overwritten, "updated")
	add(s.Merge.Pruned, "removed")
	add(s.Pushed, "pushed")
	add(s.Ack.Rejected, "rejected by server")
	add(s.Ack.Stale, "changed during sync")
	if len(parts) == 0 {
		return "up to date"
	}
	return strings.Join(parts, ", ")
}
