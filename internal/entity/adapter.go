// Package entity translates between the record stores and the todo service's
// wire format. One [Adapter] exists per entity kind; it fetches the remote
// set, merges it through the conflict resolver, and pushes dirty records in
// batches no larger than the server's limit.
//
// The adapter never keeps record pointers between calls. Push resolves each
// [store.Ref] against the store at the moment it encodes the batch, and
// Acknowledge goes back through the store by identity.
package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/njoerd114/todosync/internal/conflict"
	"github.com/njoerd114/todosync/internal/model"
	"github.com/njoerd114/todosync/internal/store"
	"github.com/njoerd114/todosync/internal/transport"
)

// DefaultBatchLimit is the server's default per-request item limit.
const DefaultBatchLimit = 100

// Transport is the subset of [transport.Client] the adapter uses. Defining it
// here allows fake servers in tests.
type Transport interface {
	Do(ctx context.Context, method, path string, in, out any) error
}

// Config describes one entity endpoint.
type Config struct {
	// Endpoint is the API path relative to the server base URL.
	Endpoint string

	// BatchLimit is the maximum number of records per push request.
	// Zero selects DefaultBatchLimit.
	BatchLimit int

	// Owner is the authenticated user. Fetched records owned by someone else
	// are dropped; records without an owner are assigned to Owner.
	Owner uuid.UUID
}

// Source says where imported records come from and therefore which dirty
// state they start in.
type Source int

const (
	// SourceServer records are Clean: the server already has them.
	SourceServer Source = iota
	// SourceLocal records (a local backup) are PendingInsert so they are
	// pushed on the next sync.
	SourceLocal
)

// MergeOptions controls how a fetched or imported set is applied.
type MergeOptions struct {
	Policy conflict.Policy

	// Prune removes Clean local records absent from the incoming set. Only
	// download-only syncs set it.
	Prune bool
}

// MergeStats summarises a merge.
type MergeStats struct {
	Received    int
	Inserted    int
	Overwritten int
	Skipped     int
	Pruned      int
	Failed      int
}

// AckStats summarises the acknowledgment of one pushed batch.
type AckStats struct {
	Accepted int // now Clean
	Purged   int // PendingDelete records removed
	Rejected int // reported in summary.errors, still dirty
	Stale    int // edited while in flight, still dirty
	Missing  int // removed locally while in flight
}

// Add accumulates o into s.
func (s *AckStats) Add(o AckStats) {
	s.Accepted += o.Accepted
	s.Purged += o.Purged
	s.Rejected += o.Rejected
	s.Stale += o.Stale
	s.Missing += o.Missing
}

// Snapshot is the decoded result of a fetch, opaque outside this package.
type Snapshot interface {
	Len() int
}

type snapshot[R any] struct {
	records []R
}

func (s *snapshot[R]) Len() int { return len(s.records) }

// Ack correlates a push response with the refs that were actually sent.
// Summary error indices refer to positions in Sent.
type Ack struct {
	Sent    []store.Ref
	Summary *transport.Summary
}

// Adapter syncs one entity kind. Create one with [NewTodoAdapter] or
// [NewCategoryAdapter].
type Adapter[R store.Record[R]] struct {
	cfg   Config
	store *store.Store[R]
	tr    Transport
	codec Codec[R]
	log   *slog.Logger

	// match finds a local counterpart for an incoming record whose uuid is
	// unknown. Nil means uuid matching only.
	match func(st *store.Store[R], in R) (R, bool)
}

func newAdapter[R store.Record[R]](st *store.Store[R], tr Transport, codec Codec[R], cfg Config, logger *slog.Logger) *Adapter[R] {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	return &Adapter[R]{
		cfg:   cfg,
		store: st,
		tr:    tr,
		codec: codec,
		log:   logger.With("kind", codec.Collection()),
	}
}

// NewTodoAdapter creates the adapter for todos.
func NewTodoAdapter(st *store.Store[*model.Todo], tr Transport, cfg Config, logger *slog.Logger) *Adapter[*model.Todo] {
	return newAdapter(st, tr, Codec[*model.Todo](TodoCodec{}), cfg, logger)
}

// Kind returns the entity collection name, e.g. "todos".
func (a *Adapter[R]) Kind() string { return a.codec.Collection() }

// Endpoint returns the configured API path.
func (a *Adapter[R]) Endpoint() string { return a.cfg.Endpoint }

// BatchLimit returns the per-request item limit.
func (a *Adapter[R]) BatchLimit() int { return a.cfg.BatchLimit }

// Store returns the backing record store.
func (a *Adapter[R]) Store() *store.Store[R] { return a.store }

// Fetch downloads the full remote set for the authenticated owner. Records
// that fail to decode or belong to another owner are dropped and logged.
func (a *Adapter[R]) Fetch(ctx context.Context) (Snapshot, error) {
	var env map[string]json.RawMessage
	if err := a.tr.Do(ctx, http.MethodGet, a.cfg.Endpoint, nil, &env); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", a.Kind(), err)
	}
	records, err := a.decodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	a.log.Debug("fetched remote records", "count", len(records))
	return &snapshot[R]{records: records}, nil
}

// Merge applies a fetched snapshot to the store. Every record starts Clean
// and is resolved against its local counterpart with opts.Policy.
func (a *Adapter[R]) Merge(s Snapshot, opts MergeOptions) MergeStats {
	snap, ok := s.(*snapshot[R])
	if !ok {
		a.log.Error("merge called with a foreign snapshot", "type", fmt.Sprintf("%T", s))
		return MergeStats{}
	}
	return a.merge(snap.records, SourceServer, opts)
}

func (a *Adapter[R]) merge(records []R, source Source, opts MergeOptions) MergeStats {
	stats := MergeStats{Received: len(records)}
	keep := make(map[uuid.UUID]struct{}, len(records))

	for _, in := range records {
		m := in.Base()
		m.LocalID = 0
		m.Dirty = model.Clean
		if source == SourceLocal {
			m.Dirty = model.PendingInsert
		}
		keep[m.UUID] = struct{}{}

		existing, found := a.store.Lookup(m.OwnerUUID, m.UUID)
		if !found && a.match != nil {
			existing, found = a.match(a.store, in)
		}
		var em *model.Meta
		if found {
			em = existing.Base()
			// A name match keeps its local uuid unless overwritten.
			keep[em.UUID] = struct{}{}
		}

		action := conflict.Resolve(em, m, opts.Policy)
		if action == conflict.ActionOverwrite && unchanged(existing, in) {
			action = conflict.ActionSkip
		}
		switch action {
		case conflict.ActionInsert:
			if _, err := a.store.Insert(in); err != nil {
				stats.Failed++
				a.log.Warn("inserting incoming record", "uuid", m.UUID, "error", err)
				continue
			}
			stats.Inserted++
		case conflict.ActionOverwrite:
			if err := a.store.Overwrite(em.LocalID, in); err != nil {
				stats.Failed++
				a.log.Warn("overwriting local record", "uuid", m.UUID, "local_id", em.LocalID, "error", err)
				continue
			}
			stats.Overwritten++
		default:
			stats.Skipped++
		}
		a.log.Debug("merged record", "uuid", m.UUID, "action", action)
	}

	if opts.Prune {
		stats.Pruned = a.store.Prune(keep)
	}
	return stats
}

// unchanged reports whether a Clean local record already equals incoming,
// payload and timestamps alike, so overwriting it would be a no-op.
func unchanged[R store.Record[R]](existing, incoming R) bool {
	em, im := existing.Base(), incoming.Base()
	if em.Dirty != model.Clean || em.UUID != im.UUID ||
		!em.UpdatedAt.Equal(im.UpdatedAt) || !em.CreatedAt.Equal(im.CreatedAt) {
		return false
	}
	eh, ok := any(existing).(hasher)
	if !ok {
		return false
	}
	ih, ok := any(incoming).(hasher)
	return ok && eh.ContentHash() == ih.ContentHash()
}

// hasher is implemented by records that can digest their payload.
type hasher interface {
	ContentHash() string
}

// Pending returns identity snapshots of every dirty record.
func (a *Adapter[R]) Pending() []store.Ref {
	return a.store.DirtyRecords()
}

// Push sends one batch. Refs whose record disappeared since the snapshot are
// left out of the request; if none remain no request is made.
func (a *Adapter[R]) Push(ctx context.Context, batch []store.Ref) (Ack, error) {
	items := make([]any, 0, len(batch))
	sent := make([]store.Ref, 0, len(batch))
	for _, ref := range batch {
		rec, ok := a.store.Get(ref.LocalID)
		if !ok || rec.Base().UUID != ref.UUID {
			continue
		}
		items = append(items, a.codec.Encode(rec))
		sent = append(sent, ref)
	}
	if len(items) == 0 {
		return Ack{}, nil
	}

	body := map[string]any{a.Kind(): items}
	var resp transport.PushResponse
	if err := a.tr.Do(ctx, http.MethodPost, a.cfg.Endpoint, body, &resp); err != nil {
		return Ack{}, fmt.Errorf("pushing %d %s: %w", len(items), a.Kind(), err)
	}
	if resp.Summary != nil {
		a.log.Debug("batch acknowledged",
			"created", resp.Summary.Created,
			"updated", resp.Summary.Updated,
			"errors", len(resp.Summary.Errors),
		)
	}
	return Ack{Sent: sent, Summary: resp.Summary}, nil
}

// Acknowledge applies a batch response to the store. Records whose index is
// in the summary's error list stay dirty; the rest are marked Clean, and
// those pending deletion are purged.
func (a *Adapter[R]) Acknowledge(ack Ack) AckStats {
	rejected := make(map[int]string)
	if ack.Summary != nil {
		for _, e := range ack.Summary.Errors {
			if e.Index < 0 || e.Index >= len(ack.Sent) {
				a.log.Warn("server reported error for unknown batch index", "index", e.Index, "error", e.Error)
				continue
			}
			rejected[e.Index] = e.Error
		}
	}

	var stats AckStats
	for i, ref := range ack.Sent {
		if msg, bad := rejected[i]; bad {
			stats.Rejected++
			a.log.Warn("server rejected record", "uuid", ref.UUID, "index", i, "error", msg)
			continue
		}
		switch a.store.Acknowledge(ref) {
		case store.AckCleaned:
			stats.Accepted++
		case store.AckPurged:
			stats.Purged++
		case store.AckStale:
			stats.Stale++
		case store.AckMissing:
			stats.Missing++
		}
	}
	return stats
}

func (a *Adapter[R]) decodeEnvelope(env map[string]json.RawMessage) ([]R, error) {
	raw, ok := env[a.Kind()]
	if !ok {
		return nil, fmt.Errorf("decoding %s response: missing %q array", a.Kind(), a.Kind())
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", a.Kind(), err)
	}

	records := make([]R, 0, len(items))
	for i, item := range items {
		rec, err := a.codec.Decode(item)
		if err != nil {
			a.log.Warn("skipping undecodable record", "index", i, "error", err)
			continue
		}
		m := rec.Base()
		if m.OwnerUUID == uuid.Nil {
			m.OwnerUUID = a.cfg.Owner
		}
		if a.cfg.Owner != uuid.Nil && m.OwnerUUID != a.cfg.Owner {
			a.log.Warn("skipping record owned by another user", "uuid", m.UUID, "owner", m.OwnerUUID)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
