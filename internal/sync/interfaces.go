// Package sync implements the Sync Coordinator: the state machine that drives
// one entity adapter through fetch, merge and batched push rounds.
//
// The package contains two main components:
//
//   - [Coordinator] runs rounds, guards them with a generation counter and
//     reports every attempt through exactly one Completed [Event].
//   - [Group] runs several coordinators in dependency order, categories
//     before todos.
//
// All network I/O happens on a round goroutine. Store mutations arising from
// a round (merge and acknowledgment) are applied under the coordinator lock
// after checking that the round's generation is still current, so the
// results of a cancelled round are dropped without touching the store.
package sync

import (
	"context"
	"time"

	"github.com/njoerd114/todosync/internal/entity"
	"github.com/njoerd114/todosync/internal/store"
)

// Adapter is the per-kind sync surface the coordinator drives.
// Implemented by [entity.Adapter] and [entity.CategoryAdapter].
type Adapter interface {
	Kind() string
	Endpoint() string
	BatchLimit() int
	Fetch(ctx context.Context) (entity.Snapshot, error)
	Merge(s entity.Snapshot, opts entity.MergeOptions) entity.MergeStats
	Pending() []store.Ref
	Push(ctx context.Context, batch []store.Ref) (entity.Ack, error)
	Acknowledge(ack entity.Ack) entity.AckStats
}

// TokenSource provides the bearer token checked before a round starts.
// Implemented by [auth.Static] and [auth.File].
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StateStore persists the last successful sync time per kind.
// Implemented by [state.Store].
type StateStore interface {
	LastSync(ctx context.Context, kind string) (time.Time, error)
	SetLastSync(ctx context.Context, kind string, t time.Time) error
}
