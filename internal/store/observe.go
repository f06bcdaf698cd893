package store

import (
	"github.com/google/uuid"

	"github.com/njoerd114/todosync/internal/model"
)

// ChangeKind classifies a store mutation.
type ChangeKind int

const (
	ChangeInserted ChangeKind = iota
	ChangeUpdated
	ChangeDeleted // soft delete, record is now PendingDelete
	ChangePurged  // physically removed
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInserted:
		return "inserted"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return "purged"
	}
}

// Change describes a single committed mutation.
type Change struct {
	Kind    ChangeKind
	LocalID int64
	UUID    uuid.UUID
	Dirty   model.DirtyState
}

func changeOf(kind ChangeKind, m *model.Meta) Change {
	return Change{Kind: kind, LocalID: m.LocalID, UUID: m.UUID, Dirty: m.Dirty}
}

// Subscribe registers fn to be called after every committed mutation. Calls
// happen on the mutating goroutine after the store lock is released, so fn
// may read from the store. The returned function removes the subscription.
func (s *Store[R]) Subscribe(fn func(Change)) (cancel func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Store[R]) notify(ch Change) {
	s.obsMu.Lock()
	fns := make([]func(Change), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}
