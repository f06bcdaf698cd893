// Package store holds the authoritative in-memory set of records for one
// entity kind.
//
// The store is an arena: it owns every record and hands out clones. Other
// components keep only a [Ref] (local id, uuid, revision) and resolve it
// again at the point of use, so nothing outside the store can hold a pointer
// that outlives a mutation.
package store

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/todosync/internal/model"
)

var (
	// ErrNotFound is returned for stale local ids and for records already
	// pending deletion.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateIdentity is returned when a uuid already exists for the owner.
	ErrDuplicateIdentity = errors.New("duplicate record identity")
	// ErrProtected is returned when deleting a protected record.
	ErrProtected = errors.New("record is protected")
	// ErrNotPurgeable is returned when purging a record the server still
	// knows about.
	ErrNotPurgeable = errors.New("record is not purgeable")
)

// Record is implemented by pointer record types such as *model.Todo.
type Record[R any] interface {
	Base() *model.Meta
	Clone() R
}

// Ref is a snapshot of a record's identity taken by [Store.DirtyRecords].
// Revision changes on every mutation of the record.
type Ref struct {
	LocalID  int64
	UUID     uuid.UUID
	Dirty    model.DirtyState
	Revision uint64
}

// AckOutcome reports what [Store.Acknowledge] did with a record.
type AckOutcome int

const (
	// AckCleaned means the record is now Clean.
	AckCleaned AckOutcome = iota
	// AckPurged means a PendingDelete record was removed.
	AckPurged
	// AckStale means the record changed after the ref was taken and stays dirty.
	AckStale
	// AckMissing means the record no longer exists.
	AckMissing
)

func (a AckOutcome) String() string {
	switch a {
	case AckCleaned:
		return "cleaned"
	case AckPurged:
		return "purged"
	case AckStale:
		return "stale"
	default:
		return "missing"
	}
}

type key struct {
	owner uuid.UUID
	id    uuid.UUID
}

type entry[R any] struct {
	rec R
	rev uint64
}

// Store is a mutex-guarded record arena with O(1) lookup by local id and by
// (owner, uuid). The zero value is not usable; create one with [New].
type Store[R Record[R]] struct {
	mu      sync.Mutex
	nextID  int64
	byLocal map[int64]*entry[R]
	byKey   map[key]int64

	now     func() time.Time
	protect func(R) bool

	obsMu     sync.Mutex
	observers map[int]func(Change)
	nextObs   int
}

// Option configures a Store.
type Option[R Record[R]] func(*Store[R])

// WithClock overrides the clock used to stamp CreatedAt and UpdatedAt.
func WithClock[R Record[R]](now func() time.Time) Option[R] {
	return func(s *Store[R]) { s.now = now }
}

// WithProtect marks records for which fn returns true as undeletable.
func WithProtect[R Record[R]](fn func(R) bool) Option[R] {
	return func(s *Store[R]) { s.protect = fn }
}

// stamp reads the clock at model.TimePrecision.
func (s *Store[R]) stamp() time.Time {
	return s.now().UTC().Truncate(model.TimePrecision)
}

// New creates an empty store.
func New[R Record[R]](opts ...Option[R]) *Store[R] {
	s := &Store[R]{
		byLocal:   make(map[int64]*entry[R]),
		byKey:     make(map[key]int64),
		now:       model.Now,
		protect:   func(R) bool { return false },
		observers: make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert stores a copy of r and returns its local id. A nil UUID is replaced
// with a fresh one and zero timestamps are stamped with the store clock. A
// non-zero LocalID that is still free is kept, so records loaded from disk
// retain their ids.
func (s *Store[R]) Insert(r R) (int64, error) {
	rec := r.Clone()
	m := rec.Base()
	if m.UUID == uuid.Nil {
		m.UUID = uuid.New()
	}

	s.mu.Lock()
	k := key{m.OwnerUUID, m.UUID}
	if _, dup := s.byKey[k]; dup {
		s.mu.Unlock()
		return 0, fmt.Errorf("inserting %s: %w", m.UUID, ErrDuplicateIdentity)
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.stamp()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if _, taken := s.byLocal[m.LocalID]; m.LocalID <= 0 || taken {
		s.nextID++
		m.LocalID = s.nextID
	} else if m.LocalID > s.nextID {
		s.nextID = m.LocalID
	}

	s.byLocal[m.LocalID] = &entry[R]{rec: rec, rev: 1}
	s.byKey[k] = m.LocalID
	ch := changeOf(ChangeInserted, m)
	s.mu.Unlock()

	s.notify(ch)
	return ch.LocalID, nil
}

// Update applies mutate to a working copy of the record and commits it. The
// mutator may change payload fields only; identity and creation time are
// restored afterwards. The dirty state escalates per [model.Escalate] and
// UpdatedAt is stamped with the store clock.
//
// Records pending deletion reject edits with ErrNotFound.
func (s *Store[R]) Update(localID int64, mutate func(R)) error {
	s.mu.Lock()
	e, ok := s.byLocal[localID]
	if !ok || e.rec.Base().Dirty == model.PendingDelete {
		s.mu.Unlock()
		return fmt.Errorf("updating local id %d: %w", localID, ErrNotFound)
	}

	old := e.rec.Base()
	work := e.rec.Clone()
	mutate(work)

	m := work.Base()
	m.LocalID = old.LocalID
	m.UUID = old.UUID
	m.OwnerUUID = old.OwnerUUID
	m.CreatedAt = old.CreatedAt
	m.Dirty = model.Escalate(old.Dirty, model.MutationEdit)
	m.UpdatedAt = s.stamp()

	e.rec = work
	e.rev++
	ch := changeOf(ChangeUpdated, m)
	s.mu.Unlock()

	s.notify(ch)
	return nil
}

// SoftDelete marks the record PendingDelete without removing it. Deleting a
// record that is already pending deletion is a no-op.
func (s *Store[R]) SoftDelete(localID int64) error {
	s.mu.Lock()
	e, ok := s.byLocal[localID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("deleting local id %d: %w", localID, ErrNotFound)
	}
	if s.protect(e.rec) {
		s.mu.Unlock()
		return fmt.Errorf("deleting local id %d: %w", localID, ErrProtected)
	}
	m := e.rec.Base()
	if m.Dirty == model.PendingDelete {
		s.mu.Unlock()
		return nil
	}
	m.Dirty = model.Escalate(m.Dirty, model.MutationDelete)
	m.UpdatedAt = s.stamp()
	e.rev++
	ch := changeOf(ChangeDeleted, m)
	s.mu.Unlock()

	s.notify(ch)
	return nil
}

// Delete is the user-facing deletion: a record that never reached the server
// is purged at once, anything else is soft-deleted.
func (s *Store[R]) Delete(localID int64) error {
	s.mu.Lock()
	e, ok := s.byLocal[localID]
	neverSynced := ok && e.rec.Base().Dirty == model.PendingInsert && !s.protect(e.rec)
	s.mu.Unlock()

	if neverSynced {
		err := s.Purge(localID)
		if !errors.Is(err, ErrNotPurgeable) {
			return err
		}
		// Acknowledged in between; fall through to a soft delete.
	}
	return s.SoftDelete(localID)
}

// Purge physically removes a record. Only records pending deletion or never
// synced (PendingInsert) can be purged.
func (s *Store[R]) Purge(localID int64) error {
	s.mu.Lock()
	e, ok := s.byLocal[localID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("purging local id %d: %w", localID, ErrNotFound)
	}
	m := e.rec.Base()
	if (m.Dirty != model.PendingDelete && m.Dirty != model.PendingInsert) || s.protect(e.rec) {
		s.mu.Unlock()
		return fmt.Errorf("purging local id %d (%v): %w", localID, m.Dirty, ErrNotPurgeable)
	}
	ch := s.removeLocked(localID, e)
	s.mu.Unlock()

	s.notify(ch)
	return nil
}

// Overwrite replaces the record at localID with a copy of r, keeping the
// local id. The uuid may change (for instance when a category was matched by
// name); the new uuid must not collide with another record of the owner.
func (s *Store[R]) Overwrite(localID int64, r R) error {
	rec := r.Clone()
	m := rec.Base()

	s.mu.Lock()
	e, ok := s.byLocal[localID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("overwriting local id %d: %w", localID, ErrNotFound)
	}
	old := e.rec.Base()
	oldKey := key{old.OwnerUUID, old.UUID}
	newKey := key{m.OwnerUUID, m.UUID}
	if newKey != oldKey {
		if _, dup := s.byKey[newKey]; dup {
			s.mu.Unlock()
			return fmt.Errorf("overwriting local id %d with %s: %w", localID, m.UUID, ErrDuplicateIdentity)
		}
		delete(s.byKey, oldKey)
		s.byKey[newKey] = localID
	}
	m.LocalID = localID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = old.CreatedAt
	}
	e.rec = rec
	e.rev++
	ch := changeOf(ChangeUpdated, m)
	s.mu.Unlock()

	s.notify(ch)
	return nil
}

// DirtyRecords returns identity snapshots of every non-Clean record in local
// id order. The result is owned by the caller and unaffected by later
// mutations.
func (s *Store[R]) DirtyRecords() []Ref {
	s.mu.Lock()
	defer s.mu.Unlock()

	var refs []Ref
	for _, id := range s.sortedIDsLocked() {
		e := s.byLocal[id]
		m := e.rec.Base()
		if !m.Dirty.IsDirty() {
			continue
		}
		refs = append(refs, Ref{LocalID: id, UUID: m.UUID, Dirty: m.Dirty, Revision: e.rev})
	}
	return refs
}

// Acknowledge records the server's acceptance of ref. A record that changed
// since ref was taken stays dirty so the newer edit is pushed next round.
func (s *Store[R]) Acknowledge(ref Ref) AckOutcome {
	s.mu.Lock()
	e, ok := s.byLocal[ref.LocalID]
	if !ok || e.rec.Base().UUID != ref.UUID {
		s.mu.Unlock()
		return AckMissing
	}
	if e.rev != ref.Revision {
		s.mu.Unlock()
		return AckStale
	}

	m := e.rec.Base()
	var ch Change
	outcome := AckCleaned
	if m.Dirty == model.PendingDelete {
		ch = s.removeLocked(ref.LocalID, e)
		outcome = AckPurged
	} else {
		m.Dirty = model.Clean
		e.rev++
		ch = changeOf(ChangeUpdated, m)
	}
	s.mu.Unlock()

	s.notify(ch)
	return outcome
}

// Prune removes Clean, unprotected records whose uuid is not in keep and
// returns how many were removed. Dirty records are never pruned.
func (s *Store[R]) Prune(keep map[uuid.UUID]struct{}) int {
	s.mu.Lock()
	var changes []Change
	for _, id := range s.sortedIDsLocked() {
		e := s.byLocal[id]
		m := e.rec.Base()
		if m.Dirty.IsDirty() || s.protect(e.rec) {
			continue
		}
		if _, ok := keep[m.UUID]; ok {
			continue
		}
		changes = append(changes, s.removeLocked(id, e))
	}
	s.mu.Unlock()

	for _, ch := range changes {
		s.notify(ch)
	}
	return len(changes)
}

// Get returns a copy of the record with the given local id.
func (s *Store[R]) Get(localID int64) (R, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byLocal[localID]
	if !ok {
		var zero R
		return zero, false
	}
	return e.rec.Clone(), true
}

// Lookup returns a copy of the record with the given owner and uuid.
func (s *Store[R]) Lookup(owner, id uuid.UUID) (R, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	localID, ok := s.byKey[key{owner, id}]
	if !ok {
		var zero R
		return zero, false
	}
	return s.byLocal[localID].rec.Clone(), true
}

// Find returns a copy of the first record, in local id order, matching pred.
// pred runs with the store locked and must not call back into the store.
func (s *Store[R]) Find(pred func(R) bool) (R, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.sortedIDsLocked() {
		if rec := s.byLocal[id].rec; pred(rec) {
			return rec.Clone(), true
		}
	}
	var zero R
	return zero, false
}

// All returns copies of every record in local id order.
func (s *Store[R]) All() []R {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]R, 0, len(s.byLocal))
	for _, id := range s.sortedIDsLocked() {
		out = append(out, s.byLocal[id].rec.Clone())
	}
	return out
}

// Len returns the number of records, including those pending deletion.
func (s *Store[R]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byLocal)
}

// Counts returns the number of records in each dirty state.
func (s *Store[R]) Counts() map[model.DirtyState]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.DirtyState]int, 4)
	for _, e := range s.byLocal {
		counts[e.rec.Base().Dirty]++
	}
	return counts
}

func (s *Store[R]) removeLocked(localID int64, e *entry[R]) Change {
	m := e.rec.Base()
	delete(s.byLocal, localID)
	delete(s.byKey, key{m.OwnerUUID, m.UUID})
	return changeOf(ChangePurged, m)
}

func (s *Store[R]) sortedIDsLocked() []int64 {
	return slices.Sorted(maps.Keys(s.byLocal))
}
