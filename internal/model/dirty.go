// Package model defines the records shared by the store, the entity adapters
// and the sync coordinator.
package model

import "fmt"

// DirtyState describes how a record differs from the last state the server
// acknowledged. The integer values match the "synced" column of the wire
// format and the local database.
type DirtyState int

const (
	// Clean records match the server.
	Clean DirtyState = 0
	// PendingInsert records were created locally and never reached the server.
	PendingInsert DirtyState = 1
	// PendingUpdate records exist on the server and were edited locally.
	PendingUpdate DirtyState = 2
	// PendingDelete records were deleted locally. The state is terminal until
	// the server acknowledges the deletion.
	PendingDelete DirtyState = 3
)

// String returns the human-readable label for the state.
func (d DirtyState) String() string {
	switch d {
	case Clean:
		return "clean"
	case PendingInsert:
		return "pending-insert"
	case PendingUpdate:
		return "pending-update"
	case PendingDelete:
		return "pending-delete"
	default:
		return fmt.Sprintf("DirtyState(%d)", int(d))
	}
}

// IsDirty reports whether the record still has to be pushed.
func (d DirtyState) IsDirty() bool { return d != Clean }

// ParseDirtyState converts the stored integer form back into a DirtyState.
func ParseDirtyState(v int) (DirtyState, error) {
	d := DirtyState(v)
	switch d {
	case Clean, PendingInsert, PendingUpdate, PendingDelete:
		return d, nil
	}
	return Clean, fmt.Errorf("invalid dirty state %d", v)
}

// Mutation is a local change applied to a record.
type Mutation int

const (
	// MutationEdit changes payload fields.
	MutationEdit Mutation = iota
	// MutationDelete removes the record.
	MutationDelete
)

// Escalate returns the dirty state a record moves to when m is applied to a
// record currently in state cur. It is the only place that encodes the
// escalation order:
//
//	Clean         + edit   → PendingUpdate
//	PendingInsert + edit   → PendingInsert (never downgraded)
//	PendingUpdate + edit   → PendingUpdate
//	PendingDelete + edit   → PendingDelete (terminal)
//	any           + delete → PendingDelete
func Escalate(cur DirtyState, m Mutation) DirtyState {
	if m == MutationDelete {
		return PendingDelete
	}
	switch cur {
	case PendingInsert, PendingUpdate, PendingDelete:
		return cur
	default:
		return PendingUpdate
	}
}
