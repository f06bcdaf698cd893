package model

import (
	"time"

	"github.com/google/uuid"
)

// TimePrecision is the resolution of record timestamps. It matches the wire
// format, so a timestamp survives an encode and decode unchanged.
const TimePrecision = time.Millisecond

// Now returns the current UTC time at TimePrecision.
func Now() time.Time {
	return time.Now().UTC().Truncate(TimePrecision)
}

// Meta holds the identity and bookkeeping fields every record carries.
type Meta struct {
	// LocalID is the surrogate key assigned by the record store. It is stable
	// for the lifetime of the process and never sent to the server.
	LocalID int64

	// UUID identifies the record across devices and sync rounds.
	UUID uuid.UUID

	// OwnerUUID identifies the owning user. UUIDs are unique within an owner.
	OwnerUUID uuid.UUID

	CreatedAt time.Time

	// UpdatedAt is the tie-breaker for last-writer-wins merges.
	UpdatedAt time.Time

	Dirty DirtyState
}

// Base returns the record's metadata. Records embed Meta, so Base is
// promoted onto *Todo and *Category.
func (m *Meta) Base() *Meta { return m }
