package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Todo is a single task.
type Todo struct {
	Meta

	Title       string
	Description string

	// Category is the name of the category the todo is filed under. Empty
	// means DefaultCategoryName.
	Category string

	Important bool

	// Deadline is zero when the todo has no deadline.
	Deadline time.Time

	// Recurrence parameters are stored and synced verbatim. Evaluating them
	// is left to the presentation layer.
	RecurrenceInterval  int
	RecurrenceCount     int
	RecurrenceStartDate time.Time

	Completed   bool
	CompletedAt time.Time

	Trashed   bool
	TrashedAt time.Time
}

// NewTodo returns a todo created locally by owner, pending insertion.
func NewTodo(owner uuid.UUID, title string) *Todo {
	return &Todo{
		Meta: Meta{
			UUID:      uuid.New(),
			OwnerUUID: owner,
			Dirty:     PendingInsert,
		},
		Title:    title,
		Category: DefaultCategoryName,
	}
}

// Clone returns a copy that shares no memory with t.
func (t *Todo) Clone() *Todo {
	c := *t
	return &c
}

// Complete marks the todo done at the given time.
func (t *Todo) Complete(at time.Time) {
	t.Completed = true
	t.CompletedAt = at
}

// Reopen clears the completion flag.
func (t *Todo) Reopen() {
	t.Completed = false
	t.CompletedAt = time.Time{}
}

// Trash moves the todo to the recycle bin at the given time. Trashing is a
// payload edit, not a deletion; the record stays on the server.
func (t *Todo) Trash(at time.Time) {
	t.Trashed = true
	t.TrashedAt = at
}

// Restore brings the todo back out of the recycle bin.
func (t *Todo) Restore() {
	t.Trashed = false
	t.TrashedAt = time.Time{}
}

// ContentHash returns a deterministic SHA-256 hex digest of the identity and
// payload fields. Bookkeeping fields (LocalID, timestamps, dirty state) are
// excluded so that two copies of the same todo compare equal after a round
// trip through the wire format.
func (t *Todo) ContentHash() string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s|%s|", t.UUID, t.OwnerUUID)
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%t|", t.Title, t.Description, t.Category, t.Important)
	_, _ = fmt.Fprintf(h, "%s|%d|%d|%s|", formatHashTime(t.Deadline), t.RecurrenceInterval, t.RecurrenceCount,
		t.RecurrenceStartDate.Format(time.DateOnly))
	_, _ = fmt.Fprintf(h, "%t|%s|%t|%s", t.Completed, formatHashTime(t.CompletedAt), t.Trashed, formatHashTime(t.TrashedAt))
	return hex.EncodeToString(h.Sum(nil))
}

func formatHashTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
