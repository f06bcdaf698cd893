package entity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/njoerd114/todosync/internal/model"
)

// Codec converts one record kind to and from its wire object.
type Codec[R any] interface {
	// Collection is the envelope key, e.g. "todos".
	Collection() string
	Encode(r R) any
	Decode(raw json.RawMessage) (R, error)
}

var errMissingUUID = errors.New("missing uuid")

// --- Todo --------------------------------------------------------------------

type todoWire struct {
	UUID                string    `json:"uuid"`
	UserUUID            string    `json:"user_uuid"`
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	Category            string    `json:"category"`
	Important           Bool      `json:"important"`
	Deadline            Timestamp `json:"deadline"`
	RecurrenceInterval  int       `json:"recurrenceInterval"`
	RecurrenceCount     int       `json:"recurrenceCount"`
	RecurrenceStartDate Date      `json:"recurrenceStartDate"`
	Completed           Bool      `json:"is_completed"`
	CompletedAt         Timestamp `json:"completed_at"`
	Trashed             Bool      `json:"is_trashed"`
	TrashedAt           Timestamp `json:"trashed_at"`
	CreatedAt           Timestamp `json:"created_at"`
	UpdatedAt           Timestamp `json:"updated_at"`
	Synced              int       `json:"synced"`
}

// TodoCodec is the wire codec for todos.
type TodoCodec struct{}

func (TodoCodec) Collection() string { return "todos" }

func (TodoCodec) Encode(t *model.Todo) any {
	return todoWire{
		UUID:                t.UUID.String(),
		UserUUID:            uuidString(t.OwnerUUID),
		Title:               t.Title,
		Description:         t.Description,
		Category:            t.Category,
		Important:           Bool(t.Important),
		Deadline:            Timestamp(t.Deadline),
		RecurrenceInterval:  t.RecurrenceInterval,
		RecurrenceCount:     t.RecurrenceCount,
		RecurrenceStartDate: Date(t.RecurrenceStartDate),
		Completed:           Bool(t.Completed),
		CompletedAt:         Timestamp(t.CompletedAt),
		Trashed:             Bool(t.Trashed),
		TrashedAt:           Timestamp(t.TrashedAt),
		CreatedAt:           Timestamp(t.CreatedAt),
		UpdatedAt:           Timestamp(t.UpdatedAt),
		Synced:              int(t.Dirty),
	}
}

func (TodoCodec) Decode(raw json.RawMessage) (*model.Todo, error) {
	var w todoWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decoding todo: %w", err)
	}
	id, owner, err := parseIdentity(w.UUID, w.UserUUID)
	if err != nil {
		return nil, fmt.Errorf("decoding todo %q: %w", w.Title, err)
	}
	category := w.Category
	if category == "" {
		category = model.DefaultCategoryName
	}
	return &model.Todo{
		Meta: model.Meta{
			UUID:      id,
			OwnerUUID: owner,
			CreatedAt: w.CreatedAt.Time(),
			UpdatedAt: w.UpdatedAt.Time(),
		},
		Title:               w.Title,
		Description:         w.Description,
		Category:            category,
		Important:           bool(w.Important),
		Deadline:            w.Deadline.Time(),
		RecurrenceInterval:  w.RecurrenceInterval,
		RecurrenceCount:     w.RecurrenceCount,
		RecurrenceStartDate: w.RecurrenceStartDate.Time(),
		Completed:           bool(w.Completed),
		CompletedAt:         w.CompletedAt.Time(),
		Trashed:             bool(w.Trashed),
		TrashedAt:           w.TrashedAt.Time(),
	}, nil
}

// --- Category ----------------------------------------------------------------

type categoryWire struct {
	ID        int64     `json:"id,omitempty"`
	UUID      string    `json:"uuid"`
	UserUUID  string    `json:"user_uuid"`
	Name      string    `json:"name"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
	Synced    int       `json:"synced"`
}

// CategoryCodec is the wire codec for categories.
type CategoryCodec struct{}

func (CategoryCodec) Collection() string { return "categories" }

func (CategoryCodec) Encode(c *model.Category) any {
	return categoryWire{
		UUID:      c.UUID.String(),
		UserUUID:  uuidString(c.OwnerUUID),
		Name:      c.Name,
		CreatedAt: Timestamp(c.CreatedAt),
		UpdatedAt: Timestamp(c.UpdatedAt),
		Synced:    int(c.Dirty),
	}
}

func (CategoryCodec) Decode(raw json.RawMessage) (*model.Category, error) {
	var w categoryWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decoding category: %w", err)
	}
	if !model.ValidCategoryName(w.Name) {
		return nil, fmt.Errorf("decoding category %q: %w", w.Name, model.ErrInvalidCategoryName)
	}
	id, owner, err := parseIdentity(w.UUID, w.UserUUID)
	if err != nil {
		return nil, fmt.Errorf("decoding category %q: %w", w.Name, err)
	}
	return &model.Category{
		Meta: model.Meta{
			UUID:      id,
			OwnerUUID: owner,
			CreatedAt: w.CreatedAt.Time(),
			UpdatedAt: w.UpdatedAt.Time(),
		},
		Name: w.Name,
	}, nil
}

// --- helpers -----------------------------------------------------------------

func parseIdentity(id, owner string) (uuid.UUID, uuid.UUID, error) {
	if id == "" {
		return uuid.Nil, uuid.Nil, errMissingUUID
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("uuid: %w", err)
	}
	var o uuid.UUID
	if owner != "" {
		if o, err = uuid.Parse(owner); err != nil {
			return uuid.Nil, uuid.Nil, fmt.Errorf("user_uuid: %w", err)
		}
	}
	return u, o, nil
}

func uuidString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
