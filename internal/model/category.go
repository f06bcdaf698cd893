package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultCategoryName is the system category every todo falls back to. It is
// created locally, never deleted and never renamed.
const DefaultCategoryName = "Uncategorized"

// MaxCategoryNameLen is the longest accepted category name, in runes.
const MaxCategoryNameLen = 50

var (
	// ErrInvalidCategoryName is returned for empty or overlong names.
	ErrInvalidCategoryName = errors.New("invalid category name")
	// ErrProtectedCategory is returned when deleting or renaming the default.
	ErrProtectedCategory = errors.New("default category cannot be modified")
)

// Category groups todos by name.
type Category struct {
	Meta

	Name string
}

// NewCategory returns a category created locally by owner, pending insertion.
func NewCategory(owner uuid.UUID, name string) *Category {
	return &Category{
		Meta: Meta{
			UUID:      uuid.New(),
			OwnerUUID: owner,
			Dirty:     PendingInsert,
		},
		Name: strings.TrimSpace(name),
	}
}

// Clone returns a copy that shares no memory with c.
func (c *Category) Clone() *Category {
	cp := *c
	return &cp
}

// ContentHash returns a SHA-256 hex digest of the identity and name.
func (c *Category) ContentHash() string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s|%s|%s", c.UUID, c.OwnerUUID, c.Name)
	return hex.EncodeToString(h.Sum(nil))
}

// IsDefault reports whether c is the protected system category.
func (c *Category) IsDefault() bool {
	return c.Name == DefaultCategoryName
}

// ValidCategoryName reports whether name, once trimmed, is non-empty and no
// longer than MaxCategoryNameLen runes.
func ValidCategoryName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && utf8.RuneCountInString(name) <= MaxCategoryNameLen
}
