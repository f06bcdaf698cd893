// Package conflict decides how an incoming record is applied to the local
// store. [Resolve] is pure: it looks only at its arguments.
package conflict

import (
	"fmt"
	"strings"

	"github.com/njoerd114/todosync/internal/model"
)

// Policy selects how a conflict between an existing and an incoming record is
// settled.
type Policy int

const (
	// Merge keeps whichever version has the strictly newer UpdatedAt. Ties
	// keep the existing record.
	Merge Policy = iota
	// Skip always keeps the existing record.
	Skip
	// Overwrite always takes the incoming record.
	Overwrite
	// Insert asserts that no conflict is possible and always inserts.
	Insert
)

func (p Policy) String() string {
	switch p {
	case Merge:
		return "merge"
	case Skip:
		return "skip"
	case Overwrite:
		return "overwrite"
	case Insert:
		return "insert"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses the configuration spelling of a policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "merge":
		return Merge, nil
	case "skip":
		return Skip, nil
	case "overwrite":
		return Overwrite, nil
	case "insert":
		return Insert, nil
	}
	return Merge, fmt.Errorf("unknown merge policy %q (want merge, skip, overwrite or insert)", s)
}

// Action is what the caller should do with the incoming record.
type Action int

const (
	ActionInsert Action = iota
	ActionOverwrite
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionOverwrite:
		return "overwrite"
	default:
		return "skip"
	}
}

// Resolve decides how incoming is applied given the current local record.
// A nil existing record always yields ActionInsert regardless of policy.
func Resolve(existing, incoming *model.Meta, policy Policy) Action {
	if existing == nil {
		return ActionInsert
	}
	switch policy {
	case Skip:
		return ActionSkip
	case Overwrite:
		return ActionOverwrite
	case Insert:
		return ActionInsert
	default:
		if incoming.UpdatedAt.After(existing.UpdatedAt) {
			return ActionOverwrite
		}
		return ActionSkip
	}
}
