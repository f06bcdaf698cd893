package sync

import (
	"fmt"
	"strings"

	"github.com/njoerd114/todosync/internal/entity"
)

// State is the coordinator's lifecycle state.
type State int

const (
	Idle State = iota
	Syncing
)

func (s State) String() string {
	if s == Syncing {
		return "syncing"
	}
	return "idle"
}

// Direction selects which phases a round runs.
type Direction int

const (
	// Bidirectional fetches and merges, then pushes dirty records.
	Bidirectional Direction = iota
	// UploadOnly pushes dirty records without fetching.
	UploadOnly
	// DownloadOnly fetches and merges, pruning Clean records the server no
	// longer has, and never pushes.
	DownloadOnly
)

func (d Direction) String() string {
	switch d {
	case UploadOnly:
		return "upload"
	case DownloadOnly:
		return "download"
	default:
		return "bidirectional"
	}
}

// ParseDirection accepts "both", "bidirectional", "up", "upload", "down"
// and "download". The empty string is Bidirectional.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both", "bidirectional":
		return Bidirectional, nil
	case "up", "upload":
		return UploadOnly, nil
	case "down", "download":
		return DownloadOnly, nil
	}
	return Bidirectional, fmt.Errorf("unknown sync direction %q", s)
}

// Result is the terminal classification of one attempt.
type Result int

const (
	Success Result = iota
	NetworkError
	AuthError
	ConflictError
	UnknownError
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NetworkError:
		return "network_error"
	case AuthError:
		return "auth_error"
	case ConflictError:
		return "conflict_error"
	default:
		return "unknown_error"
	}
}

// Stats counts what a round did.
type Stats struct {
	Fetched int
	Merge   entity.MergeStats
	Batches int
	Pushed  int
	Ack     entity.AckStats
}

// Outcome is the terminal report of one attempt. Generation is zero when the
// attempt was rejected before a round started.
type Outcome struct {
	Kind       string
	Direction  Direction
	Generation uint64
	Result     Result
	Message    string
	Stats      Stats
}

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool { return o.Result == Success }

func (o Outcome) String() string {
	return fmt.Sprintf("%s %s: %s (%s)", o.Kind, o.Direction, o.Result, o.Message)
}

// EventType distinguishes lifecycle notifications.
type EventType int

const (
	EventStarted EventType = iota
	EventProgress
	EventCompleted
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	default:
		return "completed"
	}
}

// Event is a lifecycle notification. Percent and Phase are set for progress
// events, Outcome for completed events.
type Event struct {
	Type       EventType
	Kind       string
	Generation uint64
	Percent    int
	Phase      string
	Outcome    Outcome
}

// Ticket identifies a requested attempt. Done receives exactly one Outcome.
type Ticket struct {
	Generation uint64
	Done       <-chan Outcome
}
