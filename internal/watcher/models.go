package watcher

import (
	"fmt"
	"time"
)

// MutationKind is the closed set of changes reported for the watched tree.
type MutationKind int

const (
	Created MutationKind = iota + 1
	Modified
	Deleted
	Renamed
)

func (k MutationKind) String() string {
	switch k {
	case Created:
		return "Created"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	case Renamed:
		return "Renamed"
	default:
		return fmt.Sprintf("MutationKind(%d)", int(k))
	}
}

func (k MutationKind) Valid() bool {
	return k >= Created && k <= Renamed
}

// MutationEvent is one detected change. PreviousPath is set only for Renamed.
type MutationEvent struct {
	Kind         MutationKind
	Path         string
	PreviousPath string
}

// RawNotification is what a Source hands over before normalization.
// OldPath is only filled for OpRename.
type RawNotification struct {
	Op        RawOp
	Path      string
	OldPath   string
	Timestamp time.Time
}

type RawOp int

const (
	OpCreate RawOp = iota + 1
	OpWrite
	OpRemove
	OpRename
)

func (op RawOp) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	default:
		return fmt.Sprintf("RawOp(%d)", int(op))
	}
}

// WatchOptions is the part of the configuration the lifecycle needs.
type WatchOptions struct {
	Path      string
	Recursive bool
}

// EventHandler receives every normalized event and every non-fatal
// diagnostic produced while watching. Both are called from the delivery
// goroutine, one at a time.
type EventHandler interface {
	HandleEvent(ev MutationEvent)
	HandleError(err error)
}
