package watcher

import "fmt"

// Normalize maps one raw notification onto exactly one MutationEvent.
func Normalize(n RawNotification) (MutationEvent, error) {
	if n.Path == "" {
		return MutationEvent{}, fmt.Errorf("%w: %s notification", ErrUnusablePath, n.Op)
	}

	switch n.Op {
	case OpCreate:
		return MutationEvent{Kind: Created, Path: n.Path}, nil
	case OpWrite:
		return MutationEvent{Kind: Modified, Path: n.Path}, nil
	case OpRemove:
		return MutationEvent{Kind: Deleted, Path: n.Path}, nil
	case OpRename:
		if n.OldPath == "" {
			return MutationEvent{}, fmt.Errorf("%w: rename to %s without old name", ErrUnusablePath, n.Path)
		}
		return MutationEvent{Kind: Renamed, Path: n.Path, PreviousPath: n.OldPath}, nil
	default:
		return MutationEvent{}, fmt.Errorf("%w: %s for %s", ErrUnknownOp, n.Op, n.Path)
	}
}
