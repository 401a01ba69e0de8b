package watcher

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	DefaultBufferSize = 100

	// RenamePairWindow is how long a Rename waits for the Create that
	// carries the new name before it is reported as a removal.
	RenamePairWindow = 50 * time.Millisecond
)

// Name and last-write changes. Chmod is never forwarded.
var WatchedEvents = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
