package watcher

import "errors"

var (
	ErrWatcherClosed  = errors.New("watcher is closed")
	ErrInvalidPath    = errors.New("invalid path")
	ErrAlreadyStarted = errors.New("watcher already started")
	ErrStopped        = errors.New("watcher is stopped")
	ErrUnusablePath   = errors.New("notification carries no usable path")
	ErrUnknownOp      = errors.New("unknown notification op")

	ErrUnsupportedBackend = errors.New("unsupported watch backend")
	ErrEventOverflow      = errors.New("kernel event queue overflowed, notifications were lost")
	ErrMalformedEvent     = errors.New("malformed inotify event")
)
