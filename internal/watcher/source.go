package watcher

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Source is the OS-specific notification backend. Start installs the watch
// and returns the notification and diagnostic streams; both are closed after
// Stop. Stop is safe to call more than once.
type Source interface {
	Start(path string, recursive bool) (<-chan RawNotification, <-chan error, error)
	Stop() error
}

// Backend names accepted by NewSource.
const (
	BackendAuto     = "auto"
	BackendFSNotify = "fsnotify"
	BackendInotify  = "inotify"
)

type sourceOptions struct {
	bufferSize int
	pairWindow time.Duration
}

type SourceOption func(*sourceOptions)

func WithBufferSize(n int) SourceOption {
	return func(o *sourceOptions) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithRenamePairWindow bounds how long the old half of a rename waits for
// its new name before it is reported as a removal.
func WithRenamePairWindow(d time.Duration) SourceOption {
	return func(o *sourceOptions) {
		if d > 0 {
			o.pairWindow = d
		}
	}
}

func applySourceOptions(opts []SourceOption) sourceOptions {
	o := sourceOptions{bufferSize: DefaultBufferSize, pairWindow: RenamePairWindow}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewSource picks the notification backend by name. "auto" prefers the
// native backend of the platform and falls back to fsnotify.
func NewSource(backend string, logger *slog.Logger, metrics *WatcherMetrics, opts ...SourceOption) (Source, error) {
	switch backend {
	case "", BackendAuto:
		return nativeSource(logger, metrics, opts...), nil
	case BackendFSNotify:
		return NewFileWatcher(logger, metrics, opts...), nil
	case BackendInotify:
		if !inotifySupported {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, backend)
		}
		return nativeSource(logger, metrics, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
}

func checkDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, path)
	}
	return nil
}

// walkDirs calls add for root and every directory below it. Only a failure
// on root itself is returned; unreadable subdirectories go to report and are
// skipped.
func walkDirs(root string, add func(string) error, report func(error)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("failed to walk %s: %w", root, err)
			}
			report(fmt.Errorf("skipping %s: %w", path, err))
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if err := add(path); err != nil {
			if path == root {
				return err
			}
			report(err)
			return filepath.SkipDir
		}
		return nil
	})
}
