//go:build !linux

package watcher

import "log/slog"

const inotifySupported = false

func nativeSource(logger *slog.Logger, metrics *WatcherMetrics, opts ...SourceOption) Source {
	return NewFileWatcher(logger, metrics, opts...)
}
