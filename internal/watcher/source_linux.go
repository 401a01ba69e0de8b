//go:build linux

package watcher

import "log/slog"

const inotifySupported = true

func nativeSource(logger *slog.Logger, metrics *WatcherMetrics, opts ...SourceOption) Source {
	return NewInotifyWatcher(logger, metrics, opts...)
}
