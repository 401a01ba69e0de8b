// Package dispatcher turns mutation events into leveled log lines.
package dispatcher

import (
	"context"
	"dirwatch/internal/filter"
	"dirwatch/internal/util/logger/sl"
	"dirwatch/internal/watcher"
	"errors"
	"fmt"
	"log/slog"
)

const IgnoredPrefix = "[ignored] "

var (
	ErrUnknownKind = errors.New("unknown mutation kind")
	ErrSinkPanic   = errors.New("sink panicked")
)

// Dispatch picks the level and message for ev. Visible events go out at Info.
// Ignored ones drop to sl.LevelTrace, or stay at Info with IgnoredPrefix when
// showIgnored is set.
func Dispatch(ev watcher.MutationEvent, f *filter.Filter, showIgnored bool) (slog.Level, string, error) {
	msg, err := Format(ev)
	if err != nil {
		return slog.LevelError, "", err
	}

	if !f.IsEventIgnored(ev) {
		return slog.LevelInfo, msg, nil
	}
	if showIgnored {
		return slog.LevelInfo, IgnoredPrefix + msg, nil
	}
	return sl.LevelTrace, msg, nil
}

// Format renders kind and path, or kind, old path and new path for a rename.
func Format(ev watcher.MutationEvent) (string, error) {
	if !ev.Kind.Valid() {
		return "", fmt.Errorf("%w: %d", ErrUnknownKind, int(ev.Kind))
	}
	if ev.Kind == watcher.Renamed {
		return fmt.Sprintf("%s: %s -> %s", ev.Kind, ev.PreviousPath, ev.Path), nil
	}
	return fmt.Sprintf("%s: %s", ev.Kind, ev.Path), nil
}

// Dispatcher is the watcher.EventHandler that feeds the sink. A failing
// event is logged and counted; it never reaches the watch loop.
type Dispatcher struct {
	filter      *filter.Filter
	showIgnored bool
	sink        Sink
	log         *slog.Logger
	metrics     *watcher.WatcherMetrics
}

func New(f *filter.Filter, showIgnored bool, sink Sink, log *slog.Logger, metrics *watcher.WatcherMetrics) *Dispatcher {
	if metrics == nil {
		metrics = watcher.NewWatcherMetrics()
	}
	return &Dispatcher{
		filter:      f,
		showIgnored: showIgnored,
		sink:        sink,
		log:         log,
		metrics:     metrics,
	}
}

func (d *Dispatcher) HandleEvent(ev watcher.MutationEvent) {
	if err := d.emit(ev); err != nil {
		d.metrics.RecordError()
		d.log.Error("failed to dispatch event",
			slog.String("kind", ev.Kind.String()),
			slog.String("path", ev.Path),
			slog.String("previous_path", ev.PreviousPath),
			sl.Err(err),
		)
		return
	}
	d.metrics.RecordEvent(d.filter.IsEventIgnored(ev))
}

func (d *Dispatcher) emit(ev watcher.MutationEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSinkPanic, r)
		}
	}()

	level, msg, err := Dispatch(ev, d.filter, d.showIgnored)
	if err != nil {
		return err
	}
	return d.sink.Emit(context.Background(), level, msg)
}

func (d *Dispatcher) HandleError(err error) {
	d.metrics.RecordError()
	d.log.Error("watch error", sl.Err(err))
}
