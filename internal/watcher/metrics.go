package watcher

import (
	"sync/atomic"
	"time"
)

type WatcherMetrics struct {
	eventsDispatched atomic.Int64
	eventsIgnored    atomic.Int64
	eventsDropped    atomic.Int64
	errors           atomic.Int64
	dirsWatched      atomic.Int64
	lastEventTime    atomic.Int64
}

func NewWatcherMetrics() *WatcherMetrics {
	return &WatcherMetrics{}
}

func (m *WatcherMetrics) RecordEvent(ignored bool) {
	m.eventsDispatched.Add(1)
	if ignored {
		m.eventsIgnored.Add(1)
	}
	m.lastEventTime.Store(time.Now().UnixNano())
}

func (m *WatcherMetrics) RecordDropped() {
	m.eventsDropped.Add(1)
}

func (m *WatcherMetrics) RecordError() {
	m.errors.Add(1)
}

func (m *WatcherMetrics) RecordDirectoryAdded() {
	m.dirsWatched.Add(1)
}

func (m *WatcherMetrics) GetStats() map[string]interface{} {
	var last time.Time
	if ns := m.lastEventTime.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return map[string]interface{}{
		"events_dispatched": m.eventsDispatched.Load(),
		"events_ignored":    m.eventsIgnored.Load(),
		"events_dropped":    m.eventsDropped.Load(),
		"errors":            m.errors.Load(),
		"dirs_watched":      m.dirsWatched.Load(),
		"last_event_time":   last,
	}
}
