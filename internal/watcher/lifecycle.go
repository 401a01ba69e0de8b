package watcher

import (
	"dirwatch/internal/signals"
	"dirwatch/internal/util/logger/sl"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type State int32

const (
	Idle State = iota
	Watching
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Watching:
		return "watching"
	case ShuttingDown:
		return "shutting down"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Lifecycle owns one watch from Start to Stopped. A Lifecycle is single use.
//
// The state is written by Start, Stop, the signal handler and the delivery
// goroutine, so it is only touched atomically. deliverMu is held while a
// callback runs: Stop takes it once after leaving Watching, which guarantees
// that the in-flight callback has returned and that no later one starts.
type Lifecycle struct {
	source  Source
	signals signals.Subscriber
	log     *slog.Logger
	metrics *WatcherMetrics
	runID   string

	state     atomic.Int32
	startMu   sync.Mutex
	deliverMu sync.Mutex

	unsubscribe func()
	done        chan struct{}
	doneOnce    sync.Once
}

func NewLifecycle(src Source, sig signals.Subscriber, log *slog.Logger, metrics *WatcherMetrics) *Lifecycle {
	if metrics == nil {
		metrics = NewWatcherMetrics()
	}
	runID := uuid.NewString()
	return &Lifecycle{
		source:  src,
		signals: sig,
		log:     log.With(slog.String("run_id", runID)),
		metrics: metrics,
		runID:   runID,
		done:    make(chan struct{}),
	}
}

func (l *Lifecycle) RunID() string {
	return l.runID
}

func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

func (l *Lifecycle) IsRunning() bool {
	return l.State() == Watching
}

func (l *Lifecycle) Metrics() *WatcherMetrics {
	return l.metrics
}

// Start validates opts, installs the watch and begins delivering events to h.
// On a validation or backend failure the lifecycle stays Idle.
func (l *Lifecycle) Start(opts WatchOptions, h EventHandler) error {
	l.startMu.Lock()
	defer l.startMu.Unlock()

	switch l.State() {
	case Idle:
	case Stopped:
		return ErrStopped
	default:
		return ErrAlreadyStarted
	}

	info, err := os.Stat(opts.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, opts.Path)
	}

	events, errs, err := l.source.Start(opts.Path, opts.Recursive)
	if err != nil {
		return fmt.Errorf("failed to start watch on %s: %w", opts.Path, err)
	}

	if !l.state.CompareAndSwap(int32(Idle), int32(Watching)) {
		// stopped while the watch was being installed
		_ = l.source.Stop()
		return ErrStopped
	}
	if l.signals != nil {
		l.unsubscribe = l.signals.Subscribe(l.handleSignal)
	}

	go l.deliver(events, errs, h)

	l.log.Info("watcher started",
		slog.String("path", opts.Path),
		slog.Bool("recursive", opts.Recursive),
	)
	return nil
}

// Stop leaves Watching synchronously: once it returns no callback starts.
// The move to Stopped follows when the backend has shut down. Calling Stop
// again, or after Stopped, does nothing. Stop must not be called from inside
// the event callback.
func (l *Lifecycle) Stop() error {
	if l.state.CompareAndSwap(int32(Idle), int32(Stopped)) {
		l.finish()
		return nil
	}
	if !l.state.CompareAndSwap(int32(Watching), int32(ShuttingDown)) {
		return nil
	}

	l.log.Info("watcher shutting down")

	// wait out the callback that may be running right now
	l.deliverMu.Lock()
	l.deliverMu.Unlock()

	if err := l.source.Stop(); err != nil {
		l.log.Error("failed to stop watch source", sl.Err(err))
	}
	return nil
}

func (l *Lifecycle) handleSignal(k signals.Kind) {
	if !k.IsShutdown() {
		l.log.Warn("break signal received, still watching", slog.String("signal", k.String()))
		return
	}
	if l.State() != Watching {
		return
	}
	l.log.Info("shutdown signal received", slog.String("signal", k.String()))
	_ = l.Stop()
}

// WaitUntilStopped blocks until the lifecycle reaches Stopped.
func (l *Lifecycle) WaitUntilStopped() {
	<-l.done
}

func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

func (l *Lifecycle) deliver(events <-chan RawNotification, errs <-chan error, h EventHandler) {
	defer l.finish()

	for events != nil || errs != nil {
		select {
		case n, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !l.invoke(func() { l.dispatch(n, h) }) {
				l.metrics.RecordDropped()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			l.invoke(func() { h.HandleError(err) })
		}
	}
}

// invoke runs fn only while Watching. It reports whether fn ran.
func (l *Lifecycle) invoke(fn func()) bool {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	if l.State() != Watching {
		return false
	}
	fn()
	return true
}

func (l *Lifecycle) dispatch(n RawNotification, h EventHandler) {
	ev, err := Normalize(n)
	if err != nil {
		l.metrics.RecordDropped()
		h.HandleError(fmt.Errorf("dropping notification: %w", err))
		return
	}
	h.HandleEvent(ev)
}

func (l *Lifecycle) finish() {
	l.doneOnce.Do(func() {
		if l.unsubscribe != nil {
			l.unsubscribe()
		}
		if l.state.CompareAndSwap(int32(Watching), int32(ShuttingDown)) {
			// the backend went away on its own
			l.log.Warn("watch source closed unexpectedly")
		}
		l.state.Store(int32(Stopped))
		close(l.done)
	})
}
