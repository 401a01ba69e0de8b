//go:build linux

package watcher

import (
	"dirwatch/internal/util/logger/sl"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const inotifyMask = unix.IN_CREATE | unix.IN_MODIFY | unix.IN_DELETE |
	unix.IN_MOVED_FROM | unix.IN_MOVED_TO | unix.IN_ONLYDIR

type inotifyEvent struct {
	wd     int32
	mask   uint32
	cookie uint32
	name   string
}

func (e inotifyEvent) has(bits uint32) bool {
	return e.mask&bits != 0
}

type inotifyBatch struct {
	events []inotifyEvent
	err    error
}

// half of a move seen as IN_MOVED_FROM, waiting for the IN_MOVED_TO with the
// same cookie
type pendingMove struct {
	cookie uint32
	path   string
	isDir  bool
}

// InotifyWatcher is the Linux Source. It reads the inotify descriptor itself
// so a rename is paired by the kernel's move cookie: a move out of the tree
// is never mistaken for the other half of an unrelated creation.
type InotifyWatcher struct {
	fd         int
	file       *os.File
	recursive  bool
	pairWindow time.Duration
	logger     *slog.Logger
	metrics    *WatcherMetrics

	// Written by Start, then owned by the run goroutine.
	watches map[int32]string
	paths   map[string]int32
	pending *pendingMove

	events   chan RawNotification
	errors   chan error
	batches  chan inotifyBatch
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
}

func NewInotifyWatcher(logger *slog.Logger, metrics *WatcherMetrics, opts ...SourceOption) *InotifyWatcher {
	if metrics == nil {
		metrics = NewWatcherMetrics()
	}
	o := applySourceOptions(opts)
	return &InotifyWatcher{
		fd:         -1,
		pairWindow: o.pairWindow,
		logger:     logger.With(slog.String("component", "inotify")),
		metrics:    metrics,
		watches:    make(map[int32]string),
		paths:      make(map[string]int32),
		events:     make(chan RawNotification, o.bufferSize),
		errors:     make(chan error, o.bufferSize),
		batches:    make(chan inotifyBatch),
		stopChan:   make(chan struct{}),
	}
}

func (iw *InotifyWatcher) Start(path string, recursive bool) (<-chan RawNotification, <-chan error, error) {
	iw.mu.Lock()
	defer iw.mu.Unlock()

	if iw.started {
		return nil, nil, ErrAlreadyStarted
	}
	select {
	case <-iw.stopChan:
		return nil, nil, ErrWatcherClosed
	default:
	}

	if err := checkDir(path); err != nil {
		return nil, nil, err
	}

	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create inotify instance: %w", err)
	}
	iw.fd = fd
	// non-blocking descriptor: reads park in the runtime poller and Close wakes them
	iw.file = os.NewFile(uintptr(fd), "inotify")
	iw.recursive = recursive

	if recursive {
		err = iw.addTree(path)
	} else {
		err = iw.addDir(path)
	}
	if err != nil {
		iw.file.Close()
		return nil, nil, err
	}

	iw.started = true
	iw.wg.Add(2)
	go iw.read()
	go iw.run()

	return iw.events, iw.errors, nil
}

func (iw *InotifyWatcher) addDir(path string) error {
	wd, err := unix.InotifyAddWatch(iw.fd, path, inotifyMask)
	if err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", path, err)
	}
	w := int32(wd)
	if old, ok := iw.watches[w]; ok {
		// same inode seen under a new name
		delete(iw.paths, old)
	} else {
		iw.metrics.RecordDirectoryAdded()
	}
	iw.watches[w] = path
	iw.paths[path] = w
	return nil
}

func (iw *InotifyWatcher) addTree(root string) error {
	return walkDirs(root, iw.addDir, iw.handleError)
}

func (iw *InotifyWatcher) read() {
	defer iw.wg.Done()
	defer close(iw.batches)

	buf := make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))
	for {
		n, err := iw.file.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}
			iw.send(inotifyBatch{err: fmt.Errorf("failed to read inotify events: %w", err)})
			return
		}
		events, err := parseInotifyEvents(buf[:n])
		if !iw.send(inotifyBatch{events: events, err: err}) {
			return
		}
	}
}

func (iw *InotifyWatcher) send(b inotifyBatch) bool {
	select {
	case iw.batches <- b:
		return true
	case <-iw.stopChan:
		return false
	}
}

// parseInotifyEvents decodes the records of one read. A truncated record
// ends the batch with ErrMalformedEvent; the records before it are kept.
func parseInotifyEvents(buf []byte) ([]inotifyEvent, error) {
	var out []inotifyEvent
	for off := 0; off < len(buf); {
		if len(buf)-off < unix.SizeofInotifyEvent {
			return out, fmt.Errorf("%w: %d trailing bytes", ErrMalformedEvent, len(buf)-off)
		}
		ev := inotifyEvent{
			wd:     int32(binary.NativeEndian.Uint32(buf[off:])),
			mask:   binary.NativeEndian.Uint32(buf[off+4:]),
			cookie: binary.NativeEndian.Uint32(buf[off+8:]),
		}
		nameLen := int(binary.NativeEndian.Uint32(buf[off+12:]))
		off += unix.SizeofInotifyEvent
		if nameLen > len(buf)-off {
			return out, fmt.Errorf("%w: name of %d bytes exceeds the read", ErrMalformedEvent, nameLen)
		}
		ev.name = strings.TrimRight(string(buf[off:off+nameLen]), "\x00")
		off += nameLen
		out = append(out, ev)
	}
	return out, nil
}

func (iw *InotifyWatcher) run() {
	defer iw.wg.Done()
	defer close(iw.events)
	defer close(iw.errors)

	pairTimer := time.NewTimer(iw.pairWindow)
	pairTimer.Stop()
	defer pairTimer.Stop()

	for {
		select {
		case <-iw.stopChan:
			return
		case b, ok := <-iw.batches:
			if !ok {
				return
			}
			for _, ev := range b.events {
				iw.handle(ev)
			}
			if b.err != nil {
				iw.handleError(b.err)
			}
			if iw.pending != nil {
				pairTimer.Reset(iw.pairWindow)
			} else {
				pairTimer.Stop()
			}
		case <-pairTimer.C:
			iw.flushMove()
		}
	}
}

func (iw *InotifyWatcher) handle(ev inotifyEvent) {
	switch {
	case ev.has(unix.IN_Q_OVERFLOW):
		iw.flushMove()
		iw.handleError(ErrEventOverflow)
		return
	case ev.has(unix.IN_IGNORED):
		iw.forget(ev.wd)
		return
	}

	// An unknown descriptor leaves path empty; the normalizer turns that
	// into a diagnostic.
	var path string
	if dir, ok := iw.watches[ev.wd]; ok {
		path = filepath.Join(dir, ev.name)
	}
	isDir := ev.has(unix.IN_ISDIR)
	now := time.Now()

	if ev.has(unix.IN_MOVED_TO) && iw.pending != nil && iw.pending.cookie == ev.cookie {
		old := iw.pending.path
		iw.pending = nil
		if isDir && path != "" {
			iw.renameWatches(old, path)
		}
		iw.emit(RawNotification{Op: OpRename, Path: path, OldPath: old, Timestamp: now})
		return
	}
	iw.flushMove()

	switch {
	case ev.has(unix.IN_MOVED_FROM):
		iw.pending = &pendingMove{cookie: ev.cookie, path: path, isDir: isDir}
	case ev.has(unix.IN_CREATE | unix.IN_MOVED_TO):
		if isDir && path != "" && iw.recursive {
			if err := iw.addTree(path); err != nil {
				iw.handleError(err)
			}
		}
		iw.emit(RawNotification{Op: OpCreate, Path: path, Timestamp: now})
	case ev.has(unix.IN_DELETE):
		iw.emit(RawNotification{Op: OpRemove, Path: path, Timestamp: now})
	case ev.has(unix.IN_MODIFY):
		iw.emit(RawNotification{Op: OpWrite, Path: path, Timestamp: now})
	}
}

// flushMove reports a move whose destination never showed up in the tree
// as a removal of its old path.
func (iw *InotifyWatcher) flushMove() {
	if iw.pending == nil {
		return
	}
	p := iw.pending
	iw.pending = nil
	if p.isDir && p.path != "" {
		iw.unwatchTree(p.path)
	}
	iw.emit(RawNotification{Op: OpRemove, Path: p.path, Timestamp: time.Now()})
}

func underPath(p, root string) bool {
	return p == root || strings.HasPrefix(p, root+string(filepath.Separator))
}

// renameWatches moves the recorded paths of a renamed directory and its
// watched descendants to the new name. The kernel keeps the descriptors.
func (iw *InotifyWatcher) renameWatches(oldRoot, newRoot string) {
	moved := make(map[string]int32)
	for p, wd := range iw.paths {
		if underPath(p, oldRoot) {
			moved[newRoot+p[len(oldRoot):]] = wd
			delete(iw.paths, p)
		}
	}
	for p, wd := range moved {
		iw.paths[p] = wd
		iw.watches[wd] = p
	}
}

func (iw *InotifyWatcher) unwatchTree(root string) {
	for p, wd := range iw.paths {
		if !underPath(p, root) {
			continue
		}
		if _, err := unix.InotifyRmWatch(iw.fd, uint32(wd)); err != nil {
			iw.logger.Debug("failed to drop moved watch", slog.String("path", p), sl.Err(err))
		}
		delete(iw.paths, p)
		delete(iw.watches, wd)
	}
}

func (iw *InotifyWatcher) forget(wd int32) {
	p, ok := iw.watches[wd]
	if !ok {
		return
	}
	delete(iw.watches, wd)
	if iw.paths[p] == wd {
		delete(iw.paths, p)
	}
}

func (iw *InotifyWatcher) emit(n RawNotification) {
	select {
	case iw.events <- n:
	case <-iw.stopChan:
	}
}

func (iw *InotifyWatcher) handleError(err error) {
	select {
	case iw.errors <- err:
	default:
		iw.metrics.RecordError()
		iw.logger.Warn("Error buffer full, dropping error", sl.Err(err))
	}
}

func (iw *InotifyWatcher) Stop() error {
	var closeErr error
	iw.stopOnce.Do(func() {
		close(iw.stopChan)

		iw.mu.Lock()
		defer iw.mu.Unlock()
		if !iw.started {
			return
		}
		if err := iw.file.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close inotify instance: %w", err)
		}
		iw.wg.Wait()
	})
	return closeErr
}
