package watcher

import (
	"dirwatch/internal/util/logger/sl"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher is the fsnotify backed Source.
type FileWatcher struct {
	watcher    *fsnotify.Watcher
	events     chan RawNotification
	errors     chan error
	recursive  bool
	pairWindow time.Duration
	logger     *slog.Logger
	metrics    *WatcherMetrics
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	mu         sync.Mutex
	started    bool
}

func NewFileWatcher(logger *slog.Logger, metrics *WatcherMetrics, opts ...SourceOption) *FileWatcher {
	if metrics == nil {
		metrics = NewWatcherMetrics()
	}
	o := applySourceOptions(opts)
	return &FileWatcher{
		events:     make(chan RawNotification, o.bufferSize),
		errors:     make(chan error, o.bufferSize),
		pairWindow: o.pairWindow,
		logger:     logger.With(slog.String("component", "fsnotify")),
		metrics:    metrics,
		stopChan:   make(chan struct{}),
	}
}

func (fw *FileWatcher) Start(path string, recursive bool) (<-chan RawNotification, <-chan error, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.started {
		return nil, nil, ErrAlreadyStarted
	}
	select {
	case <-fw.stopChan:
		return nil, nil, ErrWatcherClosed
	default:
	}

	if err := checkDir(path); err != nil {
		return nil, nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	fw.watcher = watcher
	fw.recursive = recursive

	if recursive {
		err = fw.addTree(path)
	} else {
		err = fw.addDir(path)
	}
	if err != nil {
		watcher.Close()
		return nil, nil, err
	}

	fw.started = true
	fw.wg.Add(1)
	go fw.run()

	return fw.events, fw.errors, nil
}

func (fw *FileWatcher) addDir(path string) error {
	if err := fw.watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", path, err)
	}
	fw.metrics.RecordDirectoryAdded()
	return nil
}

func (fw *FileWatcher) addTree(root string) error {
	return walkDirs(root, fw.addDir, fw.handleError)
}

func (fw *FileWatcher) run() {
	defer fw.wg.Done()
	defer close(fw.events)
	defer close(fw.errors)

	pairTimer := time.NewTimer(fw.pairWindow)
	pairTimer.Stop()
	defer pairTimer.Stop()

	// old name of a Rename still waiting for its Create
	var pending string

	flushPending := func() {
		if pending != "" {
			fw.emit(RawNotification{Op: OpRemove, Path: pending, Timestamp: time.Now()})
			pending = ""
		}
	}

	for {
		select {
		case <-fw.stopChan:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&WatchedEvents == 0 {
				continue
			}
			if pending != "" {
				pairTimer.Stop()
				// fsnotify carries no move cookie; a Create in another
				// directory is never the other half of the pending Rename.
				if event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) &&
					filepath.Dir(event.Name) == filepath.Dir(pending) {
					old := pending
					pending = ""
					fw.followRename(old, event.Name)
					fw.emit(RawNotification{Op: OpRename, Path: event.Name, OldPath: old, Timestamp: time.Now()})
					continue
				}
				flushPending()
			}
			if event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				pending = event.Name
				pairTimer.Reset(fw.pairWindow)
				continue
			}
			fw.processEvent(event)
		case <-pairTimer.C:
			flushPending()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.handleError(err)
		}
	}
}

func (fw *FileWatcher) processEvent(event fsnotify.Event) {
	n := RawNotification{Path: event.Name, Timestamp: time.Now()}

	switch {
	case event.Has(fsnotify.Remove):
		n.Op = OpRemove
	case event.Has(fsnotify.Create):
		n.Op = OpCreate
		fw.watchCreated(event.Name)
	case event.Has(fsnotify.Write):
		n.Op = OpWrite
	default:
		return
	}

	fw.emit(n)
}

// watchCreated extends a recursive watch to a directory that appeared while watching.
func (fw *FileWatcher) watchCreated(path string) {
	if !fw.recursive {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := fw.addTree(path); err != nil {
		fw.handleError(err)
	}
}

func (fw *FileWatcher) followRename(oldPath, newPath string) {
	if !fw.recursive {
		return
	}
	if err := fw.watcher.Remove(oldPath); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		fw.logger.Debug("failed to drop renamed watch", slog.String("path", oldPath), sl.Err(err))
	}
	fw.watchCreated(newPath)
}

func (fw *FileWatcher) emit(n RawNotification) {
	select {
	case fw.events <- n:
	case <-fw.stopChan:
	}
}

func (fw *FileWatcher) handleError(err error) {
	select {
	case fw.errors <- err:
	default:
		fw.metrics.RecordError()
		fw.logger.Warn("Error buffer full, dropping error", sl.Err(err))
	}
}

func (fw *FileWatcher) Stop() error {
	var closeErr error
	fw.stopOnce.Do(func() {
		close(fw.stopChan)

		fw.mu.Lock()
		defer fw.mu.Unlock()
		if !fw.started {
			return
		}
		fw.wg.Wait()

		if err := fw.watcher.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close watcher: %w", err)
		}
	})
	return closeErr
}
