//go:build linux

package watcher

import (
	"dirwatch/internal/util/logger/handlers/slogdiscard"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func startInotifyWatcher(t *testing.T, dir string, recursive bool, opts ...SourceOption) (*InotifyWatcher, <-chan RawNotification) {
	t.Helper()
	iw := NewInotifyWatcher(slogdiscard.NewDiscardLogger(), nil, opts...)
	events, _, err := iw.Start(dir, recursive)
	require.NoError(t, err)
	t.Cleanup(func() { _ = iw.Stop() })
	return iw, events
}

func drain(events <-chan RawNotification) []RawNotification {
	var out []RawNotification
	for {
		select {
		case n := <-events:
			out = append(out, n)
		default:
			return out
		}
	}
}

func TestInotifyWatcher_MoveOutThenCreate(t *testing.T) {
	watched := t.TempDir()
	outside := t.TempDir()
	leaving := filepath.Join(watched, "a.txt")
	require.NoError(t, os.WriteFile(leaving, []byte("x"), 0644))

	_, events := startInotifyWatcher(t, watched, true, WithRenamePairWindow(time.Second))

	require.NoError(t, os.Rename(leaving, filepath.Join(outside, "a.txt")))
	created := filepath.Join(watched, "b.txt")
	require.NoError(t, os.WriteFile(created, []byte("y"), 0644))

	seen := waitFor(t, events, func(n RawNotification) bool {
		return n.Op == OpCreate && n.Path == created
	})
	require.GreaterOrEqual(t, len(seen), 2)
	assert.Equal(t, OpRemove, seen[0].Op)
	assert.Equal(t, leaving, seen[0].Path)
	for _, n := range seen {
		assert.NotEqual(t, OpRename, n.Op, "unrelated move and create paired: %v", n)
	}
}

func TestInotifyWatcher_RenameIsPaired(t *testing.T) {
	tempDir := t.TempDir()
	sub := filepath.Join(tempDir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	oldFile := filepath.Join(tempDir, "old.txt")
	require.NoError(t, os.WriteFile(oldFile, []byte("x"), 0644))

	_, events := startInotifyWatcher(t, tempDir, true)

	// across directories: the cookie pairs them, not the parent
	newFile := filepath.Join(sub, "renamed.txt")
	require.NoError(t, os.Rename(oldFile, newFile))

	seen := waitFor(t, events, func(n RawNotification) bool { return n.Op == OpRename })
	require.Len(t, seen, 1)
	assert.Equal(t, oldFile, seen[0].OldPath)
	assert.Equal(t, newFile, seen[0].Path)
}

func TestInotifyWatcher_RenamedDirectoryKeepsWatching(t *testing.T) {
	tempDir := t.TempDir()
	oldDir := filepath.Join(tempDir, "before")
	require.NoError(t, os.Mkdir(oldDir, 0755))

	_, events := startInotifyWatcher(t, tempDir, true)

	newDir := filepath.Join(tempDir, "after")
	require.NoError(t, os.Rename(oldDir, newDir))
	waitFor(t, events, func(n RawNotification) bool { return n.Op == OpRename && n.Path == newDir })

	inner := filepath.Join(newDir, "file.txt")
	require.NoError(t, os.WriteFile(inner, []byte("x"), 0644))
	waitFor(t, events, func(n RawNotification) bool { return n.Op == OpCreate && n.Path == inner })
}

func TestInotifyWatcher_DirectoryMovedOutIsUnwatched(t *testing.T) {
	watched := t.TempDir()
	outside := t.TempDir()
	dir := filepath.Join(watched, "leaving")
	require.NoError(t, os.Mkdir(dir, 0755))

	iw, events := startInotifyWatcher(t, watched, true, WithRenamePairWindow(20*time.Millisecond))

	moved := filepath.Join(outside, "leaving")
	require.NoError(t, os.Rename(dir, moved))
	waitFor(t, events, func(n RawNotification) bool { return n.Op == OpRemove && n.Path == dir })

	require.NoError(t, os.WriteFile(filepath.Join(moved, "stray.txt"), []byte("x"), 0644))
	marker := filepath.Join(watched, "marker.txt")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0644))

	seen := waitFor(t, events, func(n RawNotification) bool { return n.Path == marker })
	for _, n := range seen {
		assert.NotContains(t, n.Path, "stray.txt")
	}
	assert.Equal(t, int64(2), iw.metrics.GetStats()["dirs_watched"])
}

func TestInotifyWatcher_NonRecursive(t *testing.T) {
	tempDir := t.TempDir()
	sub := filepath.Join(tempDir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))

	_, events := startInotifyWatcher(t, tempDir, false)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep.txt"), []byte("x"), 0644))
	top := filepath.Join(tempDir, "top.txt")
	require.NoError(t, os.WriteFile(top, []byte("x"), 0644))

	seen := waitFor(t, events, func(n RawNotification) bool { return n.Path == top })
	for _, n := range seen {
		assert.NotContains(t, n.Path, "deep.txt")
	}
}

func TestInotifyWatcher_Start(t *testing.T) {
	tempDir := t.TempDir()
	file := filepath.Join(tempDir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	for _, path := range []string{file, filepath.Join(tempDir, "missing")} {
		iw := NewInotifyWatcher(slogdiscard.NewDiscardLogger(), nil)
		_, _, err := iw.Start(path, true)
		assert.ErrorIs(t, err, ErrInvalidPath, path)
		assert.NoError(t, iw.Stop())
	}

	iw, _ := startInotifyWatcher(t, tempDir, true)
	_, _, err := iw.Start(tempDir, true)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestInotifyWatcher_Stop(t *testing.T) {
	iw := NewInotifyWatcher(slogdiscard.NewDiscardLogger(), nil)
	events, errs, err := iw.Start(t.TempDir(), true)
	require.NoError(t, err)

	require.NoError(t, iw.Stop())
	require.NoError(t, iw.Stop())

	_, ok := <-events
	assert.False(t, ok)
	_, ok = <-errs
	assert.False(t, ok)

	_, _, err = iw.Start(t.TempDir(), true)
	assert.ErrorIs(t, err, ErrWatcherClosed)
}

// The cases below drive handle directly with synthetic records so the
// pairing rules are checked without depending on kernel timing.

func newDetachedInotifyWatcher() *InotifyWatcher {
	iw := NewInotifyWatcher(slogdiscard.NewDiscardLogger(), nil)
	iw.watches[1] = "/root"
	iw.paths["/root"] = 1
	return iw
}

func TestInotifyWatcher_HandlePairsByCookie(t *testing.T) {
	tests := []struct {
		name   string
		events []inotifyEvent
		want   []RawNotification
	}{
		{
			name: "matching cookie is a rename",
			events: []inotifyEvent{
				{wd: 1, mask: unix.IN_MOVED_FROM, cookie: 7, name: "a.txt"},
				{wd: 1, mask: unix.IN_MOVED_TO, cookie: 7, name: "b.txt"},
			},
			want: []RawNotification{{Op: OpRename, Path: "/root/b.txt", OldPath: "/root/a.txt"}},
		},
		{
			name: "move out followed by a create",
			events: []inotifyEvent{
				{wd: 1, mask: unix.IN_MOVED_FROM, cookie: 7, name: "a.txt"},
				{wd: 1, mask: unix.IN_CREATE, name: "b.txt"},
			},
			want: []RawNotification{
				{Op: OpRemove, Path: "/root/a.txt"},
				{Op: OpCreate, Path: "/root/b.txt"},
			},
		},
		{
			name: "different cookies are two moves",
			events: []inotifyEvent{
				{wd: 1, mask: unix.IN_MOVED_FROM, cookie: 1, name: "out.txt"},
				{wd: 1, mask: unix.IN_MOVED_TO, cookie: 2, name: "in.txt"},
			},
			want: []RawNotification{
				{Op: OpRemove, Path: "/root/out.txt"},
				{Op: OpCreate, Path: "/root/in.txt"},
			},
		},
		{
			name: "modify and delete",
			events: []inotifyEvent{
				{wd: 1, mask: unix.IN_MODIFY, name: "f"},
				{wd: 1, mask: unix.IN_DELETE, name: "f"},
			},
			want: []RawNotification{
				{Op: OpWrite, Path: "/root/f"},
				{Op: OpRemove, Path: "/root/f"},
			},
		},
		{
			name:   "unknown descriptor has no path",
			events: []inotifyEvent{{wd: 99, mask: unix.IN_CREATE, name: "f"}},
			want:   []RawNotification{{Op: OpCreate}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iw := newDetachedInotifyWatcher()
			for _, ev := range tt.events {
				iw.handle(ev)
			}
			iw.flushMove()

			got := drain(iw.events)
			require.Len(t, got, len(tt.want))
			for i := range got {
				got[i].Timestamp = time.Time{}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInotifyWatcher_HandleOverflowAndIgnored(t *testing.T) {
	iw := newDetachedInotifyWatcher()

	iw.handle(inotifyEvent{wd: -1, mask: unix.IN_Q_OVERFLOW})
	select {
	case err := <-iw.errors:
		assert.ErrorIs(t, err, ErrEventOverflow)
	default:
		t.Fatal("overflow not reported")
	}

	iw.handle(inotifyEvent{wd: 1, mask: unix.IN_IGNORED})
	assert.Empty(t, iw.watches)
	assert.Empty(t, iw.paths)
}

func TestParseInotifyEvents(t *testing.T) {
	record := func(wd int32, mask, cookie uint32, name string) []byte {
		nameLen := 0
		if name != "" {
			nameLen = (len(name) + 16) &^ 15
		}
		b := make([]byte, unix.SizeofInotifyEvent+nameLen)
		binary.NativeEndian.PutUint32(b[0:], uint32(wd))
		binary.NativeEndian.PutUint32(b[4:], mask)
		binary.NativeEndian.PutUint32(b[8:], cookie)
		binary.NativeEndian.PutUint32(b[12:], uint32(nameLen))
		copy(b[unix.SizeofInotifyEvent:], name)
		return b
	}

	buf := append(record(3, unix.IN_MOVED_FROM, 42, "a.txt"), record(4, unix.IN_IGNORED, 0, "")...)
	events, err := parseInotifyEvents(buf)
	require.NoError(t, err)
	assert.Equal(t, []inotifyEvent{
		{wd: 3, mask: unix.IN_MOVED_FROM, cookie: 42, name: "a.txt"},
		{wd: 4, mask: unix.IN_IGNORED},
	}, events)

	t.Run("truncated header", func(t *testing.T) {
		events, err := parseInotifyEvents(append(record(3, unix.IN_CREATE, 0, "x"), 0, 0, 0))
		assert.ErrorIs(t, err, ErrMalformedEvent)
		assert.Len(t, events, 1)
	})

	t.Run("name longer than the read", func(t *testing.T) {
		full := record(3, unix.IN_CREATE, 0, "name")
		_, err := parseInotifyEvents(full[:len(full)-4])
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}

func TestNewSource_AutoIsInotify(t *testing.T) {
	src, err := NewSource(BackendAuto, slogdiscard.NewDiscardLogger(), nil)
	require.NoError(t, err)
	assert.IsType(t, &InotifyWatcher{}, src)
}
