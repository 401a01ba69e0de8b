package main

import (
	"bytes"
	"context"
	"dirwatch/internal/signals"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer lets the test read log output while the watcher writes it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"--version"}, signals.NewManual(), &out, &out)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), version)
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"--help"}, signals.NewManual(), &out, &out)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "--no-recursive")
	assert.Contains(t, out.String(), "--show-ignored")
}

func TestRun_ConfigErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{"missing path", []string{filepath.Join(dir, "missing")}},
		{"no path", []string{}},
		{"invalid regex", []string{dir, "-i", "("}},
		{"too many args", []string{dir, dir}},
		{"unknown flag", []string{dir, "--recursive-ish"}},
		{"bad log level", []string{dir, "--log-level", "loud"}},
		{"bad backend", []string{dir, "--backend", "kqueue"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DIRWATCH_PATH", "")
			var out bytes.Buffer
			code := run(context.Background(), tt.args, signals.NewManual(), &out, &out)
			assert.Equal(t, exitError, code)
			assert.Contains(t, out.String(), "Error:")
		})
	}
}

func TestRun_ConfigCommand(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(t.TempDir(), "dirwatch.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("ignore:\n  - '\\.swp$'\n"), 0644))

	var out bytes.Buffer
	code := run(context.Background(),
		[]string{"config", dir, "-c", cfgFile, "-i", `\.tmp$`, "--no-recursive", "--env", "prod", "--backend", "fsnotify"},
		signals.NewManual(), &out, &out)
	require.Equal(t, exitOK, code, out.String())

	yml := out.String()
	assert.Contains(t, yml, "path: "+dir)
	assert.Contains(t, yml, "no_recursive: true")
	assert.Contains(t, yml, "env: prod")
	assert.Contains(t, yml, "backend: fsnotify")
	assert.Contains(t, yml, `\.swp$`)
	assert.Contains(t, yml, `\.tmp$`)
}

func TestRun_WatchUntilTerminated(t *testing.T) {
	dir := t.TempDir()
	sig := signals.NewManual()
	out := &syncBuffer{}

	done := make(chan int, 1)
	go func() {
		done <- run(context.Background(), []string{dir, "--env", "dev", "-i", `\.tmp$`}, sig, out, out)
	}()

	require.Eventually(t, func() bool { return sig.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	ignored := filepath.Join(dir, "a.tmp")
	kept := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(ignored, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(kept, []byte("x"), 0644))

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Created: "+kept))
	}, 2*time.Second, 10*time.Millisecond)

	sig.Fire(signals.Break)
	sig.Fire(signals.Terminate)

	select {
	case code := <-done:
		assert.Equal(t, exitOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("dirwatch did not stop after terminate")
	}

	logs := out.String()
	assert.Contains(t, logs, "ignore configuration")
	assert.Contains(t, logs, "watcher started")
	assert.Contains(t, logs, "break signal received")
	assert.Contains(t, logs, "shutdown signal received")
	assert.Contains(t, logs, "program end")
	assert.NotContains(t, logs, "Created: "+ignored)
}

func TestRun_ContextCancel(t *testing.T) {
	dir := t.TempDir()
	out := &syncBuffer{}
	sig := signals.NewManual()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{dir, "--env", "prod"}, sig, out, out)
	}()

	require.Eventually(t, func() bool { return sig.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, exitOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("dirwatch did not stop after cancel")
	}
}
