package daemon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, dir string) (*stateWatcher, chan string) {
	t.Helper()
	triggers := make(chan string, 16)
	w, err := newStateWatcher(dir, func(reason string) { triggers <- reason }, slog.Default())
	require.NoError(t, err)
	t.Cleanup(w.close)
	w.debounce = 50 * time.Millisecond
	return w, triggers
}

func TestWatcherRelevant(t *testing.T) {
	w, _ := newTestWatcher(t, t.TempDir())

	cases := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write desired state", fsnotify.Event{Name: "/state/databases.json", Op: fsnotify.Write}, true},
		{"create registry entry", fsnotify.Event{Name: "/state/sources/mysql.json", Op: fsnotify.Create}, true},
		{"remove desired state", fsnotify.Event{Name: "/state/databases.json", Op: fsnotify.Remove}, true},
		{"rename", fsnotify.Event{Name: "/state/databases.json", Op: fsnotify.Rename}, true},
		{"chmod only", fsnotify.Event{Name: "/state/databases.json", Op: fsnotify.Chmod}, false},
		{"editor temp file", fsnotify.Event{Name: "/state/.databases.json.swp", Op: fsnotify.Write}, false},
		{"readme", fsnotify.Event{Name: "/state/README.md", Op: fsnotify.Write}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, w.relevant(tc.event))
		})
	}
}

func TestWatcherSourcesDirCreationExtendsWatch(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWatcher(t, dir)

	sources := filepath.Join(dir, "sources")
	require.NoError(t, os.Mkdir(sources, 0o750))

	// The directory itself is not state content, but after it appears the
	// watcher must cover files inside it.
	event := fsnotify.Event{Name: sources, Op: fsnotify.Create}
	require.False(t, w.relevant(event))
	require.Contains(t, w.watcher.WatchList(), sources)
}

func TestWatcherTriggersOnStateChange(t *testing.T) {
	dir := t.TempDir()
	w, triggers := newTestWatcher(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "databases.json"), []byte(`{"databases":{}}`), 0o600))

	select {
	case reason := <-triggers:
		require.Equal(t, "state-change", reason)
	case <-time.After(5 * time.Second):
		t.Fatal("no trigger after state change")
	}
}

func TestWatcherCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	w, triggers := newTestWatcher(t, dir)
	w.debounce = 150 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	// A git checkout updates several files back to back.
	for _, name := range []string{"databases.json", "a.json", "b.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{}`), 0o600))
	}

	select {
	case <-triggers:
	case <-time.After(5 * time.Second):
		t.Fatal("no trigger after burst")
	}

	select {
	case reason := <-triggers:
		t.Fatalf("burst produced a second trigger: %s", reason)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	w, triggers := newTestWatcher(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scratch"), 0o600))

	select {
	case reason := <-triggers:
		t.Fatalf("unexpected trigger: %s", reason)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherMissingDirectory(t *testing.T) {
	_, err := newStateWatcher(filepath.Join(t.TempDir(), "absent"), func(string) {}, slog.Default())
	require.Error(t, err)
}
