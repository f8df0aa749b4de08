package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

type recordingEnqueuer struct {
	mu      sync.Mutex
	paths   []string
	seen    map[string]bool
	known   map[string]bool
	removed []string
	err     error
}

// EnqueueRemoval accepts only paths listed in known.
func (r *recordingEnqueuer) EnqueueRemoval(_ context.Context, path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	r.removed = append(r.removed, path)
	if !r.known[path] {
		return false, nil
	}
	r.paths = append(r.paths, path)
	return true, nil
}

func (r *recordingEnqueuer) EnqueueForIndexing(_ context.Context, path string, priority domain.Priority) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if priority != domain.PriorityNormal {
		return false, errors.New("watcher must enqueue at normal priority")
	}
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if r.seen[path] {
		return false, nil
	}
	r.seen[path] = true
	r.paths = append(r.paths, path)
	return true, nil
}

func (r *recordingEnqueuer) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.paths...)
	sort.Strings(out)
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMatcher(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "# comment\nbuild/\n*.log\n")
	writeFile(t, filepath.Join(root, ".serchaignore"), "drafts/\n")
	m := NewMatcher(root)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"notes.txt", false, false},
		{"docs/report.pdf", false, false},
		{"build", true, true},
		{"build/out.txt", false, true},
		{"server.log", false, true},
		{"drafts", true, true},
		{".git", true, true},
		{"docs/.hidden.md", false, true},
		{"node_modules", true, true},
		{"edit.swp", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Ignored(filepath.Join(root, tt.path), tt.isDir))
		})
	}

	assert.False(t, m.Ignored(root, true), "the root itself is kept")
	assert.True(t, m.Ignored(filepath.Join(filepath.Dir(root), "elsewhere.txt"), false))
}

func TestIsHidden(t *testing.T) {
	assert.True(t, isHidden(".env"))
	assert.True(t, isHidden("a/.b/c.txt"))
	assert.False(t, isHidden("a/b.c/d.txt"))
	assert.False(t, isHidden("."))
}

func TestWalk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "skip/\n")
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "sub", "b.md"), "b")
	writeFile(t, filepath.Join(root, "skip", "c.txt"), "c")
	writeFile(t, filepath.Join(root, ".hidden", "d.txt"), "d")

	var got []string
	require.NoError(t, Walk(context.Background(), root, func(path string) error {
		got = append(got, path)
		return nil
	}))
	sort.Strings(got)
	assert.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "sub", "b.md"),
	}, got)
}

func TestWalk_SingleFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "one.txt")
	writeFile(t, file, "x")

	var got []string
	require.NoError(t, Walk(context.Background(), file, func(path string) error {
		got = append(got, path)
		return nil
	}))
	assert.Equal(t, []string{file}, got)
}

func TestWalk_Errors(t *testing.T) {
	err := Walk(context.Background(), filepath.Join(t.TempDir(), "missing"), func(string) error { return nil })
	assert.Error(t, err)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	stop := errors.New("stop")
	err = Walk(context.Background(), root, func(string) error { return stop })
	assert.ErrorIs(t, err, stop)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Walk(ctx, root, func(string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func newTestWatcher(t *testing.T, root string) (*Watcher, *recordingEnqueuer, *time.Time) {
	t.Helper()
	enq := &recordingEnqueuer{}
	w, err := New(enq, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }
	require.NoError(t, w.Add(root))
	return w, enq, &clock
}

func TestWatcher_Add(t *testing.T) {
	root := t.TempDir()
	w, _, _ := newTestWatcher(t, root)
	assert.Equal(t, []string{root}, w.Roots())

	file := filepath.Join(root, "f.txt")
	writeFile(t, file, "x")
	assert.ErrorIs(t, w.Add(file), domain.ErrInvalidInput)
	assert.Error(t, w.Add(filepath.Join(root, "missing")))
}

func TestWatcher_DebounceCollapsesEvents(t *testing.T) {
	root := t.TempDir()
	w, enq, clock := newTestWatcher(t, root)
	file := filepath.Join(root, "notes.txt")
	writeFile(t, file, "v1")

	w.handleEvent(fsnotify.Event{Name: file, Op: fsnotify.Create})
	*clock = clock.Add(600 * time.Millisecond)
	w.handleEvent(fsnotify.Event{Name: file, Op: fsnotify.Write})

	*clock = clock.Add(600 * time.Millisecond)
	assert.Zero(t, w.flush(context.Background(), false), "last event is inside the window")

	*clock = clock.Add(time.Second)
	assert.Equal(t, 1, w.flush(context.Background(), false))
	assert.Equal(t, []string{file}, enq.Paths())
	assert.Equal(t, 1, w.Enqueued())
}

func TestWatcher_EventFiltering(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "*.log\n")
	w, enq, _ := newTestWatcher(t, root)

	kept := filepath.Join(root, "kept.txt")
	removed := filepath.Join(root, "removed.txt")
	writeFile(t, kept, "x")
	enq.known = map[string]bool{removed: true}

	w.handleEvent(fsnotify.Event{Name: kept, Op: fsnotify.Write | fsnotify.Chmod})
	w.handleEvent(fsnotify.Event{Name: removed, Op: fsnotify.Remove})
	w.handleEvent(fsnotify.Event{Name: filepath.Join(root, "app.log"), Op: fsnotify.Write})
	w.handleEvent(fsnotify.Event{Name: filepath.Join(root, ".hidden"), Op: fsnotify.Create})
	w.handleEvent(fsnotify.Event{Name: kept, Op: fsnotify.Chmod})
	w.handleEvent(fsnotify.Event{Name: "/elsewhere/x.txt", Op: fsnotify.Write})

	w.flush(context.Background(), true)
	assert.Equal(t, []string{kept, removed}, enq.Paths())
}

func TestWatcher_TempFileRemovedBeforeFlush(t *testing.T) {
	root := t.TempDir()
	w, enq, _ := newTestWatcher(t, root)

	tmp := filepath.Join(root, "4913")
	writeFile(t, tmp, "draft")
	w.handleEvent(fsnotify.Event{Name: tmp, Op: fsnotify.Create})
	require.NoError(t, os.Remove(tmp))
	w.handleEvent(fsnotify.Event{Name: tmp, Op: fsnotify.Remove})

	assert.Zero(t, w.flush(context.Background(), true))
	assert.Equal(t, []string{tmp}, enq.removed, "a vanished path is offered as a removal")
	assert.Empty(t, enq.Paths())
	assert.Zero(t, w.Enqueued())
}

func TestWatcher_NewDirectoryIsWalked(t *testing.T) {
	root := t.TempDir()
	w, enq, _ := newTestWatcher(t, root)

	dir := filepath.Join(root, "new")
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "deep", "b.txt"), "b")

	w.handleEvent(fsnotify.Event{Name: dir, Op: fsnotify.Create})
	w.flush(context.Background(), true)

	assert.Equal(t, []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "deep", "b.txt"),
	}, enq.Paths())
	assert.Contains(t, w.fs.WatchList(), filepath.Join(dir, "deep"))
}

func TestWatcher_EnqueueErrorIsLogged(t *testing.T) {
	root := t.TempDir()
	w, enq, _ := newTestWatcher(t, root)
	enq.err = errors.New("queue closed")

	w.handleEvent(fsnotify.Event{Name: filepath.Join(root, "x.txt"), Op: fsnotify.Remove})
	assert.Zero(t, w.flush(context.Background(), true))
	assert.Zero(t, w.Enqueued())
}

func TestWatcher_Run(t *testing.T) {
	root := t.TempDir()
	enq := &recordingEnqueuer{}
	w, err := New(enq, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Add(root))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	file := filepath.Join(root, "live.txt")
	writeFile(t, file, "hello")

	require.Eventually(t, func() bool {
		return len(enq.Paths()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{file}, enq.Paths())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
