package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// DefaultDebounce is used when no debounce is configured.
const DefaultDebounce = 500 * time.Millisecond

// Enqueuer receives the paths the watcher sees change.
type Enqueuer interface {
	EnqueueForIndexing(ctx context.Context, path string, priority domain.Priority) (bool, error)

	// EnqueueRemoval queues a path whose file is gone. It ignores paths
	// that were never indexed.
	EnqueueRemoval(ctx context.Context, path string) (bool, error)
}

// Watcher turns filesystem events under its roots into NORMAL priority
// enqueues. Events for one path within the debounce window collapse into a
// single enqueue. Removed and renamed paths are enqueued as removals; the
// pipeline deletes documents whose file is gone.
type Watcher struct {
	fs       *fsnotify.Watcher
	indexer  Enqueuer
	debounce time.Duration
	now      func() time.Time

	mu       sync.Mutex
	roots    map[string]*Matcher
	pending  map[string]time.Time
	enqueued int
}

// New creates a watcher. A debounce of zero uses DefaultDebounce.
func New(indexer Enqueuer, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fs:       fsw,
		indexer:  indexer,
		debounce: debounce,
		now:      time.Now,
		roots:    make(map[string]*Matcher),
		pending:  make(map[string]time.Time),
	}, nil
}

// Add watches root and every directory below it that is not ignored.
func (w *Watcher) Add(root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidInput, root)
	}

	matcher := NewMatcher(root)
	w.mu.Lock()
	w.roots[root] = matcher
	w.mu.Unlock()

	return w.addTree(root, matcher)
}

// Roots returns the watched roots, sorted.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	roots := make([]string, 0, len(w.roots))
	for r := range w.roots {
		roots = append(roots, r)
	}
	sort.Strings(roots)
	return roots
}

// Enqueued returns how many paths have been handed to the indexer.
func (w *Watcher) Enqueued() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enqueued
}

func (w *Watcher) addTree(dir string, matcher *Matcher) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if matcher.Ignored(path, true) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			logger.Warn("watch %s: %v", path, err)
		}
		return nil
	})
}

// Run processes events until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	tick := w.debounce / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logger.Warn("watcher event queue overflowed; rescan with 'sercha-indexer index'")
				continue
			}
			logger.Warn("watcher error: %v", err)

		case <-ticker.C:
			w.flush(ctx, false)
		}
	}
}

// handleEvent records a changed path. New directories are watched and
// their existing files recorded.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	matcher := w.matcherFor(event.Name)
	if matcher == nil {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if matcher.Ignored(event.Name, true) {
				return
			}
			if err := w.addTree(event.Name, matcher); err != nil {
				logger.Warn("watch %s: %v", event.Name, err)
			}
			_ = Walk(context.Background(), event.Name, func(path string) error {
				if !matcher.Ignored(path, false) {
					w.record(path)
				}
				return nil
			})
			return
		}
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if matcher.Ignored(event.Name, false) {
		return
	}
	w.record(event.Name)
}

func (w *Watcher) record(path string) {
	w.mu.Lock()
	w.pending[path] = w.now()
	w.mu.Unlock()
}

// matcherFor returns the matcher of the deepest root containing path.
func (w *Watcher) matcherFor(path string) *Matcher {
	w.mu.Lock()
	defer w.mu.Unlock()

	var best string
	for root := range w.roots {
		if (path == root || strings.HasPrefix(path, root+string(filepath.Separator))) && len(root) > len(best) {
			best = root
		}
	}
	if best == "" {
		return nil
	}
	return w.roots[best]
}

// flush enqueues paths that have been quiet for the debounce window, or
// every pending path when all is set.
func (w *Watcher) flush(ctx context.Context, all bool) int {
	cutoff := w.now().Add(-w.debounce)

	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if all || !last.After(cutoff) {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	sort.Strings(ready)
	added := 0
	for _, path := range ready {
		var ok bool
		var err error
		if _, statErr := os.Lstat(path); errors.Is(statErr, fs.ErrNotExist) {
			ok, err = w.indexer.EnqueueRemoval(ctx, path)
		} else {
			ok, err = w.indexer.EnqueueForIndexing(ctx, path, domain.PriorityNormal)
		}
		if err != nil {
			logger.Warn("enqueue %s: %v", path, err)
			continue
		}
		if ok {
			added++
		}
	}
	if len(ready) > 0 {
		logger.Debug("watcher enqueued %d of %d changed paths", added, len(ready))
	}

	w.mu.Lock()
	w.enqueued += added
	w.mu.Unlock()
	return added
}

// Close releases the watcher without running it.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
