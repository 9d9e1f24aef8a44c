// Package watch re-runs analysis when source files under a root change.
package watch

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a batch must be quiet before it is flushed.
const DefaultDebounce = 500 * time.Millisecond

// Callback receives the absolute paths changed since the last run, sorted.
type Callback func(ctx context.Context, changed []string)

// Watcher monitors a directory tree and batches changes to source files.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	debounce  time.Duration
	keepDir   func(path string) bool
	keepFile  func(path string) bool
	callback  Callback
	logger    *slog.Logger
	out       io.Writer

	mu      sync.Mutex
	pending map[string]time.Time
	running sync.Mutex
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithFilter restricts which directories are watched and which file
// changes are reported. Nil functions accept everything.
func WithFilter(keepDir, keepFile func(path string) bool) Option {
	return func(w *Watcher) {
		if keepDir != nil {
			w.keepDir = keepDir
		}
		if keepFile != nil {
			w.keepFile = keepFile
		}
	}
}

// WithLogger sets the logger for watch errors.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOutput sets where status lines are printed.
func WithOutput(out io.Writer) Option {
	return func(w *Watcher) {
		if out != nil {
			w.out = out
		}
	}
}

// NewWatcher creates a watcher for root.
func NewWatcher(root string, opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	accept := func(string) bool { return true }
	w := &Watcher{
		fsWatcher: fsWatcher,
		root:      root,
		debounce:  DefaultDebounce,
		keepDir:   accept,
		keepFile:  accept,
		logger:    slog.New(slog.DiscardHandler),
		out:       io.Discard,
		pending:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// SetCallback sets the function run for each flushed batch.
func (w *Watcher) SetCallback(cb Callback) {
	w.callback = cb
}

// Start watches until ctx is cancelled or the watcher is stopped.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}

	color.New(color.FgCyan).Fprintf(w.out, "Watching for changes in %s...\n", w.root)
	color.New(color.FgCyan).Fprintln(w.out, "Press Ctrl+C to stop")

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// addTree registers every kept directory below dir.
func (w *Watcher) addTree(dir string) error {
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
		if !w.keepDir(path) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	path := event.Name

	if event.Has(fsnotify.Create) && isDir(path) {
		if w.keepDir(path) {
			if err := w.addTree(path); err != nil {
				w.logger.Debug("watch new directory", "path", path, "error", err)
			}
		}
		return
	}

	if !w.keepFile(path) {
		return
	}

	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if batch := w.processPending(); len(batch) > 0 {
				w.runCallback(ctx, batch)
			}
		}
	}
}

// processPending drains the pending set once the newest change is older
// than the debounce period. A burst of edits is reported as one batch.
func (w *Watcher) processPending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return nil
	}
	var newest time.Time
	for _, t := range w.pending {
		if t.After(newest) {
			newest = t
		}
	}
	if time.Since(newest) < w.debounce {
		return nil
	}

	batch := make([]string, 0, len(w.pending))
	for path := range w.pending {
		batch = append(batch, path)
	}
	clear(w.pending)
	slices.Sort(batch)
	return batch
}

// runCallback runs one batch at a time.
func (w *Watcher) runCallback(ctx context.Context, batch []string) {
	if w.callback == nil {
		return
	}
	w.running.Lock()
	defer w.running.Unlock()

	yellow := color.New(color.FgYellow)
	for _, path := range batch {
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			rel = path
		}
		yellow.Fprintf(w.out, "Changed: %s\n", rel)
	}

	w.callback(ctx, batch)
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// WatchedDirs returns the directories currently registered.
func (w *Watcher) WatchedDirs() []string {
	dirs := w.fsWatcher.WatchList()
	slices.Sort(dirs)
	return dirs
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
