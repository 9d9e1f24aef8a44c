package watch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func tempRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	return root
}

func goOnly(path string) bool {
	return filepath.Ext(path) == ".go"
}

func TestNewWatcher(t *testing.T) {
	root := tempRoot(t)

	tests := []struct {
		name     string
		debounce time.Duration
		want     time.Duration
	}{
		{name: "default debounce", debounce: 0, want: DefaultDebounce},
		{name: "custom debounce", debounce: time.Second, want: time.Second},
		{name: "negative debounce defaults", debounce: -time.Second, want: DefaultDebounce},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWatcher(root, WithDebounce(tt.debounce))
			if err != nil {
				t.Fatalf("NewWatcher() error = %v", err)
			}
			defer w.Stop()

			if w.fsWatcher == nil {
				t.Error("fsWatcher should not be nil")
			}
			if w.root != root {
				t.Errorf("root = %q, want %q", w.root, root)
			}
			if w.debounce != tt.want {
				t.Errorf("debounce = %v, want %v", w.debounce, tt.want)
			}
			if w.pending == nil {
				t.Error("pending map should be initialized")
			}
		})
	}
}

func TestWatcher_Options(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWatcher(tempRoot(t), WithFilter(nil, goOnly), WithOutput(&buf), WithLogger(nil))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if !w.keepDir("/any/dir") {
		t.Error("nil keepDir should accept everything")
	}
	if w.keepFile("/a/b.py") || !w.keepFile("/a/b.go") {
		t.Error("keepFile should be the supplied filter")
	}
	if w.out != &buf {
		t.Error("output writer not applied")
	}
	if w.logger == nil {
		t.Error("nil logger should keep the default")
	}
}

func TestWatcher_Stop(t *testing.T) {
	w, err := NewWatcher(tempRoot(t))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestWatcher_addTree(t *testing.T) {
	root := tempRoot(t)
	for _, dir := range []string{"src/api", "vendor/dep", "web"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	keepDir := func(path string) bool { return filepath.Base(path) != "vendor" }
	w, err := NewWatcher(root, WithFilter(keepDir, nil))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if err := w.addTree(root); err != nil {
		t.Fatalf("addTree() error = %v", err)
	}

	want := []string{
		root,
		filepath.Join(root, "src"),
		filepath.Join(root, "src", "api"),
		filepath.Join(root, "web"),
	}
	got := w.WatchedDirs()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("WatchedDirs() = %v, want %v", got, want)
	}
}

func TestWatcher_addTreeMissingRoot(t *testing.T) {
	root := filepath.Join(tempRoot(t), "missing")
	w, err := NewWatcher(root)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err == nil {
		t.Error("Start() should fail for a missing root")
	}
}

func TestWatcher_handleEvent(t *testing.T) {
	root := tempRoot(t)
	w, err := NewWatcher(root, WithFilter(nil, goOnly))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	goFile := filepath.Join(root, "main.go")
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write", fsnotify.Event{Name: goFile, Op: fsnotify.Write}, true},
		{"create", fsnotify.Event{Name: goFile, Op: fsnotify.Create}, true},
		{"remove", fsnotify.Event{Name: goFile, Op: fsnotify.Remove}, true},
		{"rename", fsnotify.Event{Name: goFile, Op: fsnotify.Rename}, true},
		{"chmod ignored", fsnotify.Event{Name: goFile, Op: fsnotify.Chmod}, false},
		{"filtered file", fsnotify.Event{Name: filepath.Join(root, "notes.txt"), Op: fsnotify.Write}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clear(w.pending)
			w.handleEvent(tt.event)
			_, got := w.pending[tt.event.Name]
			if got != tt.want {
				t.Errorf("pending[%s] = %v, want %v", tt.event.Name, got, tt.want)
			}
		})
	}
}

func TestWatcher_handleEventNewDirectory(t *testing.T) {
	root := tempRoot(t)
	w, err := NewWatcher(root, WithFilter(func(path string) bool {
		return filepath.Base(path) != "node_modules"
	}, nil))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	pkg := filepath.Join(root, "pkg")
	skipped := filepath.Join(root, "node_modules")
	for _, dir := range []string{pkg, skipped} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		w.handleEvent(fsnotify.Event{Name: dir, Op: fsnotify.Create})
	}

	got := w.WatchedDirs()
	if len(got) != 1 || got[0] != pkg {
		t.Errorf("WatchedDirs() = %v, want [%s]", got, pkg)
	}
	if len(w.pending) != 0 {
		t.Errorf("directory creation should not be pending, got %v", w.pending)
	}
}

func TestWatcher_processPending(t *testing.T) {
	w, err := NewWatcher(tempRoot(t), WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	old := time.Now().Add(-time.Second)
	w.pending["/r/b.go"] = old
	w.pending["/r/a.go"] = old

	got := w.processPending()
	if strings.Join(got, ",") != "/r/a.go,/r/b.go" {
		t.Errorf("processPending() = %v, want sorted batch", got)
	}
	if len(w.pending) != 0 {
		t.Errorf("pending should be drained, got %d entries", len(w.pending))
	}
}

func TestWatcher_processPendingWaitsForQuiet(t *testing.T) {
	w, err := NewWatcher(tempRoot(t), WithDebounce(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	// one recent edit holds back the whole batch
	w.pending["/r/old.go"] = time.Now().Add(-2 * time.Hour)
	w.pending["/r/new.go"] = time.Now()

	if got := w.processPending(); got != nil {
		t.Errorf("processPending() = %v, want nil", got)
	}
	if len(w.pending) != 2 {
		t.Errorf("pending should be kept, got %d entries", len(w.pending))
	}
}

func TestWatcher_processPendingEmpty(t *testing.T) {
	w, err := NewWatcher(tempRoot(t))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if got := w.processPending(); got != nil {
		t.Errorf("processPending() = %v, want nil", got)
	}
}

func TestWatcher_runCallback(t *testing.T) {
	root := tempRoot(t)
	var buf bytes.Buffer
	w, err := NewWatcher(root, WithOutput(&buf))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	// no callback is a no-op
	w.runCallback(context.Background(), []string{filepath.Join(root, "a.go")})
	if buf.Len() != 0 {
		t.Errorf("output without callback = %q", buf.String())
	}

	var got []string
	w.SetCallback(func(ctx context.Context, changed []string) {
		got = changed
	})
	w.runCallback(context.Background(), []string{filepath.Join(root, "api", "a.go")})

	if len(got) != 1 {
		t.Fatalf("callback got %v", got)
	}
	if !strings.Contains(buf.String(), filepath.Join("api", "a.go")) {
		t.Errorf("output should list the relative path, got %q", buf.String())
	}
}

func TestWatcher_StartWithContext(t *testing.T) {
	w, err := NewWatcher(tempRoot(t))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := w.Start(ctx); err != context.DeadlineExceeded {
		t.Errorf("Start() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestWatcher_StartAfterStop(t *testing.T) {
	root := tempRoot(t)
	w, err := NewWatcher(root)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.Stop()

	if err := w.Start(context.Background()); err == nil {
		t.Error("Start() on a closed watcher should fail to add directories")
	}
}

func TestWatcher_StartBatchesChanges(t *testing.T) {
	root := tempRoot(t)
	w, err := NewWatcher(root, WithDebounce(50*time.Millisecond), WithFilter(nil, goOnly))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	var (
		mu      sync.Mutex
		batches [][]string
	)
	done := make(chan struct{}, 1)
	w.SetCallback(func(ctx context.Context, changed []string) {
		mu.Lock()
		batches = append(batches, changed)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go w.Start(ctx)

	// give the watcher time to register the root
	time.Sleep(100 * time.Millisecond)

	for _, name := range []string{"a.go", "b.go", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("package x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for callback")
	}

	mu.Lock()
	defer mu.Unlock()
	var all []string
	for _, b := range batches {
		all = append(all, b...)
	}
	for _, p := range all {
		if filepath.Ext(p) != ".go" {
			t.Errorf("filtered file reported: %s", p)
		}
	}
	if len(all) == 0 {
		t.Error("expected changed .go files")
	}
}
