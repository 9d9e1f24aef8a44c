package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/embargo/pkg/models"
)

func sampleResult(path string) *models.ParseResult {
	r := models.NewParseResult(path, "python", "app")
	r.AddNode(models.Node{Name: "app", Kind: models.KindModule, Arity: models.ArityUnknown})
	r.AddNode(models.Node{Name: "main", Kind: models.KindFunction, Exported: true})
	return r
}

func newFileCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Options{Enabled: true, Backend: BackendFile, Dir: filepath.Join(t.TempDir(), "cache")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "cache", "dir")
		c, err := New(Options{Enabled: true, Dir: dir})
		require.NoError(t, err)
		assert.Equal(t, BackendFile, c.Backend())
		_, err = os.Stat(dir)
		assert.NoError(t, err)
	})

	t.Run("disabled never hits", func(t *testing.T) {
		c, err := New(Options{Enabled: false})
		require.NoError(t, err)
		require.NoError(t, c.Store("/a.py", "h", sampleResult("/a.py")))
		_, ok := c.Get("/a.py", "h")
		assert.False(t, ok)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := New(Options{Enabled: true, Backend: "redis"})
		assert.Error(t, err)
	})

	t.Run("falls back to memory when disk is unusable", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

		c, err := New(Options{Enabled: true, Backend: BackendFile, Dir: filepath.Join(blocker, "cache")})
		require.NoError(t, err)
		assert.Equal(t, BackendMemory, c.Backend())

		require.NoError(t, c.Store("/a.py", "h1", sampleResult("/a.py")))
		_, ok := c.Get("/a.py", "h1")
		assert.True(t, ok)
	})
}

func TestHashBytes(t *testing.T) {
	a := HashBytes([]byte("def main(): pass"))
	b := HashBytes([]byte("def main(): pass"))
	c := HashBytes([]byte("def main(): pass "))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	path := filepath.Join(t.TempDir(), "f.py")
	require.NoError(t, os.WriteFile(path, []byte("def main(): pass"), 0600))
	h, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, a, h)
}

func TestStoreAndGet(t *testing.T) {
	c := newFileCache(t)
	want := sampleResult("/src/app.py")

	require.NoError(t, c.Store("/src/app.py", "hash-1", want))

	got, ok := c.Get("/src/app.py", "hash-1")
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = c.Get("/src/app.py", "hash-2")
	assert.False(t, ok, "hash mismatch is a miss")

	_, ok = c.Get("/src/other.py", "hash-1")
	assert.False(t, ok)
}

func TestGet_FromDiskAfterRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	first, err := New(Options{Enabled: true, Dir: dir})
	require.NoError(t, err)
	require.NoError(t, first.Store("/src/app.py", "h", sampleResult("/src/app.py")))
	require.NoError(t, first.Close())

	second, err := New(Options{Enabled: true, Dir: dir})
	require.NoError(t, err)
	got, ok := second.Get("/src/app.py", "h")
	require.True(t, ok)
	assert.Equal(t, sampleResult("/src/app.py"), got)

	stats, err := second.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, 1, stats.DiskEntries)
	assert.Equal(t, 1, stats.MemoryEntries)
}

func TestGet_SchemaVersionMismatch(t *testing.T) {
	c := newFileCache(t)
	old := sampleResult("/src/app.py")
	old.SchemaVersion = models.SchemaVersion - 1
	data, err := json.Marshal(Entry{
		FilePath:      "/src/app.py",
		ContentHash:   "h",
		SchemaVersion: models.SchemaVersion - 1,
		Timestamp:     time.Now(),
		Result:        old,
	})
	require.NoError(t, err)
	require.NoError(t, c.store.Put("/src/app.py", data))

	_, ok := c.Get("/src/app.py", "h")
	assert.False(t, ok)

	_, err = c.store.Get("/src/app.py")
	assert.ErrorIs(t, err, ErrNotFound, "stale entries are deleted, not upgraded")
}

func TestGet_CorruptEntry(t *testing.T) {
	c := newFileCache(t)
	require.NoError(t, c.store.Put("/src/app.py", []byte("{not json")))

	_, ok := c.Get("/src/app.py", "h")
	assert.False(t, ok)

	_, err := c.store.Get("/src/app.py")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_Expired(t *testing.T) {
	c, err := New(Options{Enabled: true, Backend: BackendMemory, TTL: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, c.Store("/a.py", "h", sampleResult("/a.py")))
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("/a.py", "h")
	assert.False(t, ok)
}

func TestLookup(t *testing.T) {
	c := newFileCache(t)
	path := filepath.Join(t.TempDir(), "app.py")
	require.NoError(t, os.WriteFile(path, []byte("def main():\n    pass\n"), 0600))

	l, err := c.Lookup(path)
	require.NoError(t, err)
	assert.False(t, l.Hit)
	assert.NotEmpty(t, l.Content)
	require.NoError(t, c.Store(path, l.Hash, sampleResult(path)))

	l, err = c.Lookup(path)
	require.NoError(t, err)
	assert.True(t, l.Hit)

	require.NoError(t, os.WriteFile(path, []byte("def main():\n    pass\n#"), 0600))
	l, err = c.Lookup(path)
	require.NoError(t, err)
	assert.False(t, l.Hit, "a one-byte change invalidates the entry")

	_, err = c.Lookup(filepath.Join(t.TempDir(), "missing.py"))
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	c := newFileCache(t)
	require.NoError(t, c.Store("/a.py", "h", sampleResult("/a.py")))
	require.NoError(t, c.Store("/b.py", "h", sampleResult("/b.py")))

	require.NoError(t, c.Clear())

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.DiskEntries)
	assert.Zero(t, stats.MemoryEntries)

	// still usable after a clear
	require.NoError(t, c.Store("/a.py", "h", sampleResult("/a.py")))
	_, ok := c.Get("/a.py", "h")
	assert.True(t, ok)
}

func TestBadgerStore(t *testing.T) {
	store, err := openBadgerStore(badgerConfig{InMemory: true})
	require.NoError(t, err)
	c, err := New(Options{Enabled: true, Backend: BackendMemory})
	require.NoError(t, err)
	c.store = store
	c.backend = BackendBadger
	defer c.Close()

	require.NoError(t, c.Store("/src/lib.rs", "h", sampleResult("/src/lib.rs")))
	c.mem.clear()

	got, ok := c.Get("/src/lib.rs", "h")
	require.True(t, ok)
	assert.Equal(t, "/src/lib.rs", got.Path)

	entries, size, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, entries)
	assert.Positive(t, size)

	require.NoError(t, c.Clear())
	_, err = store.Get("/src/lib.rs")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerBackendOnDisk(t *testing.T) {
	c, err := New(Options{Enabled: true, Backend: BackendBadger, Dir: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, BackendBadger, c.Backend())

	require.NoError(t, c.Store("/a.go", "h", sampleResult("/a.go")))
	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DiskEntries)
}

func TestMemoryTier_Bounded(t *testing.T) {
	tier := newMemoryTier(memoryShards * 2)
	for i := 0; i < 200; i++ {
		tier.put(fmt.Sprintf("/f%d.py", i), &Entry{})
	}
	assert.LessOrEqual(t, tier.len(), memoryShards*2)
}

func TestConcurrentAccess(t *testing.T) {
	c := newFileCache(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("/src/f%d.py", i)
			assert.NoError(t, c.Store(path, "h", sampleResult(path)))
			_, ok := c.Get(path, "h")
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 32, stats.DiskEntries)
	assert.Equal(t, int64(32), stats.Stores)
}
