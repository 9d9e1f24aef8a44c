package cache

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/panbanda/embargo/pkg/models"
)

// Backend names a persistent store implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendBadger Backend = "badger"
	BackendMemory Backend = "memory"
)

// DefaultMaxMemoryEntries bounds the in-memory tier when no limit is configured.
const DefaultMaxMemoryEntries = 1000

// Options configures a Cache.
type Options struct {
	Enabled          bool
	Backend          Backend
	Dir              string
	TTL              time.Duration // 0 disables expiry
	MaxMemoryEntries int
	Logger           *slog.Logger
}

// Cache stores parse results keyed by file path and validated by content hash
// and schema version. A sharded in-memory tier sits in front of an optional
// persistent Store.
type Cache struct {
	enabled bool
	backend Backend
	dir     string
	ttl     time.Duration
	mem     *memoryTier
	store   Store
	logger  *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	stores atomic.Int64
}

// Entry is the persisted form of a cached parse result.
type Entry struct {
	FilePath      string              `json:"file_path"`
	ContentHash   string              `json:"content_hash"`
	SchemaVersion int                 `json:"schema_version"`
	Timestamp     time.Time           `json:"timestamp"`
	Result        *models.ParseResult `json:"result"`
}

// New creates a cache. An unusable persistent backend is not an error: the
// cache logs a warning and continues memory-only.
func New(opts Options) (*Cache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Backend == "" {
		opts.Backend = BackendFile
	}
	switch opts.Backend {
	case BackendFile, BackendBadger, BackendMemory:
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
	maxEntries := opts.MaxMemoryEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxMemoryEntries
	}

	c := &Cache{
		enabled: opts.Enabled,
		backend: opts.Backend,
		dir:     opts.Dir,
		ttl:     opts.TTL,
		mem:     newMemoryTier(maxEntries),
		logger:  logger,
	}
	if !opts.Enabled || opts.Backend == BackendMemory {
		return c, nil
	}

	store, err := openStore(opts.Backend, opts.Dir, logger)
	if err != nil {
		logger.Warn("cache backend unavailable, using memory only",
			"backend", opts.Backend, "dir", opts.Dir, "error", err)
		c.backend = BackendMemory
		return c, nil
	}
	c.store = store
	return c, nil
}

func openStore(backend Backend, dir string, logger *slog.Logger) (Store, error) {
	switch backend {
	case BackendBadger:
		return openBadgerStore(badgerConfig{Path: dir, Logger: logger})
	default:
		return newFileStore(dir)
	}
}

// HashFile computes a BLAKE3 hash of a file's contents.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes computes a BLAKE3 hash of bytes and returns it as a hex string.
func HashBytes(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Enabled reports whether lookups can ever hit.
func (c *Cache) Enabled() bool { return c.enabled }

// Backend reports the backend actually in use, which may be BackendMemory
// after a fallback.
func (c *Cache) Backend() Backend { return c.backend }

// Get returns the cached result for path when its stored hash equals hash
// and it was written under the current schema version.
func (c *Cache) Get(path, hash string) (*models.ParseResult, bool) {
	if !c.enabled {
		return nil, false
	}

	if e, ok := c.mem.get(path); ok {
		if c.valid(e, hash) {
			c.hits.Add(1)
			return e.Result, true
		}
		c.mem.delete(path)
	}

	if c.store == nil {
		c.misses.Add(1)
		return nil, false
	}

	data, err := c.store.Get(path)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Debug("cache read failed", "path", path, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.Result == nil {
		c.logger.Debug("discarding corrupt cache entry", "path", path)
		c.evict(path)
		c.misses.Add(1)
		return nil, false
	}
	if !c.valid(&e, hash) {
		if e.ContentHash == hash && e.SchemaVersion != models.SchemaVersion {
			c.logger.Debug("discarding cache entry from another schema version",
				"path", path, "version", e.SchemaVersion, "want", models.SchemaVersion)
		}
		c.evict(path)
		c.misses.Add(1)
		return nil, false
	}

	c.mem.put(path, &e)
	c.hits.Add(1)
	return e.Result, true
}

func (c *Cache) valid(e *Entry, hash string) bool {
	if e.ContentHash != hash || e.SchemaVersion != models.SchemaVersion {
		return false
	}
	if e.Result == nil || e.Result.SchemaVersion != models.SchemaVersion {
		return false
	}
	if c.ttl > 0 && time.Since(e.Timestamp) > c.ttl {
		return false
	}
	return true
}

// evict removes a stale entry from both tiers. Stale entries are never upgraded.
func (c *Cache) evict(path string) {
	c.mem.delete(path)
	if c.store != nil {
		if err := c.store.Delete(path); err != nil {
			c.logger.Debug("cache delete failed", "path", path, "error", err)
		}
	}
}

// Lookup is the outcome of reading and checking one file.
type Lookup struct {
	Content []byte
	Hash    string
	Result  *models.ParseResult
	Hit     bool
}

// Lookup reads path, hashes its content and consults the cache. The content
// is returned so a miss can be parsed without a second read.
func (c *Cache) Lookup(path string) (Lookup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lookup{}, err
	}
	l := Lookup{Content: data, Hash: HashBytes(data)}
	l.Result, l.Hit = c.Get(path, l.Hash)
	return l, nil
}

// Store saves result for path under hash.
func (c *Cache) Store(path, hash string, result *models.ParseResult) error {
	if !c.enabled || result == nil {
		return nil
	}

	e := &Entry{
		FilePath:      path,
		ContentHash:   hash,
		SchemaVersion: models.SchemaVersion,
		Timestamp:     time.Now(),
		Result:        result,
	}
	c.mem.put(path, e)
	c.stores.Add(1)

	if c.store == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry for %s: %w", path, err)
	}
	if err := c.store.Put(path, data); err != nil {
		return fmt.Errorf("write cache entry for %s: %w", path, err)
	}
	return nil
}

// Invalidate removes the entry for path.
func (c *Cache) Invalidate(path string) error {
	c.mem.delete(path)
	if c.store == nil {
		return nil
	}
	return c.store.Delete(path)
}

// Clear removes all cache entries.
func (c *Cache) Clear() error {
	c.mem.clear()
	if c.store == nil {
		return nil
	}
	return c.store.Clear()
}

// Close releases the persistent store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// Stats returns cache statistics.
type Stats struct {
	Backend       Backend `json:"backend"`
	Dir           string  `json:"dir,omitempty"`
	MemoryEntries int     `json:"memory_entries"`
	DiskEntries   int     `json:"disk_entries"`
	DiskBytes     int64   `json:"disk_bytes"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Stores        int64   `json:"stores"`
}

// Stats returns statistics about the cache.
func (c *Cache) Stats() (*Stats, error) {
	stats := &Stats{
		Backend:       c.backend,
		MemoryEntries: c.mem.len(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Stores:        c.stores.Load(),
	}
	if c.store == nil {
		return stats, nil
	}
	stats.Dir = c.dir
	entries, size, err := c.store.Stats()
	if err != nil {
		return nil, err
	}
	stats.DiskEntries = entries
	stats.DiskBytes = size
	return stats, nil
}
