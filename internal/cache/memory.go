package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const memoryShards = 16

// memoryTier is a bounded, sharded map of decoded entries. Each shard evicts
// its oldest insertion once full.
type memoryTier struct {
	shards [memoryShards]memoryShard
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	limit   int
}

func newMemoryTier(maxEntries int) *memoryTier {
	perShard := maxEntries / memoryShards
	if perShard < 1 {
		perShard = 1
	}
	t := &memoryTier{}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]*Entry)
		t.shards[i].limit = perShard
	}
	return t
}

func (t *memoryTier) shard(key string) *memoryShard {
	return &t.shards[xxhash.Sum64String(key)%memoryShards]
}

func (t *memoryTier) get(key string) (*Entry, bool) {
	s := t.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

func (t *memoryTier) put(key string, e *Entry) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; !exists {
		for len(s.entries) >= s.limit && len(s.order) > 0 {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.entries, oldest)
		}
		s.order = append(s.order, key)
	}
	s.entries[key] = e
}

func (t *memoryTier) delete(key string) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (t *memoryTier) clear() {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		s.entries = make(map[string]*Entry)
		s.order = nil
		s.mu.Unlock()
	}
}

func (t *memoryTier) len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
