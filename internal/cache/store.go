// Package cache keeps flattened config and message entries in memory for O(1)
// point lookups. Multi-key mutations (language replacement, invalidation) are
// atomic with respect to readers: a reader sees either the fully-old or the
// fully-new key set, never a mix.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/lbeltrame/go_lingo/internal/keypath"
)

type entryClass uint8

const (
	classConfig entryClass = iota
	classMessage
)

// entryKey addresses one flattened leaf. Config entries leave lang empty.
type entryKey struct {
	class      entryClass
	collection string
	lang       string
	key        string
}

// Options configures the optional capacity bound and TTL of a Store.
// A zero MaxSize means unbounded; a zero TTL means entries never expire.
type Options struct {
	MaxSize int
	TTL     time.Duration
}

// Store is the shared in-memory view of remote documents. All access goes
// through an RWMutex: point reads take the read lock, multi-key mutations
// take the write lock so concurrent readers never observe a torn update.
type Store struct {
	mu      sync.RWMutex
	entries *expirable.LRU[entryKey, any]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	capacity  int
}

// NewStore creates a cache store with the given bounds.
func NewStore(opts Options) *Store {
	s := &Store{capacity: opts.MaxSize}
	s.entries = expirable.NewLRU[entryKey, any](opts.MaxSize, func(entryKey, any) {
		s.evictions.Add(1)
	}, opts.TTL)
	return s
}

// GetConfig returns a cached config value, or def when absent or expired.
func (s *Store) GetConfig(collection, key string, def any) any {
	return s.get(entryKey{classConfig, collection, "", key}, def)
}

// GetMessage returns a cached message value, or def when absent or expired.
func (s *Store) GetMessage(collection, lang, key string, def any) any {
	return s.get(entryKey{classMessage, collection, lang, key}, def)
}

func (s *Store) get(key entryKey, def any) any {
	s.mu.RLock()
	value, ok := s.entries.Get(key)
	s.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		return def
	}
	s.hits.Add(1)
	return value
}

// PutConfigData flattens nested config data and stores each leaf. Leaves
// overwrite prior values for their key; other keys are left alone. Not
// atomic per call: wrap in ReplaceConfigData when readers must not observe
// a partial update.
func (s *Store) PutConfigData(collection string, data map[string]any) {
	flat := keypath.Flatten("", data)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range flat {
		s.entries.Add(entryKey{classConfig, collection, "", key}, value)
	}
}

// PutMessageData flattens nested message data for one language and stores
// each leaf. Same non-atomicity caveat as PutConfigData.
func (s *Store) PutMessageData(collection, lang string, data map[string]any) {
	flat := keypath.Flatten("", data)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range flat {
		s.entries.Add(entryKey{classMessage, collection, lang, key}, value)
	}
}

// ReplaceConfigData atomically swaps the config slice of a collection:
// new leaves are written first, then stale keys absent from data are purged,
// all under the write lock.
func (s *Store) ReplaceConfigData(collection string, data map[string]any) {
	flat := keypath.Flatten("", data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(flat, func(k entryKey) bool {
		return k.class == classConfig && k.collection == collection
	}, func(key string) entryKey {
		return entryKey{classConfig, collection, "", key}
	})
}

// ReplaceLanguageData atomically swaps all message entries of one
// (collection, language) pair.
func (s *Store) ReplaceLanguageData(collection, lang string, data map[string]any) {
	flat := keypath.Flatten("", data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(flat, func(k entryKey) bool {
		return k.class == classMessage && k.collection == collection && k.lang == lang
	}, func(key string) entryKey {
		return entryKey{classMessage, collection, lang, key}
	})
}

// replaceLocked inserts all new leaves, then removes matching entries whose
// key is not part of the new data. Insert-before-purge keeps every live key
// reachable throughout. Caller holds the write lock.
func (s *Store) replaceLocked(flat map[string]any, match func(entryKey) bool, makeKey func(string) entryKey) {
	for key, value := range flat {
		s.entries.Add(makeKey(key), value)
	}
	for _, existing := range s.entries.Keys() {
		if !match(existing) {
			continue
		}
		if _, fresh := flat[existing.key]; !fresh {
			s.entries.Remove(existing)
		}
	}
}

// InvalidateCollection removes every entry of a collection, both classes.
// Idempotent. O(n) in cache size.
func (s *Store) InvalidateCollection(collection string) {
	s.removeMatching(func(k entryKey) bool { return k.collection == collection })
}

// InvalidateLanguage removes the message entries of one (collection,
// language) pair.
func (s *Store) InvalidateLanguage(collection, lang string) {
	s.removeMatching(func(k entryKey) bool {
		return k.class == classMessage && k.collection == collection && k.lang == lang
	})
}

// InvalidateAll removes every cached entry.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Purge()
}

func (s *Store) removeMatching(match func(entryKey) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.entries.Keys() {
		if match(key) {
			s.entries.Remove(key)
		}
	}
}

// HasCollection reports whether any entry of the collection is cached.
func (s *Store) HasCollection(collection string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.entries.Keys() {
		if key.collection == collection {
			return true
		}
	}
	return false
}

// Len returns the current number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Len()
}

// Stats returns a point-in-time snapshot of the cache counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
		Size:      int64(s.Len()),
		Capacity:  int64(s.capacity),
	}
}
