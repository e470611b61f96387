package cache

import (
	"sync"

	"github.com/Yiling-J/theine-go"
	"github.com/cespare/xxhash/v2"

	"github.com/wrogo/wro/pkg/resource"
)

// Record is a published cache entry. Records are immutable; marking one
// stale replaces it.
type Record struct {
	Key   resource.CacheKey
	Entry *resource.Entry

	// Epoch is the cache epoch the entry was produced under.
	Epoch uint64
	Stale bool
}

// Store holds published records.
type Store interface {
	// Get returns the record for the given key, if it exists.
	Get(key resource.CacheKey) (*Record, bool)

	// Set stores rec under key, replacing any previous record.
	Set(key resource.CacheKey, rec *Record)

	Delete(key resource.CacheKey)

	// Range calls fn for every record until fn returns false.
	Range(fn func(rec *Record) bool)

	// Clear drops every record.
	Clear()

	Len() int

	// Close closes the store, cleaning up any residual resources before returning.
	Close()
}

// MemoryStore is an unbounded map. The number of keys is bounded by the
// (group, type, minimize) triples of the model.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[resource.CacheKey]*Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[resource.CacheKey]*Record)}
}

func (s *MemoryStore) Get(key resource.CacheKey) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

func (s *MemoryStore) Set(key resource.CacheKey, rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
}

func (s *MemoryStore) Delete(key resource.CacheKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

func (s *MemoryStore) Range(fn func(rec *Record) bool) {
	s.mu.RLock()
	records := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	for _, rec := range records {
		if !fn(rec) {
			return
		}
	}
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.records)
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Close() {}

// LRUStore is a bounded store backed by theine. An evicted key is simply
// rebuilt on its next request.
type LRUStore struct {
	client *theine.Cache[uint64, *Record]
}

var _ Store = (*LRUStore)(nil)

func NewLRUStore(maxEntries int64) (*LRUStore, error) {
	client, err := theine.NewBuilder[uint64, *Record](maxEntries).Build()
	if err != nil {
		return nil, err
	}
	return &LRUStore{client: client}, nil
}

func hashKey(key resource.CacheKey) uint64 {
	return xxhash.Sum64String(key.String())
}

func (s *LRUStore) Get(key resource.CacheKey) (*Record, bool) {
	rec, ok := s.client.Get(hashKey(key))
	if !ok || rec.Key != key {
		return nil, false
	}
	return rec, true
}

func (s *LRUStore) Set(key resource.CacheKey, rec *Record) {
	s.client.Set(hashKey(key), rec, 1)
}

func (s *LRUStore) Delete(key resource.CacheKey) {
	s.client.Delete(hashKey(key))
}

func (s *LRUStore) Range(fn func(rec *Record) bool) {
	s.client.Range(func(_ uint64, rec *Record) bool {
		return fn(rec)
	})
}

func (s *LRUStore) Clear() {
	var keys []uint64
	s.client.Range(func(k uint64, _ *Record) bool {
		keys = append(keys, k)
		return true
	})
	for _, k := range keys {
		s.client.Delete(k)
	}
}

func (s *LRUStore) Len() int {
	return s.client.Len()
}

func (s *LRUStore) Close() {
	s.client.Close()
}
