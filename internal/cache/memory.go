package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/seanblong/soko/pkg/models"
)

const defaultMemSize = 512

// MemoryStore is a bounded LRU. Entries are evicted when the store is full or,
// with a positive ttl, when they expire.
type MemoryStore struct {
	lru *expirable.LRU[string, models.CacheEntry]
}

func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = defaultMemSize
	}
	if ttl < 0 {
		ttl = 0
	}
	return &MemoryStore{lru: expirable.NewLRU[string, models.CacheEntry](size, nil, ttl)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (models.CacheEntry, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return models.CacheEntry{}, ErrMiss
	}
	return e, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, e models.CacheEntry) error {
	m.lru.Add(key, e)
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.lru.Purge()
	return nil
}

func (m *MemoryStore) Size(context.Context) (int, error) {
	return m.lru.Len(), nil
}

func (m *MemoryStore) Close() error { return nil }

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*RedisStore)(nil)
)
