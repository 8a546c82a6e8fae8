package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend keeps values in a bounded in-process LRU. maxTTL caps the
// lifetime of every entry; shorter per-call TTLs are honoured on read.
type MemoryBackend struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

func NewMemoryBackend(size int, maxTTL time.Duration) *MemoryBackend {
	if size <= 0 {
		size = 10_000
	}
	return &MemoryBackend{
		lru: expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		now: time.Now,
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		m.lru.Remove(key)
		return nil, ErrMiss
	}
	return entry.value, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.lru.Add(key, entry)
	return nil
}
