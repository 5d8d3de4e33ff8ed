package ratelimit

import (
	"context"
	"sync"

	"github.com/aman-churiwal/gatekeeper/internal/models"
)

// MemoryStore is the default single-process EntryStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[EntryKey]*models.RateLimitEntry
	locks   *KeyLocks
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[EntryKey]*models.RateLimitEntry),
		locks:   NewKeyLocks(),
	}
}

func (s *MemoryStore) Update(ctx context.Context, key EntryKey, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.locks.Lock(key.String())
	defer unlock()

	s.mu.RLock()
	current := s.entries[key].Clone()
	s.mu.RUnlock()

	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}

	next = next.Clone()
	next.IdentityHash = key.IdentityHash
	next.Endpoint = key.Endpoint

	s.mu.Lock()
	s.entries[key] = next
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) Get(_ context.Context, key EntryKey) (*models.RateLimitEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[key].Clone(), nil
}

func (s *MemoryStore) CountBlocked(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, entry := range s.entries {
		if entry.Blocked {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ClearBlocks(ctx context.Context) (int64, error) {
	s.mu.RLock()
	var keys []EntryKey
	for key, entry := range s.entries {
		if entry.Blocked {
			keys = append(keys, key)
		}
	}
	s.mu.RUnlock()

	var n int64
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		unlock := s.locks.Lock(key.String())
		s.mu.Lock()
		if entry := s.entries[key]; entry != nil && entry.Blocked {
			entry.Blocked = false
			n++
		}
		s.mu.Unlock()
		unlock()
	}
	return n, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
