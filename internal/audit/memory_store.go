package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/models"
	"github.com/google/uuid"
)

// MemoryStore keeps audit rows in process memory. Rows are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []models.AuditLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry *models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	s.mu.Lock()
	s.entries = append(s.entries, *entry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AppendBatch(ctx context.Context, entries []*models.AuditLog) error {
	for _, entry := range entries {
		if err := s.Append(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, q Query) ([]models.AuditLog, int64, error) {
	s.mu.RLock()
	matched := make([]models.AuditLog, 0)
	for i := range s.entries {
		if q.Matches(&s.entries[i]) {
			matched = append(matched, s.entries[i])
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := int64(len(matched))
	start := min(q.Offset(), len(matched))
	end := min(start+q.PageSize, len(matched))

	return matched[start:end], total, nil
}

func (s *MemoryStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var removed int64
	for _, entry := range s.entries {
		if entry.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
