package ratelimit

import (
	"context"

	"github.com/aman-churiwal/gatekeeper/internal/models"
)

// EntryKey identifies one counter record.
type EntryKey struct {
	IdentityHash string
	Endpoint     string
}

func (k EntryKey) String() string {
	return k.IdentityHash + ":" + k.Endpoint
}

// UpdateFunc receives a private copy of the stored entry (nil when none exists)
// and returns the entry to persist, or nil to leave the store untouched.
// Stores with optimistic concurrency may call it more than once.
type UpdateFunc func(current *models.RateLimitEntry) (*models.RateLimitEntry, error)

// EntryStore is the backing store contract for rate limit counters.
//
// Update must run the read-modify-write for one key atomically with respect
// to every other Update of the same key.
type EntryStore interface {
	Update(ctx context.Context, key EntryKey, fn UpdateFunc) error
	Get(ctx context.Context, key EntryKey) (*models.RateLimitEntry, error)
	CountBlocked(ctx context.Context) (int64, error)
	// ClearBlocks flips every blocked entry back to unblocked and returns how many changed.
	// Counts are left untouched.
	ClearBlocks(ctx context.Context) (int64, error)
}
