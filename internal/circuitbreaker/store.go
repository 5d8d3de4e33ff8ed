package circuitbreaker

import (
	"context"
	"errors"

	"github.com/aman-churiwal/gatekeeper/internal/models"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
)

// Store guards a rate limit store so that an unreachable backend fails fast
// instead of holding every request for a connection timeout.
type Store struct {
	next    ratelimit.EntryStore
	breaker *CircuitBreaker
}

func NewStore(next ratelimit.EntryStore, cfg Config) *Store {
	if cfg.IsFailure == nil {
		cfg.IsFailure = IsStoreFailure
	}
	return &Store{next: next, breaker: New(cfg)}
}

// IsStoreFailure ignores cancellations by the caller and optimistic conflicts,
// which say nothing about the backend's health.
func IsStoreFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, ratelimit.ErrConflict):
		return false
	default:
		return true
	}
}

func (s *Store) Update(ctx context.Context, key ratelimit.EntryKey, fn ratelimit.UpdateFunc) error {
	return s.breaker.Call(func() error {
		return s.next.Update(ctx, key, fn)
	})
}

func (s *Store) Get(ctx context.Context, key ratelimit.EntryKey) (*models.RateLimitEntry, error) {
	var entry *models.RateLimitEntry
	err := s.breaker.Call(func() error {
		var err error
		entry, err = s.next.Get(ctx, key)
		return err
	})
	return entry, err
}

func (s *Store) CountBlocked(ctx context.Context) (int64, error) {
	var n int64
	err := s.breaker.Call(func() error {
		var err error
		n, err = s.next.CountBlocked(ctx)
		return err
	})
	return n, err
}

func (s *Store) ClearBlocks(ctx context.Context) (int64, error) {
	var n int64
	err := s.breaker.Call(func() error {
		var err error
		n, err = s.next.ClearBlocks(ctx)
		return err
	})
	return n, err
}

func (s *Store) Breaker() *CircuitBreaker {
	return s.breaker
}
