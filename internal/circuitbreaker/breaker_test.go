package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/models"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("connection refused")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	cb := New(Config{MaxFailures: 3, Timeout: 10 * time.Second, Now: clk.now})

	calls := 0
	failing := func() error { calls++; return errBackend }

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Call(failing), errBackend)
	}
	assert.Equal(t, StateOpen, cb.State())

	assert.False(t, cb.Ready())
	assert.ErrorIs(t, cb.Call(failing), ErrCircuitOpen)
	assert.Equal(t, 3, calls)

	clk.advance(11 * time.Second)
	assert.True(t, cb.Ready())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{MaxFailures: 2})

	_ = cb.Call(func() error { return errBackend })
	require.NoError(t, cb.Call(func() error { return nil }))
	_ = cb.Call(func() error { return errBackend })

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Metrics().FailureCount)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	var transitions []string
	cb := New(Config{
		MaxFailures: 1,
		Timeout:     10 * time.Second,
		Now:         clk.now,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
		},
	})

	_ = cb.Call(func() error { return errBackend })
	require.Equal(t, StateOpen, cb.State())

	// a failed probe reopens
	clk.advance(11 * time.Second)
	assert.ErrorIs(t, cb.Call(func() error { return errBackend }), errBackend)
	assert.Equal(t, StateOpen, cb.State())

	clk.advance(5 * time.Second)
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)

	clk.advance(6 * time.Second)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{
		"closed->open",
		"open->half-open",
		"half-open->open",
		"open->half-open",
		"half-open->closed",
	}, transitions)
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 1, IsFailure: IsStoreFailure})

	assert.ErrorIs(t, cb.Call(func() error { return context.Canceled }), context.Canceled)
	assert.ErrorIs(t, cb.Call(func() error { return fmt.Errorf("retry: %w", ratelimit.ErrConflict) }), ratelimit.ErrConflict)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(Config{MaxFailures: 1})
	_ = cb.Call(func() error { return errBackend })
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Metrics().FailureCount)
}

type downStore struct {
	*ratelimit.MemoryStore
	down  bool
	calls int
}

func (s *downStore) Update(ctx context.Context, key ratelimit.EntryKey, fn ratelimit.UpdateFunc) error {
	s.calls++
	if s.down {
		return errBackend
	}
	return s.MemoryStore.Update(ctx, key, fn)
}

func TestStore_FailsFastWhileBackendIsDown(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1000, 0)}
	backend := &downStore{MemoryStore: ratelimit.NewMemoryStore(), down: true}
	store := NewStore(backend, Config{MaxFailures: 2, Timeout: 30 * time.Second, Now: clk.now})

	key := ratelimit.EntryKey{IdentityHash: "abc", Endpoint: "/api"}
	bump := func(current *models.RateLimitEntry) (*models.RateLimitEntry, error) {
		if current == nil {
			return &models.RateLimitEntry{Count: 1}, nil
		}
		current.Count++
		return current, nil
	}

	assert.ErrorIs(t, store.Update(ctx, key, bump), errBackend)
	assert.ErrorIs(t, store.Update(ctx, key, bump), errBackend)
	assert.ErrorIs(t, store.Update(ctx, key, bump), ErrCircuitOpen)
	assert.Equal(t, 2, backend.calls)

	backend.down = false
	clk.advance(31 * time.Second)
	require.NoError(t, store.Update(ctx, key, bump))
	assert.Equal(t, StateClosed, store.Breaker().State())

	entry, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Count)

	blocked, err := store.CountBlocked(ctx)
	require.NoError(t, err)
	assert.Zero(t, blocked)
}
