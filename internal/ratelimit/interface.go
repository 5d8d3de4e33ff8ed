package ratelimit

import (
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/models"
)

// Outcome of a single admission check
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limits are the effective parameters for one request after tier resolution.
type Limits struct {
	Max    int
	Window time.Duration
	Tier   string // matched tier pattern, "" for global defaults
}

// Algorithm applies one request to a counter record.
//
// entry is nil on the first request for a key. Apply may mutate entry and
// returns the record the caller must persist.
type Algorithm interface {
	Name() string
	Apply(entry *models.RateLimitEntry, now time.Time, max int, window time.Duration) (*models.RateLimitEntry, Result)
}

func clampRemaining(remaining, max int) int {
	if max <= 0 || remaining < 0 {
		return 0
	}
	if remaining > max {
		return max
	}
	return remaining
}
