package ratelimit

import (
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/models"
)

// FixedWindow counts requests until a full window passes without traffic.
//
// The window restarts only when a request arrives more than one window after
// the previous request, so it is an idle-reset window rather than one aligned
// to clock boundaries. Sustained traffic keeps the same window open.
type FixedWindow struct{}

func NewFixedWindow() *FixedWindow {
	return &FixedWindow{}
}

func (f *FixedWindow) Name() string {
	return AlgorithmFixedWindow
}

func (f *FixedWindow) Apply(entry *models.RateLimitEntry, now time.Time, max int, window time.Duration) (*models.RateLimitEntry, Result) {
	switch {
	case entry == nil:
		entry = &models.RateLimitEntry{Count: 1}
	case now.Sub(entry.LastRequest) > window:
		entry.Count = 1
	default:
		entry.Count++
	}
	entry.LastRequest = now

	return entry, Result{
		Allowed:   entry.Count <= max,
		Remaining: clampRemaining(max-entry.Count, max),
		ResetAt:   entry.LastRequest.Add(window),
	}
}
