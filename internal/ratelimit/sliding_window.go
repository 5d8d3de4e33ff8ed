package ratelimit

import (
	"sort"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/models"
)

// SlidingWindow keeps the timestamp of every admitted request inside the window.
// Timestamps stay ordered, so expired ones are dropped with a binary search.
type SlidingWindow struct{}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{}
}

func (s *SlidingWindow) Name() string {
	return AlgorithmSlidingWindow
}

func (s *SlidingWindow) Apply(entry *models.RateLimitEntry, now time.Time, max int, window time.Duration) (*models.RateLimitEntry, Result) {
	if entry == nil {
		entry = &models.RateLimitEntry{}
	}

	cutoff := now.Add(-window)
	timestamps := entry.Timestamps
	idx := sort.Search(len(timestamps), func(i int) bool {
		return !timestamps[i].Before(cutoff)
	})
	timestamps = timestamps[idx:]

	allowed := max > 0 && len(timestamps) < max
	if allowed {
		timestamps = append(timestamps, now)
	}

	entry.Timestamps = timestamps
	entry.Count = len(timestamps)
	entry.LastRequest = now

	resetAt := now.Add(window)
	if len(timestamps) > 0 {
		resetAt = timestamps[0].Add(window)
	}

	return entry, Result{
		Allowed:   allowed,
		Remaining: clampRemaining(max-len(timestamps), max),
		ResetAt:   resetAt,
	}
}
