package ratelimit

import (
	"math"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/models"
)

// TokenBucket holds up to max tokens and refills max tokens per window.
// Only whole tokens are added; the refill clock advances by exactly the time
// those tokens represent so partial progress is never lost.
type TokenBucket struct{}

func NewTokenBucket() *TokenBucket {
	return &TokenBucket{}
}

func (t *TokenBucket) Name() string {
	return AlgorithmTokenBucket
}

func (t *TokenBucket) Apply(entry *models.RateLimitEntry, now time.Time, max int, window time.Duration) (*models.RateLimitEntry, Result) {
	if entry == nil || entry.LastRefill.IsZero() {
		if entry == nil {
			entry = &models.RateLimitEntry{}
		}
		entry.Tokens = math.Max(float64(max), 0)
		entry.LastRefill = now
	}
	entry.LastRequest = now

	if max <= 0 {
		entry.Tokens = 0
		return entry, Result{Allowed: false, Remaining: 0, ResetAt: now.Add(window)}
	}

	capacity := float64(max)
	interval := refillInterval(window, max)

	if elapsed := now.Sub(entry.LastRefill); elapsed > 0 {
		refill := math.Floor(float64(elapsed) * capacity / float64(window))
		if refill > 0 {
			entry.Tokens = math.Min(entry.Tokens+refill, capacity)
			if entry.Tokens >= capacity {
				entry.LastRefill = now
			} else {
				entry.LastRefill = entry.LastRefill.Add(time.Duration(refill * float64(window) / capacity))
			}
		}
	}
	if entry.Tokens < 0 {
		entry.Tokens = 0
	}

	if entry.Tokens >= 1 {
		entry.Tokens--
		entry.Count = max - int(math.Floor(entry.Tokens))
		return entry, Result{
			Allowed:   true,
			Remaining: clampRemaining(int(math.Floor(entry.Tokens)), max),
			ResetAt:   now.Add(interval),
		}
	}

	entry.Count = max
	return entry, Result{
		Allowed:   false,
		Remaining: 0,
		ResetAt:   entry.LastRefill.Add(interval),
	}
}

// refillInterval is ceil(window / max): the time it takes to earn one token.
func refillInterval(window time.Duration, max int) time.Duration {
	n := time.Duration(max)
	return (window + n - 1) / n
}
