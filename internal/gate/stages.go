package gate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/audit"
	"github.com/aman-churiwal/gatekeeper/internal/identity"
	"github.com/aman-churiwal/gatekeeper/internal/metrics"
	"github.com/aman-churiwal/gatekeeper/internal/models"
	"github.com/aman-churiwal/gatekeeper/internal/pathmatch"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PreflightStage lets CORS preflight requests through untouched.
type PreflightStage struct{}

func (PreflightStage) Name() string { return "preflight" }

func (PreflightStage) Run(_ context.Context, req *Request, d *Decision) Outcome {
	if req.Method != http.MethodOptions || req.HTTP == nil {
		return Continue
	}
	if req.HTTP.Header.Get("Access-Control-Request-Method") == "" {
		return Continue
	}
	d.Allowed = true
	d.Skipped = true
	d.Reason = "preflight"
	return ShortCircuit
}

// SkipStage lets configured paths bypass admission entirely. Checks against a
// dedicated endpoint key are never skipped.
type SkipStage struct {
	matcher *pathmatch.Matcher
}

func (SkipStage) Name() string { return "skip" }

func (s SkipStage) Run(_ context.Context, req *Request, d *Decision) Outcome {
	if req.Endpoint != "" || !s.matcher.Match(req.Path) {
		return Continue
	}
	d.Allowed = true
	d.Skipped = true
	d.Reason = "skip"
	return ShortCircuit
}

// AdmissionStage resolves identity and limits, then applies the blocking
// rules and the counting algorithm to the stored entry in one update.
type AdmissionStage struct {
	algorithm     ratelimit.Algorithm
	store         ratelimit.EntryStore
	tiers         *ratelimit.TierResolver
	resolver      *identity.Resolver
	codec         *identity.Codec
	escalator     *audit.Escalator
	blockDuration time.Duration
	failOpen      bool
	outageEvents  *rate.Limiter
	metrics       *metrics.Collectors
	logger        *zap.Logger
	now           func() time.Time
}

func (s *AdmissionStage) Name() string { return "admission" }

func (s *AdmissionStage) Run(ctx context.Context, req *Request, d *Decision) Outcome {
	ident := identity.Unknown
	if req.HTTP != nil {
		ident = s.resolver.Resolve(req.HTTP)
	}

	limits := s.tiers.Resolve(req.Path, req.Method)
	if req.Limits != nil {
		limits = *req.Limits
	}
	endpoint := EndpointKey(req.Path, limits)
	if req.Endpoint != "" {
		endpoint = req.Endpoint
	}

	d.Identity = ident
	d.Endpoint = endpoint
	d.Tier = limits.Tier
	d.Limit = max(limits.Max, 0)

	now := s.now()
	key := ratelimit.EntryKey{IdentityHash: s.codec.Hash(ident), Endpoint: endpoint}

	var (
		result     ratelimit.Result
		wasBlocked bool
		blocked    bool
	)
	err := s.store.Update(ctx, key, func(current *models.RateLimitEntry) (*models.RateLimitEntry, error) {
		// optimistic stores may retry, so every outcome variable is reassigned
		var next *models.RateLimitEntry
		next, result, wasBlocked = s.admit(current, now, limits)
		blocked = (next != nil && next.Blocked) || (next == nil && wasBlocked)
		return next, nil
	})
	if err != nil {
		return s.storeFailure(ctx, d, now, limits, err)
	}

	d.Allowed = result.Allowed
	d.Remaining = result.Remaining
	d.ResetAt = result.ResetAt
	d.Blocked = blocked

	if !d.Allowed {
		d.Reason = "limit"
		if wasBlocked {
			d.Reason = "blocked"
		}
		d.RetryAfter = max(d.ResetAt.Sub(now), time.Second)
	}
	return Continue
}

// admit returns the entry to persist (nil to leave it untouched), the result,
// and whether the request hit an existing block.
func (s *AdmissionStage) admit(entry *models.RateLimitEntry, now time.Time, limits ratelimit.Limits) (*models.RateLimitEntry, ratelimit.Result, bool) {
	if entry != nil && entry.Blocked {
		until := entry.LastRequest.Add(s.blockDuration)
		if s.blockDuration > 0 && !now.After(until) {
			// cooldown counts from the request that caused the block
			return nil, ratelimit.Result{Allowed: false, Remaining: 0, ResetAt: until}, true
		}

		seeded, result := s.algorithm.Apply(nil, now, limits.Max, limits.Window)
		seeded.ID = entry.ID
		return seeded, result, false
	}

	next, result := s.algorithm.Apply(entry, now, limits.Max, limits.Window)
	if !result.Allowed && s.blockDuration > 0 && limits.Max > 0 {
		next.Blocked = true
		result.ResetAt = next.LastRequest.Add(s.blockDuration)
	}
	return next, result, false
}

func (s *AdmissionStage) storeFailure(ctx context.Context, d *Decision, now time.Time, limits ratelimit.Limits, err error) Outcome {
	err = fmt.Errorf("%w: %v", ratelimit.ErrStoreUnavailable, err)

	s.metrics.ObserveStoreError()
	s.logger.Error("rate limit store failure",
		zap.String("endpoint", d.Endpoint),
		zap.Bool("fail_open", s.failOpen),
		zap.Error(err),
	)

	if s.escalator != nil && s.outageEvents.Allow() {
		s.escalator.LogSecurityEvent(ctx, audit.SeverityHigh, d.Identity, audit.EventStoreUnavailable, d.Endpoint)
	}

	d.StoreError = true
	d.Reason = "store"
	d.Remaining = 0
	d.ResetAt = now.Add(limits.Window)
	d.Allowed = s.failOpen
	if !d.Allowed {
		d.RetryAfter = max(limits.Window, time.Second)
	}
	// still audited; escalation skips store errors
	return Continue
}

// AuditStage writes one audit row per decision. Allowed requests are only
// recorded when auditAllowed is set.
type AuditStage struct {
	log          *audit.Log
	auditAllowed bool
}

func (AuditStage) Name() string { return "audit" }

func (s AuditStage) Run(ctx context.Context, _ *Request, d *Decision) Outcome {
	if s.log == nil || d.Skipped {
		return Continue
	}

	action := audit.ActionRateLimitDenied
	if d.Allowed {
		if !s.auditAllowed {
			return Continue
		}
		action = audit.ActionRateLimitAllowed
	}

	details := fmt.Sprintf("endpoint=%s limit=%d remaining=%d", d.Endpoint, d.Limit, d.Remaining)
	if d.Tier != "" {
		details += " tier=" + d.Tier
	}
	if d.Reason != "" {
		details += " reason=" + d.Reason
	}

	s.log.Record(ctx, d.Identity, action, details, d.Allowed)
	return Continue
}

// EscalationStage feeds denials to the escalator.
type EscalationStage struct {
	escalator *audit.Escalator
}

func (EscalationStage) Name() string { return "escalation" }

func (s EscalationStage) Run(ctx context.Context, _ *Request, d *Decision) Outcome {
	if s.escalator == nil || d.Allowed || d.Skipped || d.StoreError {
		return Continue
	}
	s.escalator.Track(ctx, d.Identity, d.Endpoint)
	return Continue
}
