package ratelimit

import (
	"fmt"
	"strings"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/models"
	"github.com/aman-churiwal/gatekeeper/internal/pathmatch"
)

type compiledTier struct {
	pattern string
	method  string
	matcher *pathmatch.Matcher
	max     *int
	window  *time.Duration
}

// TierResolver picks the effective limits for a request. Tiers are evaluated in
// order and the first match wins.
type TierResolver struct {
	tiers    []compiledTier
	defaults Limits
}

func NewTierResolver(tiers []models.Tier, defaults Limits) (*TierResolver, error) {
	if defaults.Window <= 0 {
		return nil, &ConfigurationError{Field: "windowMs", Reason: "must be greater than zero"}
	}

	resolver := &TierResolver{
		tiers:    make([]compiledTier, 0, len(tiers)),
		defaults: Limits{Max: defaults.Max, Window: defaults.Window},
	}

	for i, tier := range tiers {
		field := fmt.Sprintf("tiers[%d]", i)

		if strings.TrimSpace(tier.Path) == "" {
			return nil, &ConfigurationError{Field: field + ".path", Reason: "must not be empty"}
		}

		matcher, err := pathmatch.New([]string{tier.Path})
		if err != nil {
			return nil, &ConfigurationError{Field: field + ".path", Reason: err.Error()}
		}

		ct := compiledTier{
			pattern: tier.Path,
			method:  strings.ToUpper(strings.TrimSpace(tier.Method)),
			matcher: matcher,
		}

		if tier.MaxRequests != nil {
			if *tier.MaxRequests < 0 {
				return nil, &ConfigurationError{Field: field + ".maxRequests", Reason: "must not be negative"}
			}
			max := *tier.MaxRequests
			ct.max = &max
		}

		if tier.WindowMs != nil {
			if *tier.WindowMs <= 0 {
				return nil, &ConfigurationError{Field: field + ".windowMs", Reason: "must be greater than zero"}
			}
			window := time.Duration(*tier.WindowMs) * time.Millisecond
			ct.window = &window
		}

		resolver.tiers = append(resolver.tiers, ct)
	}

	return resolver, nil
}

func (r *TierResolver) Resolve(path, method string) Limits {
	method = strings.ToUpper(method)

	for _, tier := range r.tiers {
		if tier.method != "" && tier.method != "ALL" && tier.method != method {
			continue
		}
		if !tier.matcher.Match(path) {
			continue
		}

		limits := Limits{Max: r.defaults.Max, Window: r.defaults.Window, Tier: tier.pattern}
		if tier.max != nil {
			limits.Max = *tier.max
		}
		if tier.window != nil {
			limits.Window = *tier.window
		}
		return limits
	}

	return r.defaults
}

func (r *TierResolver) Defaults() Limits {
	return r.defaults
}
