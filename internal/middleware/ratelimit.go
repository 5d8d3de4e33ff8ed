package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/aman-churiwal/gatekeeper/internal/gate"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

const (
	// ContextIdentity holds the resolved caller identity for later handlers.
	ContextIdentity = "client_identity"

	DefaultLimitMessage = "Too many requests, please try again later."
)

type RateLimitOptions struct {
	// StatusCode for ordinary denials. Defaults to 429.
	StatusCode int
	Message    string
}

func (o RateLimitOptions) withDefaults() RateLimitOptions {
	if o.StatusCode == 0 {
		o.StatusCode = http.StatusTooManyRequests
	}
	if o.Message == "" {
		o.Message = DefaultLimitMessage
	}
	return o
}

// RateLimit gates every request through g using tier resolution.
func RateLimit(g *gate.Gate, opts RateLimitOptions) gin.HandlerFunc {
	opts = opts.withDefaults()

	return func(c *gin.Context) {
		d := g.Check(c.Request.Context(), c.Request)
		respond(c, d, opts)
	}
}

// RateLimitEndpoint gates requests against a dedicated counter key.
func RateLimitEndpoint(g *gate.Gate, endpoint string, limits *ratelimit.Limits, opts RateLimitOptions) gin.HandlerFunc {
	opts = opts.withDefaults()

	return func(c *gin.Context) {
		d := g.CheckEndpoint(c.Request.Context(), c.Request, endpoint, limits)
		respond(c, d, opts)
	}
}

func respond(c *gin.Context, d *gate.Decision, opts RateLimitOptions) {
	if d.Skipped {
		c.Next()
		return
	}

	c.Set(ContextIdentity, d.Identity)

	tier := d.Tier
	if tier == "" {
		tier = "default"
	}

	// Set rate limit headers
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	c.Header("X-RateLimit-Tier", tier)

	if d.Allowed {
		c.Next()
		return
	}

	retryAfter := max(int64(math.Ceil(d.RetryAfter.Seconds())), 1)
	c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))

	status := opts.StatusCode
	message := opts.Message
	if d.StoreError {
		status = http.StatusServiceUnavailable
		message = "Rate limiting is temporarily unavailable."
	}

	c.AbortWithStatusJSON(status, gin.H{
		"success":    false,
		"message":    message,
		"statusCode": status,
	})
}
