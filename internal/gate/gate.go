// Package gate decides whether a request is admitted. A Gate runs an ordered
// list of stages; each stage either lets the next one run or settles the
// decision on its own.
package gate

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/audit"
	"github.com/aman-churiwal/gatekeeper/internal/identity"
	"github.com/aman-churiwal/gatekeeper/internal/metrics"
	"github.com/aman-churiwal/gatekeeper/internal/pathmatch"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Outcome int

const (
	Continue Outcome = iota
	ShortCircuit
)

// Stage is one step of the admission pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, req *Request, d *Decision) Outcome
}

// Request is the gate's view of an incoming HTTP request.
type Request struct {
	HTTP   *http.Request
	Path   string
	Method string

	// Endpoint and Limits override tier resolution when set.
	Endpoint string
	Limits   *ratelimit.Limits
}

// Decision is the result of a check. Limit, Remaining and ResetAt are only
// meaningful when Skipped is false.
type Decision struct {
	Allowed    bool
	Skipped    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Identity   string
	Endpoint   string
	Tier       string
	Blocked    bool
	StoreError bool
	// Reason is a short machine label: "preflight", "skip", "limit", "blocked", "store".
	Reason string
}

type Options struct {
	Algorithm ratelimit.Algorithm
	Store     ratelimit.EntryStore
	Tiers     *ratelimit.TierResolver
	Skip      *pathmatch.Matcher
	Resolver  *identity.Resolver
	Codec     *identity.Codec
	Audit     *audit.Log
	Escalator *audit.Escalator

	// BlockDuration <= 0 disables blocking.
	BlockDuration time.Duration
	FailOpen      bool
	AuditAllowed  bool

	Metrics *metrics.Collectors
	Logger  *zap.Logger
	Now     func() time.Time
}

type Gate struct {
	stages    []Stage
	algorithm ratelimit.Algorithm
	metrics   *metrics.Collectors
}

func New(opts Options) (*Gate, error) {
	switch {
	case opts.Algorithm == nil:
		return nil, errors.New("gate: algorithm is required")
	case opts.Store == nil:
		return nil, errors.New("gate: store is required")
	case opts.Tiers == nil:
		return nil, errors.New("gate: tier resolver is required")
	case opts.Resolver == nil:
		return nil, errors.New("gate: identity resolver is required")
	case opts.Codec == nil:
		return nil, errors.New("gate: identity codec is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	admission := &AdmissionStage{
		algorithm:     opts.Algorithm,
		store:         opts.Store,
		tiers:         opts.Tiers,
		resolver:      opts.Resolver,
		codec:         opts.Codec,
		escalator:     opts.Escalator,
		blockDuration: opts.BlockDuration,
		failOpen:      opts.FailOpen,
		outageEvents:  rate.NewLimiter(rate.Every(10*time.Second), 1),
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		now:           opts.Now,
	}

	return NewWithStages(opts,
		PreflightStage{},
		SkipStage{matcher: opts.Skip},
		admission,
		AuditStage{log: opts.Audit, auditAllowed: opts.AuditAllowed},
		EscalationStage{escalator: opts.Escalator},
	), nil
}

// NewWithStages builds a gate around a caller-supplied pipeline.
func NewWithStages(opts Options, stages ...Stage) *Gate {
	return &Gate{
		stages:    stages,
		algorithm: opts.Algorithm,
		metrics:   opts.Metrics,
	}
}

// Check gates r using tier resolution on its path and method.
func (g *Gate) Check(ctx context.Context, r *http.Request) *Decision {
	return g.run(ctx, &Request{HTTP: r, Path: r.URL.Path, Method: r.Method})
}

// CheckEndpoint gates r against a dedicated counter key. limits may be nil to
// use the global defaults.
func (g *Gate) CheckEndpoint(ctx context.Context, r *http.Request, endpoint string, limits *ratelimit.Limits) *Decision {
	return g.run(ctx, &Request{
		HTTP:     r,
		Path:     r.URL.Path,
		Method:   r.Method,
		Endpoint: endpoint,
		Limits:   limits,
	})
}

func (g *Gate) run(ctx context.Context, req *Request) *Decision {
	d := &Decision{Allowed: true}

	for _, stage := range g.stages {
		if stage.Run(ctx, req, d) == ShortCircuit {
			break
		}
	}

	g.metrics.ObserveDecision(decisionLabel(d), g.algorithmName())
	return d
}

func (g *Gate) algorithmName() string {
	if g.algorithm == nil {
		return ""
	}
	return g.algorithm.Name()
}

// EndpointKey is the counter key for a request: the matched tier pattern, or
// the raw path when no tier matched.
func EndpointKey(path string, limits ratelimit.Limits) string {
	if limits.Tier != "" {
		return limits.Tier
	}
	return path
}

func decisionLabel(d *Decision) string {
	switch {
	case d.Skipped:
		return "skipped"
	case d.StoreError:
		return "store_error"
	case d.Reason == "blocked":
		return "blocked"
	case !d.Allowed:
		return "denied"
	default:
		return "allowed"
	}
}
