package audit

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/identity"
	"github.com/aman-churiwal/gatekeeper/internal/metrics"
	"go.uber.org/zap"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

const (
	EventSuspiciousActivity = "SUSPICIOUS_ACTIVITY"
	EventRepeatedAbuse      = "REPEATED_ABUSE"
	EventStoreUnavailable   = "RATE_LIMIT_STORE_UNAVAILABLE"
	EventUnauthorizedAdmin  = "UNAUTHORIZED_ADMIN_ACCESS"
	EventBlocksCleared      = "RATE_LIMIT_BLOCKS_CLEARED"
)

const (
	DefaultThreshold = 5
	DefaultMaxKeys   = 10000
)

// SecurityEvent is the line written to the external security sink.
type SecurityEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	Severity       Severity  `json:"severity"`
	MaskedIdentity string    `json:"identity"`
	Event          string    `json:"event"`
	Attempted      string    `json:"attempted"`
}

// Sink receives security events on a best-effort basis.
type Sink interface {
	Write(event SecurityEvent) error
}

type EscalatorOptions struct {
	Threshold int
	// ResetOnHigh clears the counter once a HIGH event fires, so each run of
	// 2x threshold failures produces one HIGH event instead of one per failure.
	ResetOnHigh bool
	MaxKeys     int
	Sink        Sink
	Logger      *zap.Logger
	Metrics     *metrics.Collectors
	Now         func() time.Time
}

// Escalator counts failures per (identity, endpoint) in memory and turns
// repeated ones into security events. Counters are process-local.
type Escalator struct {
	mu     sync.Mutex
	counts map[string]int

	threshold   int
	resetOnHigh bool
	maxKeys     int

	log     *Log
	codec   *identity.Codec
	sink    Sink
	logger  *zap.Logger
	metrics *metrics.Collectors
	now     func() time.Time
}

func NewEscalator(log *Log, codec *identity.Codec, opts EscalatorOptions) *Escalator {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = DefaultMaxKeys
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Escalator{
		counts:      make(map[string]int),
		threshold:   opts.Threshold,
		resetOnHigh: opts.ResetOnHigh,
		maxKeys:     opts.MaxKeys,
		log:         log,
		codec:       codec,
		sink:        opts.Sink,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
}

// Track counts one failure and returns the severity of the event it emitted, or "".
func (e *Escalator) Track(ctx context.Context, ident, endpoint string) Severity {
	key := e.codec.Hash(ident) + ":" + endpoint

	e.mu.Lock()
	if _, ok := e.counts[key]; !ok && len(e.counts) >= e.maxKeys {
		// wholesale reset keeps memory bounded at the cost of in-flight counts
		e.counts = make(map[string]int)
	}
	e.counts[key]++
	count := e.counts[key]

	var severity Severity
	switch {
	case count >= 2*e.threshold:
		severity = SeverityHigh
		if e.resetOnHigh {
			delete(e.counts, key)
		}
	case count == e.threshold:
		severity = SeverityMedium
	}
	e.mu.Unlock()

	switch severity {
	case SeverityHigh:
		e.LogSecurityEvent(ctx, SeverityHigh, ident, EventRepeatedAbuse, endpoint)
	case SeverityMedium:
		e.LogSecurityEvent(ctx, SeverityMedium, ident, EventSuspiciousActivity, endpoint)
	}

	return severity
}

// LogSecurityEvent writes one SECURITY_<severity> audit row, logs it, and
// forwards it to the sink if one is configured.
func (e *Escalator) LogSecurityEvent(ctx context.Context, severity Severity, ident, event, attempted string) {
	masked := e.codec.Mask(ident)

	e.metrics.ObserveSecurityEvent(string(severity))

	if e.log != nil {
		e.log.Record(ctx, ident, "SECURITY_"+string(severity), event+": "+attempted, false)
	}

	fields := []zap.Field{
		zap.String("severity", string(severity)),
		zap.String("event", event),
		zap.String("identity", masked),
		zap.String("attempted", attempted),
	}
	switch severity {
	case SeverityLow:
		e.logger.Info("security event", fields...)
	case SeverityMedium:
		e.logger.Warn("security event", fields...)
	default:
		e.logger.Error("security event", fields...)
	}

	if e.sink == nil {
		return
	}

	err := e.sink.Write(SecurityEvent{
		Timestamp:      e.now().UTC(),
		Severity:       severity,
		MaskedIdentity: masked,
		Event:          event,
		Attempted:      attempted,
	})
	if err != nil {
		e.logger.Warn("security sink write failed", zap.Error(err))
	}
}

func (e *Escalator) Count(ident, endpoint string) int {
	key := e.codec.Hash(ident) + ":" + endpoint

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[key]
}

func (e *Escalator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.counts)
}
