// Package audit records sensitive actions with masked identities and escalates
// repeated failures into security events.
package audit

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/aman-churiwal/gatekeeper/internal/identity"
	"github.com/aman-churiwal/gatekeeper/internal/metrics"
	"github.com/aman-churiwal/gatekeeper/internal/models"
	"go.uber.org/zap"
)

const MaxDetailsLength = 512

// Actions written by this repository
const (
	ActionRateLimitAllowed = "RATE_LIMIT_ALLOWED"
	ActionRateLimitDenied  = "RATE_LIMIT_DENIED"
	ActionClearBlocks      = "ADMIN_CLEAR_BLOCKS"
	ActionAuditQuery       = "ADMIN_AUDIT_QUERY"
)

// Store is the persistence contract for audit rows.
type Store interface {
	Append(ctx context.Context, entry *models.AuditLog) error
	// Query returns one page ordered by timestamp descending, plus the total match count.
	// q is already normalized.
	Query(ctx context.Context, q Query) ([]models.AuditLog, int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type Log struct {
	store   Store
	codec   *identity.Codec
	logger  *zap.Logger
	metrics *metrics.Collectors
	now     func() time.Time
}

type Option func(*Log)

func WithMetrics(m *metrics.Collectors) Option {
	return func(l *Log) { l.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

func NewLog(store Store, codec *identity.Codec, logger *zap.Logger, opts ...Option) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		store:  store,
		codec:  codec,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends one row. Write failures are logged and never returned.
func (l *Log) Record(ctx context.Context, ident, action, details string, success bool) {
	entry := &models.AuditLog{
		Timestamp:      l.now().UTC(),
		MaskedIdentity: l.codec.Mask(ident),
		Action:         SanitizeAction(action),
		Details:        sanitizeDetails(details),
		Success:        success,
	}

	if err := l.store.Append(ctx, entry); err != nil {
		l.metrics.ObserveAuditFailure()
		l.logger.Error("audit write failed",
			zap.String("action", entry.Action),
			zap.String("identity", entry.MaskedIdentity),
			zap.Error(err),
		)
	}
}

func (l *Log) Query(ctx context.Context, q Query) (Page, error) {
	q = q.Normalize()

	entries, total, err := l.store.Query(ctx, q)
	if err != nil {
		return Page{}, err
	}
	if entries == nil {
		entries = []models.AuditLog{}
	}

	return Page{
		Entries:  entries,
		Page:     q.Page,
		PageSize: q.PageSize,
		Total:    total,
	}, nil
}

// Prune removes rows older than before. Scheduling retention is left to the operator.
func (l *Log) Prune(ctx context.Context, before time.Time) (int64, error) {
	return l.store.DeleteBefore(ctx, before)
}

// SanitizeAction uppercases and keeps only [A-Z0-9_].
func SanitizeAction(action string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(action) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
		if b.Len() >= 64 {
			break
		}
	}
	return b.String()
}

// sanitizeDetails drops control characters and truncates to MaxDetailsLength runes.
func sanitizeDetails(details string) string {
	runes := make([]rune, 0, min(len(details), MaxDetailsLength))
	for _, r := range details {
		if unicode.IsControl(r) {
			r = ' '
		}
		runes = append(runes, r)
		if len(runes) == MaxDetailsLength {
			break
		}
	}
	return string(runes)
}
