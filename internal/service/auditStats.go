package service

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/audit"
)

const (
	DefaultSummaryRange = 24 * time.Hour
	MaxSummaryRange     = 90 * 24 * time.Hour
	TopDeniedIdentities = 10
)

var ErrInvalidRange = errors.New("invalid time range")

// AuditStatsService aggregates the audit trail for operators.
type AuditStatsService struct {
	log *audit.Log
	now func() time.Time
}

func NewAuditStatsService(log *audit.Log) *AuditStatsService {
	return &AuditStatsService{log: log, now: time.Now}
}

// GetSummary defaults to the last 24 hours ending now. Ranges longer than
// 90 days or ending before they start are rejected.
func (s *AuditStatsService) GetSummary(ctx context.Context, from, to *time.Time) (*audit.Summary, error) {
	end := s.now().UTC()
	if to != nil {
		end = to.UTC()
	}
	start := end.Add(-DefaultSummaryRange)
	if from != nil {
		start = from.UTC()
	}

	if !start.Before(end) || end.Sub(start) > MaxSummaryRange {
		return nil, ErrInvalidRange
	}

	return s.log.Summarize(ctx, start, end, TopDeniedIdentities)
}
