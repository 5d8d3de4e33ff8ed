package audit

import (
	"strings"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxPage         = 1000
)

type Query struct {
	Page           int
	PageSize       int
	Action         string
	MaskedIdentity string
	From           *time.Time
	To             *time.Time
	Success        *bool
}

type Page struct {
	Entries  []models.AuditLog `json:"entries"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Total    int64             `json:"total"`
}

// Normalize clamps pagination and sanitizes the filters.
func (q Query) Normalize() Query {
	switch {
	case q.PageSize <= 0:
		q.PageSize = DefaultPageSize
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}

	switch {
	case q.Page < 1:
		q.Page = 1
	case q.Page > MaxPage:
		q.Page = MaxPage
	}

	q.Action = SanitizeAction(q.Action)

	q.MaskedIdentity = strings.TrimSpace(q.MaskedIdentity)
	if len(q.MaskedIdentity) > 64 {
		q.MaskedIdentity = q.MaskedIdentity[:64]
	}

	return q
}

func (q Query) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// Matches applies the filters to a single row. Used by in-memory stores.
func (q Query) Matches(entry *models.AuditLog) bool {
	if q.Action != "" && entry.Action != q.Action {
		return false
	}
	if q.MaskedIdentity != "" && entry.MaskedIdentity != q.MaskedIdentity {
		return false
	}
	if q.From != nil && entry.Timestamp.Before(*q.From) {
		return false
	}
	if q.To != nil && entry.Timestamp.After(*q.To) {
		return false
	}
	if q.Success != nil && entry.Success != *q.Success {
		return false
	}
	return true
}
