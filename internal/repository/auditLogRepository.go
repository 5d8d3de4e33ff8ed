package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/audit"
	"github.com/aman-churiwal/gatekeeper/internal/models"
	"github.com/aman-churiwal/gatekeeper/internal/storage"
	"gorm.io/gorm"
)

type AuditLogRepository struct {
	db *storage.Database
}

func NewAuditLogRepository(db *storage.Database) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Inserts a new audit row
func (r *AuditLogRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	return r.db.DB.WithContext(ctx).Create(entry).Error
}

// Inserts multiple audit rows (for batch insertion)
func (r *AuditLogRepository) AppendBatch(ctx context.Context, entries []*models.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&entries).Error
}

// Returns one page of matching rows, newest first, plus the total number of matches
func (r *AuditLogRepository) Query(ctx context.Context, q audit.Query) ([]models.AuditLog, int64, error) {
	var total int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.AuditLog{}).
		Scopes(auditFilters(q)).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var logs []models.AuditLog

	err = r.db.DB.WithContext(ctx).
		Scopes(auditFilters(q)).
		Order("timestamp DESC").
		Limit(q.PageSize).
		Offset(q.Offset()).
		Find(&logs).Error

	return logs, total, err
}

// Deletes rows older than before
func (r *AuditLogRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before.UTC()).
		Delete(&models.AuditLog{})

	return result.RowsAffected, result.Error
}

// Aggregates rows in [from, to] with GROUP BY queries
func (r *AuditLogRepository) Summarize(ctx context.Context, from, to time.Time, top int) (*audit.Summary, error) {
	summary := &audit.Summary{From: from, To: to}
	inRange := func(db *gorm.DB) *gorm.DB {
		return db.Where("timestamp BETWEEN ? AND ?", from.UTC(), to.UTC())
	}

	err := r.db.DB.WithContext(ctx).
		Model(&models.AuditLog{}).
		Scopes(inRange).
		Select("action, COUNT(*) AS count").
		Group("action").
		Order("count DESC, action ASC").
		Scan(&summary.Actions).Error
	if err != nil {
		return nil, err
	}
	for _, action := range summary.Actions {
		summary.Total += action.Count
	}

	err = r.db.DB.WithContext(ctx).
		Model(&models.AuditLog{}).
		Scopes(inRange).
		Where("success = ?", false).
		Count(&summary.Failures).Error
	if err != nil {
		return nil, err
	}

	err = r.db.DB.WithContext(ctx).
		Model(&models.AuditLog{}).
		Scopes(inRange).
		Select("masked_identity, COUNT(*) AS count").
		Where("action = ?", audit.ActionRateLimitDenied).
		Group("masked_identity").
		Order("count DESC, masked_identity ASC").
		Limit(top).
		Scan(&summary.TopDenied).Error
	if err != nil {
		return nil, err
	}

	summary.Finish()
	return summary, nil
}

func auditFilters(q audit.Query) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if q.Action != "" {
			db = db.Where("action = ?", q.Action)
		}
		if q.MaskedIdentity != "" {
			db = db.Where("masked_identity = ?", q.MaskedIdentity)
		}
		if q.From != nil {
			db = db.Where("timestamp >= ?", q.From.UTC())
		}
		if q.To != nil {
			db = db.Where("timestamp <= ?", q.To.UTC())
		}
		if q.Success != nil {
			db = db.Where("success = ?", *q.Success)
		}
		return db
	}
}
