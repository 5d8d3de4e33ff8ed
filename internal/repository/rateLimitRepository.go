package repository

import (
	"context"
	"errors"

	"github.com/aman-churiwal/gatekeeper/internal/models"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
	"github.com/aman-churiwal/gatekeeper/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RateLimitRepository is the durable EntryStore backed by the rate_limits table.
// Each Update is one transaction holding a row lock on the entry, so several
// gateway instances may share the table.
type RateLimitRepository struct {
	db    *storage.Database
	locks *ratelimit.KeyLocks
}

func NewRateLimitRepository(db *storage.Database) *RateLimitRepository {
	return &RateLimitRepository{
		db:    db,
		locks: ratelimit.NewKeyLocks(),
	}
}

func (r *RateLimitRepository) Update(ctx context.Context, key ratelimit.EntryKey, fn ratelimit.UpdateFunc) error {
	// row locks are not available on every dialect, so same-process callers queue here first
	unlock := r.locks.Lock(key.String())
	defer unlock()

	return r.db.Transaction(ctx, func(tx *gorm.DB) error {
		var row models.RateLimitEntry
		var current *models.RateLimitEntry

		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("identity_hash = ? AND endpoint = ?", key.IdentityHash, key.Endpoint).
			Take(&row).Error
		switch {
		case err == nil:
			current = &row
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		next, err := fn(current.Clone())
		if err != nil || next == nil {
			return err
		}

		next.IdentityHash = key.IdentityHash
		next.Endpoint = key.Endpoint

		if current != nil {
			next.ID = current.ID
			return tx.Save(next).Error
		}

		next.ID = 0
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "identity_hash"}, {Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"count", "last_request", "blocked", "timestamps", "tokens", "last_refill", "updated_at",
			}),
		}).Create(next).Error
	})
}

// Returns nil when no entry exists for key
func (r *RateLimitRepository) Get(ctx context.Context, key ratelimit.EntryKey) (*models.RateLimitEntry, error) {
	var entry models.RateLimitEntry

	err := r.db.DB.WithContext(ctx).
		Where("identity_hash = ? AND endpoint = ?", key.IdentityHash, key.Endpoint).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func (r *RateLimitRepository) CountBlocked(ctx context.Context) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RateLimitEntry{}).
		Where("blocked = ?", true).
		Count(&count).Error

	return count, err
}

// Flips every blocked row in one statement. Counts are left as they are.
func (r *RateLimitRepository) ClearBlocks(ctx context.Context) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Model(&models.RateLimitEntry{}).
		Where("blocked = ?", true).
		Update("blocked", false)

	return result.RowsAffected, result.Error
}
