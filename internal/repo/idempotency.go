package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
)

// GetIdempotency returns the non-expired ledger record for key or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.IdempotencyRecord, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.IdempotencyRecord
	err := db.WithContext(ctx).
		Where("idem_key = ? AND expires_at > ?", key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a ledger record for key. An expired record with
// the same key is replaced first; a live one yields ErrDuplicate.
func CreateIdempotency(ctx context.Context, db *gorm.DB, key, result string, now time.Time, ttl time.Duration) (*domain.IdempotencyRecord, error) {
	rec := &domain.IdempotencyRecord{
		ID:          uuid.NewString(),
		Key:         key,
		Result:      result,
		ProcessedAt: now,
		ExpiresAt:   now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("idem_key = ? AND expires_at <= ?", key, now).
			Delete(&domain.IdempotencyRecord{}).Error; err != nil {
			return err
		}
		return translateCreate(tx.Create(rec).Error)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteExpiredIdempotency removes ledger records whose expiry has passed and
// returns how many rows were deleted.
func DeleteExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at < ?", now).Delete(&domain.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
