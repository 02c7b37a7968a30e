package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
)

// CreateWebhookLog inserts an audit row. ID and ReceivedAt are filled when
// empty; RetentionUntil is ReceivedAt plus retention.
func CreateWebhookLog(ctx context.Context, db *gorm.DB, entry *domain.WebhookLog, retention time.Duration) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}
	if entry.ProcessingStatus == "" {
		entry.ProcessingStatus = domain.ProcessingPending
	}
	entry.RetentionUntil = entry.ReceivedAt.Add(retention)
	return db.WithContext(ctx).Create(entry).Error
}

// GetWebhookLog fetches one audit row by id.
func GetWebhookLog(ctx context.Context, db *gorm.DB, id string) (*domain.WebhookLog, error) {
	var e domain.WebhookLog
	err := db.WithContext(ctx).First(&e, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// PatchWebhookLog applies a partial update to an audit row.
func PatchWebhookLog(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.WebhookLog{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredWebhookLogs purges audit rows past their retention.
func DeleteExpiredWebhookLogs(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("retention_until < ?", now).Delete(&domain.WebhookLog{})
	return res.RowsAffected, res.Error
}

// WebhookOutcomeCounts returns the number of deliveries received since the
// given time and how many of them failed.
func WebhookOutcomeCounts(ctx context.Context, db *gorm.DB, since time.Time) (total, failed int64, err error) {
	q := db.WithContext(ctx).Model(&domain.WebhookLog{}).Where("received_at >= ?", since)
	if err = q.Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}
	err = db.WithContext(ctx).Model(&domain.WebhookLog{}).
		Where("received_at >= ? AND outcome = ?", since, domain.OutcomeFailed).
		Count(&failed).Error
	return total, failed, err
}

// CountStaleWebhookLogs counts deliveries still unprocessed that were
// received before the cutoff.
func CountStaleWebhookLogs(ctx context.Context, db *gorm.DB, receivedBefore time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.WebhookLog{}).
		Where("processed = ? AND received_at < ?", false, receivedBefore).
		Count(&n).Error
	return n, err
}

// CountSkippedByReason counts skipped deliveries since the given time whose
// reason is one of reasons.
func CountSkippedByReason(ctx context.Context, db *gorm.DB, since time.Time, reasons ...string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.WebhookLog{}).
		Where("received_at >= ? AND outcome = ? AND reason IN ?", since, domain.OutcomeSkipped, reasons).
		Count(&n).Error
	return n, err
}
