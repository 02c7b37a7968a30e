package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
)

// CreateSyncRun records an outbound sync attempt.
func CreateSyncRun(ctx context.Context, db *gorm.DB, r *domain.SyncRun) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(r).Error
}

// CreateNotification appends a row to the notification outbox.
func CreateNotification(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = domain.NotificationPending
	}
	return db.WithContext(ctx).Create(n).Error
}

// ListNotifications returns outbox rows for a target, oldest first.
func ListNotifications(ctx context.Context, db *gorm.DB, targetEntityID string) ([]domain.Notification, error) {
	var out []domain.Notification
	err := db.WithContext(ctx).
		Where("target_entity_id = ?", targetEntityID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
