package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
)

// TypeStatusCount is one (type, status) bucket of a dashboard aggregate.
type TypeStatusCount struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// ConflictCountsByTypeStatus groups conflicts by (type, status).
func ConflictCountsByTypeStatus(ctx context.Context, db *gorm.DB) ([]TypeStatusCount, error) {
	return countsByTypeStatus(ctx, db, &domain.Conflict{})
}

// AlertCountsByTypeStatus groups alerts by (type, status).
func AlertCountsByTypeStatus(ctx context.Context, db *gorm.DB) ([]TypeStatusCount, error) {
	return countsByTypeStatus(ctx, db, &domain.Alert{})
}

func countsByTypeStatus(ctx context.Context, db *gorm.DB, model any) ([]TypeStatusCount, error) {
	var rows []TypeStatusCount
	err := db.WithContext(ctx).Model(model).
		Select("type, status, COUNT(*) AS count").
		Group("type, status").
		Order("type, status").
		Scan(&rows).Error
	return rows, err
}

// SyncRunCounts returns the number of failed and rate-limited sync runs
// started since the given time.
func SyncRunCounts(ctx context.Context, db *gorm.DB, since time.Time) (failed, rateLimited int64, err error) {
	if err = db.WithContext(ctx).Model(&domain.SyncRun{}).
		Where("started_at >= ? AND status = ?", since, domain.SyncFailed).
		Count(&failed).Error; err != nil {
		return 0, 0, err
	}
	err = db.WithContext(ctx).Model(&domain.SyncRun{}).
		Where("started_at >= ? AND rate_limited = ?", since, true).
		Count(&rateLimited).Error
	return failed, rateLimited, err
}
