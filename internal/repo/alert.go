package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
)

// AlertOccurrence is a repeat detection folded into an open alert.
type AlertOccurrence struct {
	Severity domain.Severity
	Message  string
	Details  datatypes.JSON
	SeenAt   time.Time
}

// BumpOpenAlert folds an occurrence into the open alert holding openKey in
// one statement: the counter is incremented, lastSeenAt bumped and severity
// raised to max(existing, incoming). It returns the alert id, or ErrNotFound
// when no open alert carries the key.
//
// severity is assigned before severity_rank so that engines evaluating SET
// clauses left to right still compare against the old rank.
func BumpOpenAlert(ctx context.Context, db *gorm.DB, openKey string, occ AlertOccurrence) (string, error) {
	rank := occ.Severity.Rank()
	res := db.WithContext(ctx).Model(&domain.Alert{}).
		Where("open_key = ?", openKey).
		Updates(map[string]any{
			"occurrences":   gorm.Expr("occurrences + 1"),
			"last_seen_at":  occ.SeenAt,
			"severity":      gorm.Expr("CASE WHEN severity_rank < ? THEN ? ELSE severity END", rank, string(occ.Severity)),
			"severity_rank": gorm.Expr("CASE WHEN severity_rank < ? THEN ? ELSE severity_rank END", rank, rank),
			"message":       occ.Message,
			"details":       occ.Details,
			"updated_at":    occ.SeenAt,
		})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", ErrNotFound
	}
	var ids []string
	if err := db.WithContext(ctx).Model(&domain.Alert{}).
		Where("open_key = ?", openKey).
		Limit(1).
		Pluck("id", &ids).Error; err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", ErrNotFound
	}
	return ids[0], nil
}

// CreateAlert inserts a new alert. A concurrent insert for the same open key
// yields ErrDuplicate.
func CreateAlert(ctx context.Context, db *gorm.DB, a *domain.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.SeverityRank = a.Severity.Rank()
	return translateCreate(db.WithContext(ctx).Create(a).Error)
}

// GetAlert fetches an alert by id.
func GetAlert(ctx context.Context, db *gorm.DB, id string) (*domain.Alert, error) {
	var a domain.Alert
	err := db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// TransitionAlert applies fields to the alert only while its status is one
// of from. It reports whether the row was transitioned.
func TransitionAlert(ctx context.Context, db *gorm.DB, id string, from []domain.AlertStatus, fields map[string]any) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Alert{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	return res.RowsAffected > 0, res.Error
}

// AlertQuery filters an alert listing. Empty fields match everything.
type AlertQuery struct {
	Status   domain.AlertStatus
	Type     domain.AlertType
	Severity domain.Severity
	Offset   int
	Limit    int
}

// ListAlerts returns a page of alerts, active first and most recently seen
// first, together with the total number of matching rows.
func ListAlerts(ctx context.Context, db *gorm.DB, q AlertQuery) ([]domain.Alert, int64, error) {
	base := db.WithContext(ctx).Model(&domain.Alert{})
	if q.Status != "" {
		base = base.Where("status = ?", q.Status)
	}
	if q.Type != "" {
		base = base.Where("type = ?", q.Type)
	}
	if q.Severity != "" {
		base = base.Where("severity = ?", q.Severity)
	}
	base = base.Session(&gorm.Session{})
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Alert
	err := base.
		Order("CASE WHEN status = 'active' THEN 0 ELSE 1 END").
		Order("last_seen_at DESC").
		Offset(q.Offset).
		Limit(q.Limit).
		Find(&out).Error
	return out, total, err
}
