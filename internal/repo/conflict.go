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

// ConflictSnapshot carries the refreshed comparison data of a detection.
type ConflictSnapshot struct {
	LocalData  datatypes.JSON
	RemoteData datatypes.JSON
	Field      *string
}

// RefreshOpenConflict updates the open conflict holding pendingKey with new
// snapshots in a single statement. It returns the conflict id, or ErrNotFound
// when no open conflict carries the key.
func RefreshOpenConflict(ctx context.Context, db *gorm.DB, pendingKey string, snap ConflictSnapshot, now time.Time) (string, error) {
	res := db.WithContext(ctx).Model(&domain.Conflict{}).
		Where("pending_key = ?", pendingKey).
		Updates(map[string]any{
			"local_data":      snap.LocalData,
			"remote_data":     snap.RemoteData,
			"field":           snap.Field,
			"detection_count": gorm.Expr("detection_count + 1"),
			"updated_at":      now,
		})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", ErrNotFound
	}
	var ids []string
	err := db.WithContext(ctx).Model(&domain.Conflict{}).
		Where("pending_key = ?", pendingKey).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		// resolved between the update and the read
		return "", ErrNotFound
	}
	return ids[0], nil
}

// CreateConflict inserts a new pending conflict. A concurrent insert for the
// same pending key yields ErrDuplicate.
func CreateConflict(ctx context.Context, db *gorm.DB, c *domain.Conflict) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return translateCreate(db.WithContext(ctx).Create(c).Error)
}

// GetConflict fetches a conflict by id.
func GetConflict(ctx context.Context, db *gorm.DB, id string) (*domain.Conflict, error) {
	var c domain.Conflict
	err := db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// TransitionConflict applies fields to the conflict only while its status is
// from. It reports whether the row was transitioned.
func TransitionConflict(ctx context.Context, db *gorm.DB, id string, from domain.ConflictStatus, fields map[string]any) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Conflict{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	return res.RowsAffected > 0, res.Error
}

// HasTerminalConflict reports whether a conflict of type t about subjectKey
// was already resolved or ignored.
func HasTerminalConflict(ctx context.Context, db *gorm.DB, t domain.ConflictType, subjectKey string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Conflict{}).
		Where("type = ? AND subject_key = ? AND status IN ?", t, subjectKey,
			[]domain.ConflictStatus{domain.ConflictResolved, domain.ConflictIgnored}).
		Count(&n).Error
	return n > 0, err
}

// ConflictQuery filters a conflict listing. Empty fields match everything.
type ConflictQuery struct {
	Status domain.ConflictStatus
	Type   domain.ConflictType
	Offset int
	Limit  int
}

// ListConflicts returns a page of conflicts, pending first and newest first,
// together with the total number of matching rows.
func ListConflicts(ctx context.Context, db *gorm.DB, q ConflictQuery) ([]domain.Conflict, int64, error) {
	base := db.WithContext(ctx).Model(&domain.Conflict{})
	if q.Status != "" {
		base = base.Where("status = ?", q.Status)
	}
	if q.Type != "" {
		base = base.Where("type = ?", q.Type)
	}
	base = base.Session(&gorm.Session{})
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Conflict
	err := base.
		Order("CASE WHEN status = 'pending' THEN 0 ELSE 1 END").
		Order("created_at DESC").
		Offset(q.Offset).
		Limit(q.Limit).
		Find(&out).Error
	return out, total, err
}

// CountConflicts counts conflicts in the given status.
func CountConflicts(ctx context.Context, db *gorm.DB, status domain.ConflictStatus) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Conflict{}).Where("status = ?", status).Count(&n).Error
	return n, err
}
