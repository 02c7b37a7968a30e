// Package domain defines the persistence models of the reconciler. These types
// are used by GORM for schema mapping and are shared across the repository,
// service and HTTP layers.
package domain

import "time"

// IdempotencyRecord marks an inbound gateway event as fully processed. The key
// is an opaque fingerprint of (event type, primary entity id, time bucket).
// A record whose ExpiresAt is in the future means the event must not be
// processed again. Records are written only after the state transition they
// guard has been committed, and are never updated afterwards.
type IdempotencyRecord struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Key         string    `json:"key"          gorm:"column:idem_key;type:varchar(64);not null;uniqueIndex:ux_idempotency_key"`
	Result      string    `json:"result"       gorm:"type:varchar(32);not null"`
	ProcessedAt time.Time `json:"processed_at" gorm:"not null"`
	ExpiresAt   time.Time `json:"expires_at"   gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency_records" }

// Expired reports whether the record no longer guards its key at now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
