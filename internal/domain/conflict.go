package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// ConflictType classifies a disagreement between local and remote records.
type ConflictType string

const (
	ConflictDuplicateCustomer    ConflictType = "duplicate_customer"
	ConflictPaymentMismatch      ConflictType = "payment_mismatch"
	ConflictSubscriptionMismatch ConflictType = "subscription_mismatch"
	ConflictDataInconsistency    ConflictType = "data_inconsistency"
)

// Valid reports whether t is a known conflict type.
func (t ConflictType) Valid() bool {
	switch t {
	case ConflictDuplicateCustomer, ConflictPaymentMismatch, ConflictSubscriptionMismatch, ConflictDataInconsistency:
		return true
	}
	return false
}

// ConflictStatus is the resolution workflow state.
type ConflictStatus string

const (
	ConflictPending   ConflictStatus = "pending"
	ConflictResolving ConflictStatus = "resolving"
	ConflictResolved  ConflictStatus = "resolved"
	ConflictIgnored   ConflictStatus = "ignored"
)

// Terminal reports whether no further resolution can be applied.
func (s ConflictStatus) Terminal() bool {
	return s == ConflictResolved || s == ConflictIgnored
}

// Valid reports whether s is a known conflict status.
func (s ConflictStatus) Valid() bool {
	switch s {
	case ConflictPending, ConflictResolving, ConflictResolved, ConflictIgnored:
		return true
	}
	return false
}

// ResolutionAction is the operator decision applied to a conflict.
type ResolutionAction string

const (
	ActionIgnore ResolutionAction = "ignore"
	ActionLink   ResolutionAction = "link"
	ActionMerge  ResolutionAction = "merge"
)

// ConflictRefs are the lookup-only references of a conflict. At least one
// must be populated.
type ConflictRefs struct {
	LocalCustomerID      string `json:"local_customer_id,omitempty"`
	RemoteCustomerID     string `json:"remote_customer_id,omitempty"`
	RemotePaymentID      string `json:"remote_payment_id,omitempty"`
	RemoteSubscriptionID string `json:"remote_subscription_id,omitempty"`
}

// Empty reports whether no reference is populated.
func (r ConflictRefs) Empty() bool {
	return r.LocalCustomerID == "" && r.RemoteCustomerID == "" &&
		r.RemotePaymentID == "" && r.RemoteSubscriptionID == ""
}

// Contains reports whether id is one of the populated references.
func (r ConflictRefs) Contains(id string) bool {
	if id == "" {
		return false
	}
	return id == r.LocalCustomerID || id == r.RemoteCustomerID ||
		id == r.RemotePaymentID || id == r.RemoteSubscriptionID
}

// ConflictDedupKey identifies "the same" disagreement: the type plus the
// exact set of populated references.
func ConflictDedupKey(t ConflictType, r ConflictRefs) string {
	return dedupHash(string(t), r.LocalCustomerID, r.RemoteCustomerID, r.RemotePaymentID, r.RemoteSubscriptionID)
}

// CustomerPairKey identifies an unordered pair of local customers.
func CustomerPairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return dedupHash(string(ConflictDuplicateCustomer), a, b)
}

// Conflict is a detected disagreement between local and remote data awaiting
// (or carrying) an operator decision. Conflicts are never hard-deleted.
//
// PendingKey holds the dedup key while the conflict is pending or resolving
// and is NULL once terminal, so the unique index allows at most one open
// conflict per (type, refs). SubjectKey names the entities a conflict is
// about independently of its refs and survives resolution, so detectors can
// tell when an operator already decided on them.
type Conflict struct {
	ID                   string            `json:"id"                               gorm:"type:char(36);primaryKey"`
	Type                 ConflictType      `json:"type"                             gorm:"type:varchar(32);not null;index:idx_conflict_type_status,priority:1"`
	Status               ConflictStatus    `json:"status"                           gorm:"type:varchar(16);not null;index:idx_conflict_type_status,priority:2"`
	LocalCustomerID      *string           `json:"local_customer_id,omitempty"      gorm:"type:char(36);index"`
	RemoteCustomerID     *string           `json:"remote_customer_id,omitempty"     gorm:"type:varchar(64);index"`
	RemotePaymentID      *string           `json:"remote_payment_id,omitempty"      gorm:"type:varchar(64)"`
	RemoteSubscriptionID *string           `json:"remote_subscription_id,omitempty" gorm:"type:varchar(64)"`
	LocalData            datatypes.JSON    `json:"local_data,omitempty"`
	RemoteData           datatypes.JSON    `json:"remote_data,omitempty"`
	Field                *string           `json:"field,omitempty"                  gorm:"type:varchar(64)"`
	DetectionCount       int               `json:"detection_count"                  gorm:"not null;default:1"`
	PendingKey           *string           `json:"-"                                gorm:"type:varchar(64);uniqueIndex:ux_conflict_pending_key"`
	SubjectKey           *string           `json:"-"                                gorm:"type:varchar(64);index"`
	Resolution           *ResolutionAction `json:"resolution,omitempty"             gorm:"type:varchar(16)"`
	PrimaryEntityID      *string           `json:"primary_entity_id,omitempty"      gorm:"type:varchar(64)"`
	ResolvedAt           *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy           *string           `json:"resolved_by,omitempty"            gorm:"type:varchar(64)"`
	ResolutionNote       *string           `json:"resolution_note,omitempty"        gorm:"type:text"`
	CreatedAt            time.Time         `json:"created_at"                       gorm:"index"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Conflict.
func (Conflict) TableName() string { return "conflicts" }

// Refs returns the populated references as a value.
func (c Conflict) Refs() ConflictRefs {
	return ConflictRefs{
		LocalCustomerID:      deref(c.LocalCustomerID),
		RemoteCustomerID:     deref(c.RemoteCustomerID),
		RemotePaymentID:      deref(c.RemotePaymentID),
		RemoteSubscriptionID: deref(c.RemoteSubscriptionID),
	}
}

func dedupHash(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StrPtr returns nil for empty strings, or a pointer to s.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
