package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// AlertType classifies the health signal behind an alert.
type AlertType string

const (
	AlertAPIError           AlertType = "api_error"
	AlertSyncFailure        AlertType = "sync_failure"
	AlertRateLimit          AlertType = "rate_limit"
	AlertWebhookTimeout     AlertType = "webhook_timeout"
	AlertDuplicateDetection AlertType = "duplicate_detection"
	AlertDataIntegrity      AlertType = "data_integrity"
)

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertAPIError, AlertSyncFailure, AlertRateLimit, AlertWebhookTimeout, AlertDuplicateDetection, AlertDataIntegrity:
		return true
	}
	return false
}

// Severity is totally ordered: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the position of s in the severity order, 0 when unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// ParseSeverity accepts any casing of a known severity.
func ParseSeverity(v string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	return s, s.Valid()
}

// MaxSeverity returns the higher of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// AlertStatus is the operator lifecycle state of an alert.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertSuppressed   AlertStatus = "suppressed"
)

// Open reports whether alerts in this status still absorb new detections.
func (s AlertStatus) Open() bool {
	return s == AlertActive || s == AlertAcknowledged
}

// Valid reports whether s is a known alert status.
func (s AlertStatus) Valid() bool {
	return s.Open() || s == AlertResolved || s == AlertSuppressed
}

// AlertRefs are the optional entity references of an alert. Two detections
// are the same occurrence only when the populated subsets match exactly.
type AlertRefs struct {
	TenantID       string `json:"tenant_id,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	PaymentID      string `json:"payment_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	SyncRunID      string `json:"sync_run_id,omitempty"`
}

// AlertDedupKey is the composite dedup key of (type, refs).
func AlertDedupKey(t AlertType, r AlertRefs) string {
	return dedupHash(string(t), r.TenantID, r.CustomerID, r.PaymentID, r.SubscriptionID, r.SyncRunID)
}

// Alert is an operator-facing record of a health signal crossing a
// threshold. Repeated detections of the same (type, refs) while the alert is
// open increment Count and can only raise Severity.
//
// OpenKey holds the dedup key while the alert is active or acknowledged and
// is NULL once it is resolved or suppressed; its unique index makes the
// dedup lookup a single keyed read.
type Alert struct {
	ID              string         `json:"id"                        gorm:"type:char(36);primaryKey"`
	Type            AlertType      `json:"type"                      gorm:"type:varchar(32);not null;index:idx_alert_type_status,priority:1"`
	Severity        Severity       `json:"severity"                  gorm:"type:varchar(16);not null"`
	SeverityRank    int            `json:"-"                         gorm:"not null"`
	Status          AlertStatus    `json:"status"                    gorm:"type:varchar(16);not null;index:idx_alert_type_status,priority:2"`
	Title           string         `json:"title"                     gorm:"type:varchar(255);not null"`
	Message         string         `json:"message"                   gorm:"type:text"`
	Details         datatypes.JSON `json:"details,omitempty"`
	TenantID        *string        `json:"tenant_id,omitempty"       gorm:"type:varchar(64);index"`
	CustomerID      *string        `json:"customer_id,omitempty"     gorm:"type:varchar(64)"`
	PaymentID       *string        `json:"payment_id,omitempty"      gorm:"type:varchar(64)"`
	SubscriptionID  *string        `json:"subscription_id,omitempty" gorm:"type:varchar(64)"`
	SyncRunID       *string        `json:"sync_run_id,omitempty"     gorm:"type:varchar(64)"`
	Count           int            `json:"count"                     gorm:"column:occurrences;not null;default:1"`
	FirstSeenAt     time.Time      `json:"first_seen_at"             gorm:"not null"`
	LastSeenAt      time.Time      `json:"last_seen_at"              gorm:"not null;index"`
	SuppressedUntil *time.Time     `json:"suppressed_until,omitempty"`
	AcknowledgedAt  *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  *string        `json:"acknowledged_by,omitempty" gorm:"type:varchar(64)"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy      *string        `json:"resolved_by,omitempty"     gorm:"type:varchar(64)"`
	ResolutionNote  *string        `json:"resolution_note,omitempty" gorm:"type:text"`
	OpenKey         *string        `json:"-"                         gorm:"type:varchar(64);uniqueIndex:ux_alert_open_key"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Alert.
func (Alert) TableName() string { return "alerts" }

// Refs returns the populated references as a value.
func (a Alert) Refs() AlertRefs {
	return AlertRefs{
		TenantID:       deref(a.TenantID),
		CustomerID:     deref(a.CustomerID),
		PaymentID:      deref(a.PaymentID),
		SubscriptionID: deref(a.SubscriptionID),
		SyncRunID:      deref(a.SyncRunID),
	}
}
